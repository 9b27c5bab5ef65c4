// Package roomid computes and parses RoomId, the 32-byte hash identifying
// a room, per SPEC_FULL.md §3 and §6.
//
//	RoomId = blake3(utf8(media_identifier) || utf8(shared_room_secret))
//
// rendered as 64 lowercase hex characters. The relay only ever sees the
// hash, never the media identifier or the shared secret that produced it.
package roomid

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the length of a RoomId in bytes.
const Size = 32

// RoomId is a 32-byte BLAKE3 digest identifying a room.
type RoomId [Size]byte

// Derive computes the RoomId for a given media identifier and shared
// secret. Identical inputs on two clients always produce identical IDs,
// satisfying the reproducibility invariant in SPEC_FULL.md §3.
func Derive(mediaIdentifier, sharedSecret string) RoomId {
	h := blake3.New()
	_, _ = h.Write([]byte(mediaIdentifier))
	_, _ = h.Write([]byte(sharedSecret))

	var id RoomId
	copy(id[:], h.Sum(nil))
	return id
}

// String renders the RoomId as 64 lowercase hex characters.
func (id RoomId) String() string {
	return hex.EncodeToString(id[:])
}

// Parse decodes 64 lowercase (or mixed-case) hex characters into a RoomId.
// Used by the relay to validate an incoming Join message per SPEC_FULL.md §4.3.
func Parse(s string) (RoomId, error) {
	if len(s) != Size*2 {
		return RoomId{}, fmt.Errorf("roomid: parse: expected %d hex characters, got %d", Size*2, len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return RoomId{}, fmt.Errorf("roomid: parse: %w", err)
	}
	var id RoomId
	copy(id[:], decoded)
	return id, nil
}
