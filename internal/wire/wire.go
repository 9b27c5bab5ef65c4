// Package wire implements the simulcast-mpv wire codec: a closed,
// tagged-variant message type serialized as a single-line JSON object per
// SPEC_FULL.md §4.1, carried as WebSocket text frames.
//
// Every variant is represented by its own Go struct, held in the matching
// field of Message, so that callers get compile-time field checking instead of working with a
// loosely-typed map. Unknown variants decode into RawMessage and are
// forwarded unexamined by anything that only routes (the relay); anything
// that interprets messages (the client session) ignores them.
package wire

import (
	"encoding/json"
	"fmt"
)

// Type is the wire message discriminator carried in every envelope's "type" field.
type Type string

const (
	TypeHello        Type = "hello"
	TypeJoin         Type = "join"
	TypeJoined       Type = "joined"
	TypePeerJoined   Type = "peer_joined"
	TypePeerLeft     Type = "peer_left"
	TypeState        Type = "state"
	TypeSeek         Type = "seek"
	TypePause        Type = "pause"
	TypeResumeReq    Type = "resume_request"
	TypeResumeReady  Type = "resume_ready"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypeChat         Type = "chat"
	TypeBye          Type = "bye"
)

// ProtocolVersion is the integer exchanged in Hello/Join. A mismatch
// closes the connection cleanly per SPEC_FULL.md §6.
const ProtocolVersion = 1

// MaxChatLength bounds chat text length per SPEC_FULL.md §3 (ChatEntry).
const MaxChatLength = 500

// MemberInfo describes one room member as carried in Joined/PeerJoined.
type MemberInfo struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name,omitempty"`
}

// Hello is sent server->client once, immediately after accept.
type Hello struct {
	ProtocolVersion int    `json:"protocol_version"`
	MemberID        string `json:"member_id"`
	RepoURL         string `json:"repo_url,omitempty"`
	Welcome         string `json:"welcome,omitempty"`
}

// Join is sent client->server once, immediately after Hello.
type Join struct {
	RoomID          string `json:"room_id"`
	DisplayName     string `json:"display_name,omitempty"`
	ProtocolVersion int    `json:"protocol_version"`
}

// Joined confirms admission and lists current room membership.
type Joined struct {
	Members []MemberInfo `json:"members"`
}

// PeerJoined/PeerLeft announce room membership changes to existing members.
type PeerJoined struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name,omitempty"`
}

type PeerLeft struct {
	MemberID string `json:"member_id"`
	Name     string `json:"name,omitempty"`
}

// PlaybackState is a full snapshot of the sender's playback, per SPEC_FULL.md §3.
type PlaybackState struct {
	Paused           bool     `json:"paused"`
	PositionSeconds  float64  `json:"position_seconds"`
	MediaIdentifier  string   `json:"media_identifier"`
	DurationSeconds  *float64 `json:"duration_seconds,omitempty"`
}

// State carries a PlaybackState snapshot of the sender.
type State struct {
	PlaybackState
	// ResumeAtUnixMillis, when non-zero, schedules a barrier-coordinated
	// resume: despite the name it is not a wall-clock time but the
	// initiator's offset in milliseconds from sending this frame, which
	// each follower shortens by its one-way latency (§4.8 steps 3-4).
	ResumeAtUnixMillis int64 `json:"resume_at_unix_millis,omitempty"`
}

// Seek carries a new playback position and the sender's pause flag.
type Seek struct {
	PositionSeconds float64 `json:"position_seconds"`
	Paused          bool    `json:"paused"`
}

// Pause carries a boolean paused transition.
type Pause struct {
	Paused bool `json:"paused"`
}

// ResumeRequest announces the initiator's intent to resume.
type ResumeRequest struct {
	// InitiatorTag is a monotonic, wall-clock-irrelevant tag identifying
	// this particular barrier attempt, so late resume_ready replies from a
	// stale attempt can be discarded.
	InitiatorTag uint64 `json:"initiator_tag"`
}

// ResumeReady acknowledges readiness to resume for a given barrier attempt.
type ResumeReady struct {
	InitiatorTag uint64 `json:"initiator_tag"`
}

// Ping carries an opaque nonce and the sender's monotonic send time, in
// milliseconds since an arbitrary local epoch (only round-trips matter).
type Ping struct {
	TargetMemberID string `json:"target_member_id"`
	Nonce          uint64 `json:"nonce"`
	SendMonoMillis int64  `json:"send_mono_millis"`
}

// Pong echoes a Ping's nonce and send time so the asker can compute RTT.
type Pong struct {
	Nonce          uint64 `json:"nonce"`
	SendMonoMillis int64  `json:"send_mono_millis"`
}

// Chat carries a single length-limited UTF-8 chat message.
type Chat struct {
	Text string `json:"text"`
}

// Bye announces a graceful close.
type Bye struct {
	Reason string `json:"reason,omitempty"`
}

// Message is the sum type of every variant. Exactly one field is non-nil
// after Decode, matching the envelope's Type.
type Message struct {
	Type Type

	Hello         *Hello
	Join          *Join
	Joined        *Joined
	PeerJoined    *PeerJoined
	PeerLeft      *PeerLeft
	State         *State
	Seek          *Seek
	Pause         *Pause
	ResumeRequest *ResumeRequest
	ResumeReady   *ResumeReady
	Ping          *Ping
	Pong          *Pong
	Chat          *Chat
	Bye           *Bye

	// Raw holds the full decoded object for a variant this codec version
	// doesn't recognize, per the forward-compat rule in SPEC_FULL.md §4.1.
	Raw json.RawMessage

	// SenderMemberID is stamped by the relay onto every frame it
	// broadcasts or routes, identifying which room member originated it.
	// A client never sets this on frames it sends; the relay overwrites
	// whatever is present before re-encoding for distribution, so it
	// can't be spoofed by a peer. Empty on client->relay frames.
	SenderMemberID string `json:"-"`
}

// envelope is the wire shape: a flat object with "type" plus whatever
// fields the variant needs, merged in by Encode and split out by Decode.
type envelope struct {
	Type           Type   `json:"type"`
	SenderMemberID string `json:"sender_member_id,omitempty"`
}

// Encode serializes a Message to a single-line JSON object ready to be sent
// as one WebSocket text frame.
func Encode(msg Message) ([]byte, error) {
	var payload any
	switch msg.Type {
	case TypeHello:
		payload = msg.Hello
	case TypeJoin:
		payload = msg.Join
	case TypeJoined:
		payload = msg.Joined
	case TypePeerJoined:
		payload = msg.PeerJoined
	case TypePeerLeft:
		payload = msg.PeerLeft
	case TypeState:
		payload = msg.State
	case TypeSeek:
		payload = msg.Seek
	case TypePause:
		payload = msg.Pause
	case TypeResumeReq:
		payload = msg.ResumeRequest
	case TypeResumeReady:
		payload = msg.ResumeReady
	case TypePing:
		payload = msg.Ping
	case TypePong:
		payload = msg.Pong
	case TypeChat:
		payload = msg.Chat
	case TypeBye:
		payload = msg.Bye
	default:
		return nil, fmt.Errorf("wire: encode: unknown message type %q", msg.Type)
	}
	if payload == nil {
		return nil, fmt.Errorf("wire: encode: nil payload for message type %q", msg.Type)
	}

	// Marshal the payload, then splice in the "type" discriminator. The
	// payload structs never declare a "type" field themselves, so there is
	// no collision to resolve.
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %q: %w", msg.Type, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payloadBytes, &fields); err != nil {
		return nil, fmt.Errorf("wire: encode %q: %w", msg.Type, err)
	}
	if fields == nil {
		// A typed nil pointer marshals to "null".
		return nil, fmt.Errorf("wire: encode: nil payload for message type %q", msg.Type)
	}
	typeBytes, _ := json.Marshal(msg.Type)
	fields["type"] = typeBytes
	if msg.SenderMemberID != "" {
		senderBytes, _ := json.Marshal(msg.SenderMemberID)
		fields["sender_member_id"] = senderBytes
	}

	return json.Marshal(fields)
}

// Decode parses one line-delimited JSON object into a Message. A frame
// that isn't a JSON object, or is missing the "type" field, is a protocol
// error — the caller should treat a non-nil error as grounds to close the
// connection per SPEC_FULL.md §4.1.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("wire: decode: malformed frame: %w", err)
	}
	if env.Type == "" {
		return Message{}, fmt.Errorf("wire: decode: missing \"type\" field")
	}

	msg := Message{Type: env.Type, SenderMemberID: env.SenderMemberID}
	var err error
	switch env.Type {
	case TypeHello:
		msg.Hello = &Hello{}
		err = json.Unmarshal(data, msg.Hello)
	case TypeJoin:
		msg.Join = &Join{}
		err = json.Unmarshal(data, msg.Join)
	case TypeJoined:
		msg.Joined = &Joined{}
		err = json.Unmarshal(data, msg.Joined)
	case TypePeerJoined:
		msg.PeerJoined = &PeerJoined{}
		err = json.Unmarshal(data, msg.PeerJoined)
	case TypePeerLeft:
		msg.PeerLeft = &PeerLeft{}
		err = json.Unmarshal(data, msg.PeerLeft)
	case TypeState:
		msg.State = &State{}
		err = json.Unmarshal(data, msg.State)
	case TypeSeek:
		msg.Seek = &Seek{}
		err = json.Unmarshal(data, msg.Seek)
	case TypePause:
		msg.Pause = &Pause{}
		err = json.Unmarshal(data, msg.Pause)
	case TypeResumeReq:
		msg.ResumeRequest = &ResumeRequest{}
		err = json.Unmarshal(data, msg.ResumeRequest)
	case TypeResumeReady:
		msg.ResumeReady = &ResumeReady{}
		err = json.Unmarshal(data, msg.ResumeReady)
	case TypePing:
		msg.Ping = &Ping{}
		err = json.Unmarshal(data, msg.Ping)
	case TypePong:
		msg.Pong = &Pong{}
		err = json.Unmarshal(data, msg.Pong)
	case TypeChat:
		msg.Chat = &Chat{}
		err = json.Unmarshal(data, msg.Chat)
		if err == nil && len(msg.Chat.Text) > MaxChatLength {
			return Message{}, fmt.Errorf("wire: decode: chat text exceeds %d bytes", MaxChatLength)
		}
	case TypeBye:
		msg.Bye = &Bye{}
		err = json.Unmarshal(data, msg.Bye)
	default:
		// Forward-compat: unknown variants are carried unexamined.
		msg.Raw = json.RawMessage(append([]byte(nil), data...))
		return msg, nil
	}
	if err != nil {
		return Message{}, fmt.Errorf("wire: decode %q: %w", env.Type, err)
	}
	return msg, nil
}
