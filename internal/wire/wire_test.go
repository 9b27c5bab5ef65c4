package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	dur := 125.5
	cases := []Message{
		New(&Hello{ProtocolVersion: ProtocolVersion, MemberID: "m1", RepoURL: "https://example.org", Welcome: "hi"}),
		New(&Join{RoomID: "abc123", DisplayName: "alice", ProtocolVersion: ProtocolVersion}),
		New(&Joined{Members: []MemberInfo{{MemberID: "m1"}, {MemberID: "m2", Name: "bob"}}}),
		New(&PeerJoined{MemberID: "m2", Name: "bob"}),
		New(&PeerLeft{MemberID: "m2"}),
		New(&State{PlaybackState: PlaybackState{Paused: true, PositionSeconds: 42, MediaIdentifier: "movie.mkv", DurationSeconds: &dur}}),
		New(&Seek{PositionSeconds: 600, Paused: false}),
		New(&Pause{Paused: true}),
		New(&ResumeRequest{InitiatorTag: 7}),
		New(&ResumeReady{InitiatorTag: 7}),
		New(&Ping{TargetMemberID: "m2", Nonce: 99, SendMonoMillis: 12345}),
		New(&Pong{Nonce: 99, SendMonoMillis: 12345}),
		New(&Chat{Text: "hello room"}),
		New(&Bye{Reason: "done"}),
	}

	for _, original := range cases {
		data, err := Encode(original)
		require.NoError(t, err, "encode %s", original.Type)

		decoded, err := Decode(data)
		require.NoError(t, err, "decode %s", original.Type)

		assert.Equal(t, original, decoded, "round-trip mismatch for %s", original.Type)
	}
}

func TestEncode_IncludesTypeField(t *testing.T) {
	data, err := Encode(New(&Pause{Paused: true}))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "pause", fields["type"])
	assert.Equal(t, true, fields["paused"])
}

func TestDecode_UnknownVariantIsIgnoredNotRejected(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"future_feature","some_field":123}`))
	require.NoError(t, err)
	assert.Equal(t, Type("future_feature"), msg.Type)
	assert.NotNil(t, msg.Raw)
}

func TestDecode_MissingTypeIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{"paused":true}`))
	assert.Error(t, err)
}

func TestDecode_MalformedJSONIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`not json at all`))
	assert.Error(t, err)
}

func TestDecode_ChatTooLongIsRejected(t *testing.T) {
	huge := make([]byte, MaxChatLength+1)
	for i := range huge {
		huge[i] = 'x'
	}
	data, err := json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{Type: "chat", Text: string(huge)})
	require.NoError(t, err)

	_, err = Decode(data)
	assert.Error(t, err)
}

func TestEncode_UnknownTypeErrors(t *testing.T) {
	_, err := Encode(Message{Type: "bogus"})
	assert.Error(t, err)
}
