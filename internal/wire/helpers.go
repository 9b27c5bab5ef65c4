package wire

// New wraps a payload value in a Message with the correct Type set,
// saving callers from having to set both fields consistently by hand.
func New(payload any) Message {
	switch p := payload.(type) {
	case *Hello:
		return Message{Type: TypeHello, Hello: p}
	case *Join:
		return Message{Type: TypeJoin, Join: p}
	case *Joined:
		return Message{Type: TypeJoined, Joined: p}
	case *PeerJoined:
		return Message{Type: TypePeerJoined, PeerJoined: p}
	case *PeerLeft:
		return Message{Type: TypePeerLeft, PeerLeft: p}
	case *State:
		return Message{Type: TypeState, State: p}
	case *Seek:
		return Message{Type: TypeSeek, Seek: p}
	case *Pause:
		return Message{Type: TypePause, Pause: p}
	case *ResumeRequest:
		return Message{Type: TypeResumeReq, ResumeRequest: p}
	case *ResumeReady:
		return Message{Type: TypeResumeReady, ResumeReady: p}
	case *Ping:
		return Message{Type: TypePing, Ping: p}
	case *Pong:
		return Message{Type: TypePong, Pong: p}
	case *Chat:
		return Message{Type: TypeChat, Chat: p}
	case *Bye:
		return Message{Type: TypeBye, Bye: p}
	default:
		panic("wire: New: unsupported payload type")
	}
}

// WithSender returns a copy of msg stamped with the given sender member
// ID. The relay calls this on every frame it broadcasts or routes so
// recipients can attribute it, overwriting anything a client might have
// set on its own outbound frame.
func WithSender(msg Message, memberID string) Message {
	msg.SenderMemberID = memberID
	return msg
}
