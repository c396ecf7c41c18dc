package dsnet

import "github.com/google/uuid"

type MessageType string

const (
	MessageTypeRequest MessageType = "REQUEST"
	MessageTypeToken   MessageType = "TOKEN"
)

// Envelope is a single protocol message between two nodes.
// REQUEST envelopes carry the requester's sequence number, TOKEN envelopes
// carry the token itself in Payload.
type Envelope struct {
	ID       string
	Type     MessageType
	From     int
	To       int
	Sequence int
	Payload  any
}

func NewRequest(from, to, seq int) *Envelope {
	return &Envelope{
		ID:       uuid.NewString(),
		Type:     MessageTypeRequest,
		From:     from,
		To:       to,
		Sequence: seq,
	}
}

func NewToken(from, to int, token any) *Envelope {
	return &Envelope{
		ID:      uuid.NewString(),
		Type:    MessageTypeToken,
		From:    from,
		To:      to,
		Payload: token,
	}
}
