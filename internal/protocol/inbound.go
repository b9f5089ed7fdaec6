package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrUnknownType     = errors.New("unknown envelope type")
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

var validate = validator.New()

// Kind is the value of the "type" discriminator of an envelope.
type Kind string

const (
	KindUserConnected Kind = "user_connected"
	KindJoinThread    Kind = "join_thread"
	KindSendMessage   Kind = "send_message"
	KindTyping        Kind = "typing"
	KindOffer         Kind = "offer"
	KindAnswer        Kind = "answer"
	KindICECandidate  Kind = "ice-candidate"
	KindCallInitiated Kind = "call_initiated"
)

// IsSignaling reports whether k is a WebRTC negotiation envelope.
func (k Kind) IsSignaling() bool {
	switch k {
	case KindOffer, KindAnswer, KindICECandidate:
		return true
	}
	return false
}

// KindOf reads the discriminator of frame without decoding the body. It
// returns "" when the frame has no string "type" field.
func KindOf(frame []byte) Kind {
	tag := gjson.GetBytes(frame, "type")
	if tag.Type != gjson.String {
		return ""
	}
	return Kind(tag.String())
}

// Inbound is one decoded client frame.
type Inbound interface {
	Kind() Kind
}

type UserConnected struct {
	UserID ID `json:"userId" validate:"required"`
}

type JoinThread struct {
	ThreadID ID `json:"threadId" validate:"required"`
	UserID   ID `json:"userId" validate:"required"`
}

// SendMessage carries a chat message. An empty ThreadID asks the store to
// open a new thread.
type SendMessage struct {
	RecipientID ID     `json:"recipientId" validate:"required"`
	Message     string `json:"message" validate:"required"`
	ThreadID    ID     `json:"threadId"`
	Token       string `json:"token" validate:"required"`
}

type Typing struct {
	ThreadID ID `json:"threadId" validate:"required"`
	UserID   ID `json:"userId" validate:"required"`
}

// Offer, Answer and ICECandidate keep the WebRTC payload as raw JSON so it
// is relayed without interpretation.
type Offer struct {
	Offer       json.RawMessage `json:"offer" validate:"required"`
	RecipientID ID              `json:"recipientId" validate:"required"`
	SenderID    ID              `json:"senderId" validate:"required"`
	ThreadID    ID              `json:"threadId" validate:"required"`
}

type Answer struct {
	Answer      json.RawMessage `json:"answer" validate:"required"`
	RecipientID ID              `json:"recipientId" validate:"required"`
	SenderID    ID              `json:"senderId" validate:"required"`
	ThreadID    ID              `json:"threadId" validate:"required"`
}

type ICECandidate struct {
	Candidate   json.RawMessage `json:"candidate" validate:"required"`
	RecipientID ID              `json:"recipientId" validate:"required"`
	SenderID    ID              `json:"senderId" validate:"required"`
	ThreadID    ID              `json:"threadId" validate:"required"`
}

type CallInitiated struct {
	SenderID    ID `json:"senderId" validate:"required"`
	RecipientID ID `json:"recipientId" validate:"required"`
	ThreadID    ID `json:"threadId" validate:"required"`
}

func (*UserConnected) Kind() Kind { return KindUserConnected }
func (*JoinThread) Kind() Kind    { return KindJoinThread }
func (*SendMessage) Kind() Kind   { return KindSendMessage }
func (*Typing) Kind() Kind        { return KindTyping }
func (*Offer) Kind() Kind         { return KindOffer }
func (*Answer) Kind() Kind        { return KindAnswer }
func (*ICECandidate) Kind() Kind  { return KindICECandidate }
func (*CallInitiated) Kind() Kind { return KindCallInitiated }

// Decode parses a single frame. The discriminator is read first so unknown
// kinds are rejected before the body is decoded.
func Decode(frame []byte) (Inbound, error) {
	if !gjson.ValidBytes(frame) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrMalformedFrame)
	}

	tag := gjson.GetBytes(frame, "type")
	if tag.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing string \"type\" field", ErrMalformedFrame)
	}

	in := newInbound(Kind(tag.String()))
	if in == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, tag.String())
	}

	if err := json.Unmarshal(frame, in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidEnvelope, tag.String(), err)
	}

	return in, nil
}

func newInbound(kind Kind) Inbound {
	switch kind {
	case KindUserConnected:
		return &UserConnected{}
	case KindJoinThread:
		return &JoinThread{}
	case KindSendMessage:
		return &SendMessage{}
	case KindTyping:
		return &Typing{}
	case KindOffer:
		return &Offer{}
	case KindAnswer:
		return &Answer{}
	case KindICECandidate:
		return &ICECandidate{}
	case KindCallInitiated:
		return &CallInitiated{}
	default:
		return nil
	}
}
