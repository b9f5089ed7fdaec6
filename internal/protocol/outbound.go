package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound envelope type tags.
const (
	TypeMessage          = "message"
	TypeOnlineStatus     = "online_status"
	TypeTyping           = "typing"
	TypeError            = "error"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice-candidate"
	TypeCallNotification = "call_notification"
)

type Message struct {
	Type        string `json:"type"`
	SenderID    ID     `json:"senderId"`
	RecipientID ID     `json:"recipientId"`
	Message     string `json:"message"`
	ThreadID    ID     `json:"threadId"`
}

type OnlineStatus struct {
	Type   string `json:"type"`
	UserID ID     `json:"userId"`
	Online bool   `json:"online"`
}

type TypingStatus struct {
	Type   string `json:"type"`
	UserID ID     `json:"userId"`
	Typing bool   `json:"typing"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type RelayedOffer struct {
	Type     string          `json:"type"`
	Offer    json.RawMessage `json:"offer"`
	SenderID ID              `json:"senderId"`
	ThreadID ID              `json:"threadId"`
}

// RelayedAnswer is addressed back to the caller, so it names the recipient
// rather than the sender.
type RelayedAnswer struct {
	Type        string          `json:"type"`
	Answer      json.RawMessage `json:"answer"`
	RecipientID ID              `json:"recipientId"`
	ThreadID    ID              `json:"threadId"`
}

type RelayedCandidate struct {
	Type      string          `json:"type"`
	Candidate json.RawMessage `json:"candidate"`
	SenderID  ID              `json:"senderId"`
	ThreadID  ID              `json:"threadId"`
}

type CallNotification struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	SenderID    ID     `json:"senderId"`
	RecipientID ID     `json:"recipientId"`
	ThreadID    ID     `json:"threadId"`
}

func NewMessage(threadID, senderID, recipientID ID, text string) Message {
	return Message{Type: TypeMessage, SenderID: senderID, RecipientID: recipientID, Message: text, ThreadID: threadID}
}

func NewOnlineStatus(userID ID, online bool) OnlineStatus {
	return OnlineStatus{Type: TypeOnlineStatus, UserID: userID, Online: online}
}

func NewTypingStatus(userID ID, typing bool) TypingStatus {
	return TypingStatus{Type: TypeTyping, UserID: userID, Typing: typing}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

func NewCallNotification(message string, senderID, recipientID, threadID ID) CallNotification {
	return CallNotification{
		Type:        TypeCallNotification,
		Message:     message,
		SenderID:    senderID,
		RecipientID: recipientID,
		ThreadID:    threadID,
	}
}

// Encode marshals an outbound envelope into a websocket text frame.
func Encode(envelope any) ([]byte, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", envelope, err)
	}
	return payload, nil
}
