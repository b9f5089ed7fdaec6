// Package store is the client side of the external message store that owns
// thread ids and message persistence.
package store

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

import (
	"context"
	"errors"
)

var (
	ErrUnavailable      = errors.New("message store unavailable")
	ErrRejected         = errors.New("message store rejected the request")
	ErrMissingThreadID  = errors.New("message store response carries no thread id")
	ErrThreadIDRequired = errors.New("thread id is required to append a message")
)

// Message is one chat message as the store sees it. ThreadID is empty when
// the message opens a new thread.
type Message struct {
	ThreadID   string
	Text       string
	Recipients []string
	SenderID   string
}

// Store persists messages and mints thread ids. The token is passed through
// untouched; its format belongs to the store.
type Store interface {
	CreateThread(ctx context.Context, msg Message, token string) (threadID string, err error)
	AppendMessage(ctx context.Context, msg Message, token string) error
}
