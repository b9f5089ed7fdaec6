package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
)

// Bridged is a message pushed in over HTTP by a legacy backend.
type Bridged struct {
	Sender    protocol.ID `json:"sender" validate:"required"`
	Recipient protocol.ID `json:"recipient" validate:"required"`
	Message   string      `json:"message" validate:"required"`
	Type      string      `json:"type"`
}

// Announce handles the legacy bridge path. It always opens a fresh thread
// through the store and, once the message is stored, broadcasts it to every
// online connection rather than to thread members. It runs synchronously
// and returns the new thread id.
func (r *Router) Announce(ctx context.Context, msg Bridged, token string) (protocol.ID, error) {
	r.wg.Add(1)
	defer r.wg.Done()

	out := Outgoing{
		SenderID:    msg.Sender,
		RecipientID: msg.Recipient,
		Text:        msg.Message,
		Token:       token,
	}

	threadID, err := r.createThread(ctx, out)
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	out.ThreadID = threadID

	if err := r.appendMessage(ctx, out); err != nil {
		return "", fmt.Errorf("append message to thread %s: %w", threadID, err)
	}

	delivered := r.deliver(out, r.registry.Online())
	r.logger.Info("Bridged message announced",
		slog.String("threadID", threadID.String()),
		slog.String("subject", msg.Type),
		slog.Int("delivered", delivered))
	return threadID, nil
}
