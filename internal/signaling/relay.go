// Package signaling forwards WebRTC call-setup payloads between two peers
// of a thread. Nothing is stored or buffered: a payload whose target is not
// connected to the thread is dropped.
package signaling

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/registry"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

type Relay struct {
	registry *registry.Registry
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewRelay(reg *registry.Registry, metrics *telemetry.Metrics, logger *slog.Logger) *Relay {
	return &Relay{
		registry: reg,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "signaling")),
	}
}

// Offer forwards an SDP offer to the recipient's connection in the thread.
func (r *Relay) Offer(ctx context.Context, in *protocol.Offer) bool {
	return r.forward(ctx, protocol.KindOffer, in.ThreadID, in.RecipientID, protocol.RelayedOffer{
		Type:     protocol.TypeOffer,
		Offer:    in.Offer,
		SenderID: in.SenderID,
		ThreadID: in.ThreadID,
	})
}

// Answer is routed to the connection of the answer's senderId, which
// clients set to the original caller, and names the recipient.
func (r *Relay) Answer(ctx context.Context, in *protocol.Answer) bool {
	return r.forward(ctx, protocol.KindAnswer, in.ThreadID, in.SenderID, protocol.RelayedAnswer{
		Type:        protocol.TypeAnswer,
		Answer:      in.Answer,
		RecipientID: in.RecipientID,
		ThreadID:    in.ThreadID,
	})
}

func (r *Relay) ICECandidate(ctx context.Context, in *protocol.ICECandidate) bool {
	return r.forward(ctx, protocol.KindICECandidate, in.ThreadID, in.RecipientID, protocol.RelayedCandidate{
		Type:      protocol.TypeICECandidate,
		Candidate: in.Candidate,
		SenderID:  in.SenderID,
		ThreadID:  in.ThreadID,
	})
}

// CallInitiated tells caller and recipient, each in their own words, that a
// call started. It returns how many of the two notifications were written.
func (r *Relay) CallInitiated(ctx context.Context, in *protocol.CallInitiated) int {
	callerText := fmt.Sprintf("You (%s) have called %s", in.SenderID, in.RecipientID)
	recipientText := fmt.Sprintf("%s has called you (%s)", in.SenderID, in.RecipientID)

	delivered := 0
	if r.forward(ctx, protocol.KindCallInitiated, in.ThreadID, in.SenderID,
		protocol.NewCallNotification(callerText, in.SenderID, in.RecipientID, in.ThreadID)) {
		delivered++
	}
	if r.forward(ctx, protocol.KindCallInitiated, in.ThreadID, in.RecipientID,
		protocol.NewCallNotification(recipientText, in.SenderID, in.RecipientID, in.ThreadID)) {
		delivered++
	}
	return delivered
}

func (r *Relay) forward(ctx context.Context, kind protocol.Kind, threadID, targetID protocol.ID, envelope any) bool {
	conn, ok := r.registry.LookupInThread(threadID.String(), targetID.String())
	if !ok {
		r.metrics.Signal(ctx, string(kind), false)
		r.logger.Debug("Signal target not in thread",
			slog.String("kind", string(kind)),
			slog.String("threadID", threadID.String()),
			slog.String("targetID", targetID.String()))
		return false
	}

	payload, err := protocol.Encode(envelope)
	if err != nil {
		r.logger.Error("Failed to encode signal", slog.String("kind", string(kind)), slog.Any("error", err))
		return false
	}

	delivered := registry.Deliver(payload, conn) == 1
	r.metrics.Signal(ctx, string(kind), delivered)
	return delivered
}
