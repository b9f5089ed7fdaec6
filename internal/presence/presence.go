// Package presence derives online/offline state from registry mutations
// and broadcasts every transition to the users currently online.
package presence

import (
	"context"
	"log/slog"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/registry"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

type Tracker struct {
	registry *registry.Registry
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewTracker(reg *registry.Registry, metrics *telemetry.Metrics, logger *slog.Logger) *Tracker {
	return &Tracker{
		registry: reg,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "presence")),
	}
}

// Connect registers conn as the online connection of userID and announces
// the user to everyone online, the new connection included.
func (t *Tracker) Connect(ctx context.Context, userID protocol.ID, conn registry.Conn) {
	if previous := t.registry.Register(userID.String(), conn); previous != nil && previous != conn {
		t.logger.Info("User reconnected; previous connection orphaned",
			slog.String("userID", userID.String()),
			slog.String("previousConnID", previous.ID()))
	}
	t.broadcast(ctx, userID, true)
}

// Disconnect takes userID offline and tells the remaining online users.
// Connections that never identified themselves pass an empty id and have no
// observable effect.
func (t *Tracker) Disconnect(ctx context.Context, userID protocol.ID) {
	if userID == "" {
		return
	}
	t.registry.Unregister(userID.String())
	t.broadcast(ctx, userID, false)
}

func (t *Tracker) broadcast(ctx context.Context, userID protocol.ID, online bool) {
	payload, err := protocol.Encode(protocol.NewOnlineStatus(userID, online))
	if err != nil {
		t.logger.Error("Failed to encode online status", slog.Any("error", err))
		return
	}

	delivered := registry.Deliver(payload, t.registry.Online()...)
	t.metrics.PresenceChanged(ctx, online)
	t.metrics.Delivered(ctx, protocol.TypeOnlineStatus, delivered)
	t.logger.Debug("Online status broadcast",
		slog.String("userID", userID.String()),
		slog.Bool("online", online),
		slog.Int("delivered", delivered))
}
