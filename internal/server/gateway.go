package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Tyrowin/gochat-relay/internal/messaging"
	"github.com/Tyrowin/gochat-relay/internal/presence"
	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/registry"
	"github.com/Tyrowin/gochat-relay/internal/signaling"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
	"github.com/Tyrowin/gochat-relay/internal/typing"
)

// Gateway turns decoded client envelopes into calls on the owning component.
type Gateway struct {
	registry *registry.Registry
	presence *presence.Tracker
	typing   *typing.Tracker
	router   *messaging.Router
	relay    *signaling.Relay
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewGateway(
	reg *registry.Registry,
	presenceTracker *presence.Tracker,
	typingTracker *typing.Tracker,
	router *messaging.Router,
	relay *signaling.Relay,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		registry: reg,
		presence: presenceTracker,
		typing:   typingTracker,
		router:   router,
		relay:    relay,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

// Dispatch decodes one frame received on session and applies it. Frames
// that cannot be decoded are logged and dropped; the connection stays open.
func (g *Gateway) Dispatch(ctx context.Context, session Session, frame []byte) {
	in, err := protocol.Decode(frame)
	if err != nil {
		g.metrics.FrameRejected(ctx, rejectReason(err))
		g.logger.Warn("Dropping inbound frame",
			slog.String("connID", session.ID()),
			slog.Any("error", err))
		return
	}
	g.metrics.FrameReceived(ctx, string(in.Kind()))

	switch msg := in.(type) {
	case *protocol.UserConnected:
		if previous := session.UserID(); previous != "" && previous != msg.UserID {
			g.release(ctx, session, previous)
		}
		session.BindUser(msg.UserID)
		g.presence.Connect(ctx, msg.UserID, session)

	case *protocol.JoinThread:
		user, ok := g.actingUser(session, msg.UserID, in.Kind())
		if !ok {
			return
		}
		g.registry.JoinThread(msg.ThreadID.String(), user.String(), session)

	case *protocol.SendMessage:
		sender := session.UserID()
		if sender == "" {
			g.ignoreInert(session, in.Kind())
			return
		}
		g.router.Send(messaging.Outgoing{
			ThreadID:    msg.ThreadID,
			SenderID:    sender,
			RecipientID: msg.RecipientID,
			Text:        msg.Message,
			Token:       msg.Token,
		})

	case *protocol.Typing:
		user, ok := g.actingUser(session, msg.UserID, in.Kind())
		if !ok {
			return
		}
		g.typing.MarkTyping(msg.ThreadID, user)

	case *protocol.Offer:
		g.relay.Offer(ctx, msg)

	case *protocol.Answer:
		g.relay.Answer(ctx, msg)

	case *protocol.ICECandidate:
		g.relay.ICECandidate(ctx, msg)

	case *protocol.CallInitiated:
		g.relay.CallInitiated(ctx, msg)

	default:
		g.logger.Warn("No handler for envelope", slog.String("type", string(in.Kind())))
	}
}

// Disconnect takes the session's user offline. Sessions that never sent
// user_connected leave no trace.
func (g *Gateway) Disconnect(ctx context.Context, session Session) {
	g.presence.Disconnect(ctx, session.UserID())
}

// release takes userID offline when session is still its online
// connection. A user who has since connected elsewhere is left alone.
func (g *Gateway) release(ctx context.Context, session Session, userID protocol.ID) {
	conn, ok := g.registry.Lookup(userID.String())
	if !ok || conn != session {
		return
	}
	g.logger.Info("Session switched user; releasing previous user",
		slog.String("connID", session.ID()),
		slog.String("previousUserID", userID.String()))
	g.presence.Disconnect(ctx, userID)
}

// actingUser returns the user session is bound to. Envelopes always act
// for that user; a differing userId in the payload is ignored.
func (g *Gateway) actingUser(session Session, claimed protocol.ID, kind protocol.Kind) (protocol.ID, bool) {
	bound := session.UserID()
	if bound == "" {
		g.ignoreInert(session, kind)
		return "", false
	}
	if claimed != bound {
		g.logger.Debug("Payload names another user; acting for the bound user",
			slog.String("type", string(kind)),
			slog.String("connID", session.ID()),
			slog.String("boundUserID", bound.String()),
			slog.String("userID", claimed.String()))
	}
	return bound, true
}

func (g *Gateway) ignoreInert(session Session, kind protocol.Kind) {
	g.logger.Debug("Ignoring envelope from unidentified connection",
		slog.String("type", string(kind)),
		slog.String("connID", session.ID()))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrInvalidEnvelope):
		return "invalid_envelope"
	default:
		return "malformed"
	}
}
