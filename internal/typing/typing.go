// Package typing keeps short-lived per-user typing flags. Each flag expires
// on its own unless refreshed, and both transitions are broadcast to the
// members of the thread the user is typing in.
package typing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/registry"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

const DefaultTTL = 3 * time.Second

type flag struct {
	threadID   protocol.ID
	setAt      time.Time
	timer      *time.Timer
	generation uint64
}

// Tracker holds at most one flag, and so at most one pending expiry, per
// user.
type Tracker struct {
	mu         sync.Mutex
	flags      map[protocol.ID]*flag
	generation uint64
	ttl        time.Duration

	registry *registry.Registry
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

func NewTracker(reg *registry.Registry, ttl time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		flags:    make(map[protocol.ID]*flag),
		ttl:      ttl,
		registry: reg,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "typing")),
	}
}

// MarkTyping sets or refreshes userID's flag and broadcasts typing=true to
// threadID's members right away. A pending expiry for the user is replaced;
// when the flag moves from another thread, that thread hears typing=false
// at once.
func (t *Tracker) MarkTyping(threadID, userID protocol.ID) {
	var moved protocol.ID

	t.mu.Lock()
	if previous, ok := t.flags[userID]; ok {
		previous.timer.Stop()
		if previous.threadID != threadID {
			moved = previous.threadID
		}
	}
	t.generation++
	generation := t.generation
	t.flags[userID] = &flag{
		threadID:   threadID,
		setAt:      time.Now(),
		generation: generation,
		timer: time.AfterFunc(t.ttl, func() {
			t.expire(userID, generation)
		}),
	}
	t.mu.Unlock()

	if moved != "" {
		t.broadcast(moved, userID, false)
	}
	t.broadcast(threadID, userID, true)
}

// IsTyping reports whether userID currently holds a flag.
func (t *Tracker) IsTyping(userID protocol.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.flags[userID]
	return ok
}

// Stop cancels every pending expiry without broadcasting.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for userID, f := range t.flags {
		f.timer.Stop()
		delete(t.flags, userID)
	}
}

// expire clears the flag unless a later MarkTyping superseded this timer.
func (t *Tracker) expire(userID protocol.ID, generation uint64) {
	t.mu.Lock()
	f, ok := t.flags[userID]
	if !ok || f.generation != generation {
		t.mu.Unlock()
		return
	}
	delete(t.flags, userID)
	t.mu.Unlock()

	t.metrics.TypingExpired(context.Background())
	t.logger.Debug("Typing flag expired",
		slog.String("userID", userID.String()),
		slog.Duration("held", time.Since(f.setAt)))
	t.broadcast(f.threadID, userID, false)
}

// broadcast resolves the thread's members at call time; a thread nobody
// joined yields an empty snapshot and nothing is sent.
func (t *Tracker) broadcast(threadID, userID protocol.ID, typing bool) {
	payload, err := protocol.Encode(protocol.NewTypingStatus(userID, typing))
	if err != nil {
		t.logger.Error("Failed to encode typing status", slog.Any("error", err))
		return
	}

	delivered := registry.Deliver(payload, t.registry.Members(threadID.String())...)
	t.metrics.Delivered(context.Background(), protocol.TypeTyping, delivered)
}
