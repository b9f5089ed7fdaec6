// Package registry tracks live connections by user and by thread
// membership. It is the single source of truth for whether a user is
// reachable right now.
package registry

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Conn is a live transport channel that can receive encoded envelopes.
// Send must not block and reports false once the connection no longer
// accepts writes.
type Conn interface {
	ID() string
	Send(payload []byte) bool
}

// Registry holds two relations: the online map (one connection per user)
// and thread membership (many-to-many). Membership entries are never pruned
// when a user goes offline, so a connection found here may already be
// closed; Conn.Send carries the liveness check.
type Registry struct {
	mu      sync.RWMutex
	online  map[string]Conn
	threads map[string]map[string]Conn

	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		online:  make(map[string]Conn),
		threads: make(map[string]map[string]Conn),
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Register makes conn the online connection of userID and returns the one
// it replaced, if any. The replaced connection is left open.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.online[userID]
	r.online[userID] = conn
	if previous != nil && previous != conn {
		r.logger.Debug("Online connection replaced",
			slog.String("userID", userID),
			slog.String("previousConnID", previous.ID()),
			slog.String("connID", conn.ID()))
	}
	return previous
}

// Unregister drops userID from the online map. Thread memberships are kept.
func (r *Registry) Unregister(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.online[userID]; !ok {
		return false
	}
	delete(r.online, userID)
	return true
}

// JoinThread records conn as userID's connection in threadID. Repeated calls
// overwrite the entry.
func (r *Registry) JoinThread(threadID, userID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.threads[threadID]
	if !ok {
		members = make(map[string]Conn)
		r.threads[threadID] = members
	}
	members[userID] = conn
}

func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.online[userID]
	return conn, ok
}

func (r *Registry) LookupInThread(threadID, userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.threads[threadID][userID]
	return conn, ok
}

// Online returns a snapshot of every online connection.
func (r *Registry) Online() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.online)
}

// Members returns a snapshot of the connections joined to threadID. An
// unknown thread yields an empty snapshot.
func (r *Registry) Members(threadID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.threads[threadID])
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.online)
}

func (r *Registry) ThreadCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.threads)
}

// Deliver writes payload to every connection that still accepts writes and
// returns how many did. Failed writes are dropped silently.
func Deliver(payload []byte, conns ...Conn) int {
	return lo.CountBy(conns, func(conn Conn) bool {
		return conn != nil && conn.Send(payload)
	})
}
