package registry_test

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/Tyrowin/gochat-relay/internal/registry"
	"github.com/Tyrowin/gochat-relay/internal/registry/registrytest"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *registry.Registry {
	return registry.New(slog.New(slog.DiscardHandler))
}

func TestRegistry_Register(t *testing.T) {
	t.Run("should keep the most recently registered connection", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		first := registrytest.NewConn("c1")
		second := registrytest.NewConn("c2")

		req.Nil(r.Register("alice", first))
		req.Equal(first, r.Register("alice", second))

		conn, ok := r.Lookup("alice")
		req.True(ok)
		req.Equal(second, conn)
		req.Equal(1, r.OnlineCount())
	})

	t.Run("should not close the replaced connection", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		first := registrytest.NewConn("c1")

		r.Register("alice", first)
		r.Register("alice", registrytest.NewConn("c2"))

		req.True(first.Send([]byte(`{}`)))
	})

	t.Run("should report unknown users as unreachable", func(t *testing.T) {
		_, ok := newTestRegistry().Lookup("nobody")
		require.False(t, ok)
	})
}

func TestRegistry_Unregister(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry()
	conn := registrytest.NewConn("c1")

	r.Register("alice", conn)
	r.JoinThread("7", "alice", conn)

	req.True(r.Unregister("alice"))
	req.False(r.Unregister("alice"))

	_, ok := r.Lookup("alice")
	req.False(ok)

	// Thread membership is left in place after going offline.
	member, ok := r.LookupInThread("7", "alice")
	req.True(ok)
	req.Equal(conn, member)
}

func TestRegistry_JoinThread(t *testing.T) {
	t.Run("should be idempotent", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		conn := registrytest.NewConn("c1")

		r.JoinThread("7", "alice", conn)
		r.JoinThread("7", "alice", conn)

		req.Len(r.Members("7"), 1)
		req.Equal(1, r.ThreadCount())
	})

	t.Run("should overwrite the member connection", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		newer := registrytest.NewConn("c2")

		r.JoinThread("7", "alice", registrytest.NewConn("c1"))
		r.JoinThread("7", "alice", newer)

		conn, ok := r.LookupInThread("7", "alice")
		req.True(ok)
		req.Equal(newer, conn)
	})

	t.Run("should let a user belong to many threads", func(t *testing.T) {
		req := require.New(t)
		r := newTestRegistry()
		conn := registrytest.NewConn("c1")

		r.JoinThread("7", "alice", conn)
		r.JoinThread("8", "alice", conn)
		r.JoinThread("8", "bob", registrytest.NewConn("c2"))

		req.Len(r.Members("7"), 1)
		req.Len(r.Members("8"), 2)
		req.Empty(r.Members("9"))
	})
}

func TestDeliver(t *testing.T) {
	req := require.New(t)
	open := registrytest.NewConn("open")
	closed := registrytest.NewConn("closed")
	closed.Close()

	delivered := registry.Deliver([]byte(`{"type":"typing"}`), open, closed, nil)

	req.Equal(1, delivered)
	req.Len(open.Frames(), 1)
	req.Empty(closed.Frames())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", id%10)
			conn := registrytest.NewConn(fmt.Sprintf("conn-%d", id))
			r.Register(user, conn)
			r.JoinThread("lobby", user, conn)
			registry.Deliver([]byte(`{}`), r.Members("lobby")...)
			r.Online()
			if id%3 == 0 {
				r.Unregister(user)
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, r.Members("lobby"), 10)
}
