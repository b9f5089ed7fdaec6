package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

// Dispatcher receives every inbound frame of a session and is told when the
// session goes away. Gateway is the production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, session Session, frame []byte)
	Disconnect(ctx context.Context, session Session)
}

// Hub owns the lifecycle of all WebSocket clients: it starts their pumps on
// register, runs the disconnect hook on unregister, and closes everything on
// shutdown. Routing of envelopes is left to the Dispatcher.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}

	dispatcher Dispatcher
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// NewHub creates a Hub ready to manage WebSocket connections. Run must be
// started before clients are registered.
func NewHub(dispatcher Dispatcher, metrics *telemetry.Metrics, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "hub")),
	}
}

// Register hands client to the hub, which launches its pumps. It returns
// false once the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// unregisterClient is called by a client's read pump on exit. After shutdown
// the Run loop is gone, so it must not block.
func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("Received nil client registration; skipping")
				continue
			}
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mutex.Lock()
	h.clients[client] = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.ConnectionOpened(h.ctx)
	client.logger.Info("Client registered", slog.Int("clients", clientCount))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleUnregister(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
	}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if !ok {
		return
	}

	client.close()
	h.metrics.ConnectionClosed(h.ctx)
	client.logger.Info("Client unregistered", slog.Int("clients", clientCount))
	h.disconnect(client)
}

// dispatch runs on the client's read pump, so frames of one connection are
// applied in arrival order.
func (h *Hub) dispatch(client *Client, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			client.logger.Error("Recovered from panic in dispatch", slog.Any("panic", r))
		}
	}()
	h.dispatcher.Dispatch(h.ctx, client, frame)
}

func (h *Hub) disconnect(client *Client) {
	defer func() {
		if r := recover(); r != nil {
			client.logger.Error("Recovered from panic in disconnect", slog.Any("panic", r))
		}
	}()
	h.dispatcher.Disconnect(h.ctx, client)
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("Shutting down all client connections")

	h.mutex.Lock()
	clients := lo.Keys(h.clients)
	h.clients = make(map[*Client]bool)
	h.mutex.Unlock()

	for _, client := range clients {
		client.close()
		h.metrics.ConnectionClosed(h.ctx)
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			client.logger.Warn("Error closing client connection", slog.Any("error", err))
		}
	}

	h.logger.Info("Closed client connections", slog.Int("count", len(clients)))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("Initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
