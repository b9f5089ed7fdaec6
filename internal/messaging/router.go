// Package messaging routes chat messages into threads. Thread ids are
// minted by the external store only; confirmed messages are fanned out to
// whoever is connected to the thread at that moment.
package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/registry"
	"github.com/Tyrowin/gochat-relay/internal/store"
	"github.com/Tyrowin/gochat-relay/internal/telemetry"
)

// ThreadCreationFailed is sent to the recipient when a new thread could not
// be opened.
const ThreadCreationFailed = "Failed to create a new message thread. Please try again."

// Outgoing is a message received from a sender's connection. An empty
// ThreadID asks for a new thread.
type Outgoing struct {
	ThreadID    protocol.ID
	SenderID    protocol.ID
	RecipientID protocol.ID
	Text        string
	Token       string
}

func (o Outgoing) storeMessage() store.Message {
	return store.Message{
		ThreadID:   o.ThreadID.String(),
		Text:       o.Text,
		Recipients: []string{o.RecipientID.String()},
		SenderID:   o.SenderID.String(),
	}
}

type Router struct {
	store    store.Store
	registry *registry.Registry
	timeout  time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	ctx context.Context
	wg  sync.WaitGroup

	mu     sync.Mutex
	queues map[protocol.ID][]Outgoing
}

// NewRouter builds a router whose background store calls are bounded by
// timeout each and abandoned when ctx is cancelled.
func NewRouter(ctx context.Context, s store.Store, reg *registry.Registry, timeout time.Duration, metrics *telemetry.Metrics, logger *slog.Logger) *Router {
	return &Router{
		store:    s,
		registry: reg,
		timeout:  timeout,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "message_router")),
		ctx:      ctx,
		queues:   make(map[protocol.ID][]Outgoing),
	}
}

// Send queues msg behind the sender's earlier messages and returns at once.
// Each sender has at most one worker, so a sender's messages reach the store
// and the thread in the order they were sent.
func (r *Router) Send(msg Outgoing) {
	r.mu.Lock()
	pending, busy := r.queues[msg.SenderID]
	r.queues[msg.SenderID] = append(pending, msg)
	r.mu.Unlock()

	if busy {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.drain(msg.SenderID)
	}()
}

// drain processes senderID's queue until it is empty, then retires it.
func (r *Router) drain(senderID protocol.ID) {
	for {
		r.mu.Lock()
		pending := r.queues[senderID]
		if len(pending) == 0 {
			delete(r.queues, senderID)
			r.mu.Unlock()
			return
		}
		msg := pending[0]
		r.queues[senderID] = pending[1:]
		r.mu.Unlock()

		r.route(msg)
	}
}

func (r *Router) route(msg Outgoing) {
	if msg.ThreadID == "" {
		r.createThenAppend(msg)
		return
	}
	r.appendAndFanOut(msg)
}

// Wait blocks until every in-flight Send has completed.
func (r *Router) Wait() {
	r.wg.Wait()
}

// createThenAppend opens a thread through the store. On failure the
// recipient, not the sender, is told; there is no retry.
func (r *Router) createThenAppend(msg Outgoing) {
	threadID, err := r.createThread(r.ctx, msg)
	if err != nil {
		r.logger.Error("Error creating thread",
			slog.String("senderID", msg.SenderID.String()),
			slog.String("recipientID", msg.RecipientID.String()),
			slog.Any("error", err))
		r.notifyRecipient(msg.RecipientID, ThreadCreationFailed)
		return
	}

	msg.ThreadID = threadID
	r.appendAndFanOut(msg)
}

// appendAndFanOut persists msg and delivers it to the thread's members. A
// store failure is logged only; the sender hears nothing.
func (r *Router) appendAndFanOut(msg Outgoing) {
	if err := r.appendMessage(r.ctx, msg); err != nil {
		r.logger.Error("Error sending message",
			slog.String("threadID", msg.ThreadID.String()),
			slog.String("senderID", msg.SenderID.String()),
			slog.Any("error", err))
		return
	}

	members := r.registry.Members(msg.ThreadID.String())
	if len(members) == 0 {
		r.logger.Warn("No clients found for thread", slog.String("threadID", msg.ThreadID.String()))
		return
	}
	r.deliver(msg, members)
}

func (r *Router) deliver(msg Outgoing, conns []registry.Conn) int {
	payload, err := protocol.Encode(protocol.NewMessage(msg.ThreadID, msg.SenderID, msg.RecipientID, msg.Text))
	if err != nil {
		r.logger.Error("Failed to encode message", slog.Any("error", err))
		return 0
	}

	delivered := registry.Deliver(payload, conns...)
	r.metrics.Delivered(r.ctx, protocol.TypeMessage, delivered)
	r.logger.Debug("Message fanned out",
		slog.String("threadID", msg.ThreadID.String()),
		slog.Int("targets", len(conns)),
		slog.Int("delivered", delivered))
	return delivered
}

func (r *Router) notifyRecipient(recipientID protocol.ID, text string) {
	conn, ok := r.registry.Lookup(recipientID.String())
	if !ok {
		return
	}
	payload, err := protocol.Encode(protocol.NewError(text))
	if err != nil {
		r.logger.Error("Failed to encode error envelope", slog.Any("error", err))
		return
	}
	r.metrics.Delivered(r.ctx, protocol.TypeError, registry.Deliver(payload, conn))
}

func (r *Router) createThread(parent context.Context, msg Outgoing) (protocol.ID, error) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	started := time.Now()
	threadID, err := r.store.CreateThread(ctx, msg.storeMessage(), msg.Token)
	r.metrics.StoreCall(r.ctx, "create_thread", time.Since(started).Seconds(), err)
	return protocol.ID(threadID), err
}

func (r *Router) appendMessage(parent context.Context, msg Outgoing) error {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	started := time.Now()
	err := r.store.AppendMessage(ctx, msg.storeMessage(), msg.Token)
	r.metrics.StoreCall(r.ctx, "append_message", time.Since(started).Seconds(), err)
	return err
}
