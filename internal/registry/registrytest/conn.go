// Package registrytest provides a recording registry.Conn for tests.
package registrytest

import (
	"encoding/json"
	"sync"
	"testing"
)

// Conn records every accepted payload. A closed Conn rejects writes the way
// a half-closed websocket does.
type Conn struct {
	id string

	mu     sync.Mutex
	closed bool
	frames [][]byte
}

func NewConn(id string) *Conn {
	return &Conn{id: id}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return true
}

func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Frames returns a copy of the recorded payloads.
func (c *Conn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([][]byte(nil), c.frames...)
}

// Envelopes decodes every recorded payload into a generic map.
func (c *Conn) Envelopes(t testing.TB) []map[string]any {
	t.Helper()

	frames := c.Frames()
	envelopes := make([]map[string]any, 0, len(frames))
	for _, frame := range frames {
		var envelope map[string]any
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("recorded frame is not JSON: %v", err)
		}
		envelopes = append(envelopes, envelope)
	}
	return envelopes
}

// OfType returns the recorded envelopes whose "type" equals kind.
func (c *Conn) OfType(t testing.TB, kind string) []map[string]any {
	t.Helper()

	var matched []map[string]any
	for _, envelope := range c.Envelopes(t) {
		if envelope["type"] == kind {
			matched = append(matched, envelope)
		}
	}
	return matched
}

// Reset forgets the recorded payloads.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
