package server

import (
	"strings"

	"github.com/Tyrowin/gochat-relay/internal/protocol"
	"github.com/Tyrowin/gochat-relay/internal/registry"
)

// Session is a connection as seen by the dispatcher: a registry.Conn that
// may be bound to one user id.
type Session interface {
	registry.Conn
	UserID() protocol.ID
	BindUser(userID protocol.ID)
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
