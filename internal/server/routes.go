package server

import (
	"log/slog"
	"net/http"

	"github.com/Tyrowin/gochat-relay/internal/messaging"
)

// SetupRoutes configures and returns an HTTP ServeMux with all application routes:
// health check, websocket endpoint, and the legacy message bridge.
func SetupRoutes(hub *Hub, router *messaging.Router, origins *OriginPolicy, logger *slog.Logger) *http.ServeMux {
	logRequests := RequestLogger(logger.With(slog.String("component", "http")))

	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.Handle("/ws", Chain(WebSocketHandler(hub, origins), logRequests))
	mux.Handle("/send-message", Chain(BridgeHandler(router, logger), logRequests))
	return mux
}
