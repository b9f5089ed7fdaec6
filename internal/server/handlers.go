package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat-relay/internal/messaging"
	"github.com/Tyrowin/gochat-relay/internal/protocol"
)

// WebSocketHandler upgrades GET requests from admitted origins to a
// websocket and hands the new client to hub, which starts its pumps.
func WebSocketHandler(hub *Hub, origins *OriginPolicy) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.CheckOrigin,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Warn("WebSocket upgrade failed",
				slog.String("remoteAddr", r.RemoteAddr),
				slog.Any("error", err))
			return
		}

		client := NewClient(conn, hub, r.RemoteAddr)
		if !hub.Register(client) {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			_ = conn.Close()
		}
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat relay is running!")
}

type bridgeResponse struct {
	Status   string      `json:"status"`
	Message  string      `json:"message"`
	ThreadID protocol.ID `json:"threadId,omitempty"`
}

// BridgeHandler accepts {sender, message, type, recipient} from a legacy
// backend, stores it as a new thread and announces it to everyone online.
// A bearer token, when present, is forwarded to the store.
func BridgeHandler(router *messaging.Router, logger *slog.Logger) http.HandlerFunc {
	logger = logger.With(slog.String("component", "bridge"))

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, logger, http.StatusMethodNotAllowed, bridgeResponse{Status: "error", Message: "Method not allowed"})
			return
		}

		cfg := currentConfig()
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxMessageSize)

		var msg messaging.Bridged
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			logger.Warn("Invalid bridge body", slog.Any("error", err))
			writeJSON(w, logger, http.StatusBadRequest, bridgeResponse{Status: "error", Message: "Invalid request body"})
			return
		}
		if err := validate.Struct(msg); err != nil {
			logger.Warn("Incomplete bridge body", slog.Any("error", err))
			writeJSON(w, logger, http.StatusBadRequest, bridgeResponse{Status: "error", Message: "sender, recipient and message are required"})
			return
		}

		threadID, err := router.Announce(r.Context(), msg, bearerToken(r))
		if err != nil {
			logger.Error("Bridge message failed",
				slog.String("sender", msg.Sender.String()),
				slog.String("recipient", msg.Recipient.String()),
				slog.Any("error", err))
			writeJSON(w, logger, http.StatusBadGateway, bridgeResponse{Status: "error", Message: "Failed to send message"})
			return
		}

		writeJSON(w, logger, http.StatusOK, bridgeResponse{Status: "success", Message: "Message sent", ThreadID: threadID})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return ""
	}
	return strings.TrimSpace(token)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Error writing JSON response", slog.Any("error", err))
	}
}
