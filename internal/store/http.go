package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const maxResponseBytes = 1 << 20

type messageBody struct {
	Message    string   `json:"message"`
	Recipients []string `json:"recipients"`
	SenderID   string   `json:"sender_id"`
	ID         string   `json:"id,omitempty"`
}

// HTTPStore talks to a REST message store: both operations POST to
// {baseURL}/messages with a bearer token, and a create responds with the
// new thread's "id".
type HTTPStore struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

var _ Store = (*HTTPStore)(nil)

func NewHTTPStore(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPStore {
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "store_http")),
	}
}

func (s *HTTPStore) CreateThread(ctx context.Context, msg Message, token string) (string, error) {
	body, err := s.post(ctx, messageBody{
		Message:    msg.Text,
		Recipients: msg.Recipients,
		SenderID:   msg.SenderID,
	}, token)
	if err != nil {
		return "", err
	}

	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.String() == "" {
		return "", ErrMissingThreadID
	}
	return id.String(), nil
}

func (s *HTTPStore) AppendMessage(ctx context.Context, msg Message, token string) error {
	if msg.ThreadID == "" {
		return ErrThreadIDRequired
	}
	_, err := s.post(ctx, messageBody{
		Message:    msg.Text,
		Recipients: msg.Recipients,
		SenderID:   msg.SenderID,
		ID:         msg.ThreadID,
	}, token)
	return err
}

func (s *HTTPStore) post(ctx context.Context, payload messageBody, token string) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode store request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/messages", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Debug("Store answered with an error status",
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return body, nil
}
