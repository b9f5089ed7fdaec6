package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides which browser origins may open a websocket. Entries
// compare on lower-cased scheme://host[:port]; "*" admits any well-formed
// origin. A request without an Origin header is always refused.
type OriginPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	logger   *slog.Logger
}

// NewOriginPolicy builds the allow-list from configured origins, skipping
// blank and unparsable entries.
func NewOriginPolicy(origins []string, logger *slog.Logger) *OriginPolicy {
	policy := &OriginPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		logger:  logger.With(slog.String("component", "origin")),
	}

	for _, entry := range origins {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case entry == "*":
			policy.allowAll = true
		default:
			origin, ok := canonicalOrigin(entry)
			if !ok {
				policy.logger.Warn("Ignoring invalid origin in configuration", slog.String("origin", entry))
				continue
			}
			policy.allowed[origin] = struct{}{}
		}
	}

	return policy
}

// Allows reports whether r carries an admitted Origin header.
func (p *OriginPolicy) Allows(r *http.Request) bool {
	origin, ok := canonicalOrigin(r.Header.Get("Origin"))
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, ok = p.allowed[origin]
	return ok
}

// CheckOrigin has the shape websocket.Upgrader expects and logs refusals.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	if p.Allows(r) {
		return true
	}

	p.logger.Warn("Blocked WebSocket connection from disallowed origin",
		slog.String("origin", r.Header.Get("Origin")),
		slog.String("remoteAddr", r.RemoteAddr))
	return false
}

func canonicalOrigin(raw string) (string, bool) {
	if raw == "" {
		return "", false
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
