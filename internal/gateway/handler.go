package gateway

import (
	"encoding/json"
	"mime"
	"net/http"
	"runtime/debug"
	"strings"

	"relaybot/internal/relay"
	logx "relaybot/pkg/logx"
)

const maxBodyBytes = 64 << 10

// apiKeyHeader is the shared-secret header checked on POST.
const apiKeyHeader = "api-key"

type notifyPayload struct {
	Mode      string `json:"mode"`
	Message   string `json:"message"`
	Link      string `json:"link,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	// A panic while handling one request must not leak past the handler.
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic in request handler",
				logx.String("method", r.Method),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
	}()

	switch r.Method {
	case http.MethodGet:
		s.handleHealth(w, true)
	case http.MethodHead:
		s.handleHealth(w, false)
	case http.MethodPost:
		s.handlePost(w, r)
	default:
		s.log.Warn("unexpected method", logx.String("method", r.Method))
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleHealth serves uptime probes. No auth, no side effects.
func (s *Server) handleHealth(w http.ResponseWriter, withBody bool) {
	if s.ready() {
		if !withBody {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	if !withBody {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "initializing"})
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	// 1. Shared-secret check. Nothing else runs without it.
	key := r.Header.Get(apiKeyHeader)
	if key == "" || key != s.cfg.Secret {
		s.log.Warn("unauthorized delivery attempt", logx.String("key_snippet", redactKey(key)))
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	// 2. Body must be JSON and parseable.
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || ct != "application/json" {
		s.log.Warn("delivery request without JSON content type", logx.String("content_type", ct))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request must be JSON"})
		return
	}

	var p notifyPayload
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		s.log.Warn("delivery request with empty or invalid body", logx.Err(err))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid JSON body"})
		return
	}

	// 3. Required fields.
	mode := relay.Mode(strings.TrimSpace(p.Mode))
	message := p.Message
	if mode == "" || strings.TrimSpace(message) == "" {
		s.log.Warn("delivery request missing fields",
			logx.String("mode", string(mode)), logx.Bool("has_message", strings.TrimSpace(message) != ""))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing 'mode' or 'message' fields"})
		return
	}
	if mode != relay.ModeDM && mode != relay.ModeChannel {
		s.log.Warn("delivery request with unknown mode", logx.String("mode", string(mode)))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be \"dm\" or \"channel\""})
		return
	}

	// A missing correlated id (user_id for dm, channel_id for channel) is
	// accepted here; the delivery loop logs a warning and no-ops. See
	// DESIGN.md for the rationale.

	// 4. Readiness gate. The loop re-checks by construction (queue is only
	// drained while Ready), so a stale read here is harmless.
	if !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "service unavailable, still initializing"})
		return
	}

	// 5. Hand off and answer before any platform round trip.
	s.schedule(relay.DeliveryRequest{
		Mode:      mode,
		Message:   message,
		Link:      p.Link,
		UserID:    p.UserID,
		ChannelID: p.ChannelID,
	})
	s.log.Info("delivery queued", logx.String("mode", string(mode)), logx.String("target", targetOf(mode, p)))
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func targetOf(mode relay.Mode, p notifyPayload) string {
	if mode == relay.ModeChannel {
		return p.ChannelID
	}
	return p.UserID
}

// redactKey keeps enough of a wrong key to debug without logging the secret.
func redactKey(key string) string {
	if key == "" {
		return "none"
	}
	if len(key) <= 5 {
		return key + "..."
	}
	return key[:5] + "..."
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
