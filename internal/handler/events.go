package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/propertyflow/backend/internal/reliability/accessgate"
	"github.com/propertyflow/backend/internal/responsecache"
	"github.com/propertyflow/backend/internal/service"
)

// EventsHandler streams cache and gate state over WebSocket for the ops
// dashboard. Browsers cannot set an Authorization header on the upgrade
// request, so the token rides in a query parameter and is verified fresh,
// bypassing the auth cache.
type EventsHandler struct {
	auth           *service.AuthService
	cache          *responsecache.TieredCache
	gates          []*accessgate.Gate
	allowedOrigins []string
	interval       time.Duration
	logger         *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(authSvc *service.AuthService, cache *responsecache.TieredCache, gates []*accessgate.Gate, allowedOrigins []string, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		auth:           authSvc,
		cache:          cache,
		gates:          gates,
		allowedOrigins: allowedOrigins,
		interval:       5 * time.Second,
		logger:         logger,
	}
}

// GateState is one gate's snapshot inside an event frame
type GateState struct {
	Name     string `json:"name"`
	Active   int    `json:"active"`
	Failures int    `json:"failures"`
	Open     bool   `json:"open"`
}

// EventFrame is one periodic state snapshot pushed to clients
type EventFrame struct {
	Timestamp time.Time               `json:"timestamp"`
	L1        responsecache.TierStats `json:"l1"`
	L2        responsecache.TierStats `json:"l2"`
	AuthCache int                     `json:"auth_cache_entries"`
	Gates     []GateState             `json:"gates"`
}

func (h *EventsHandler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed || allowed == "*" {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// ServeHTTP handles GET /ws/events?token=... upgrades
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	identity, err := h.auth.VerifyOnly(r.Context(), token)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	if !identity.IsAdmin {
		http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
		return
	}

	upgrader := h.getUpgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	h.logger.Info("events stream opened", slog.String("user_id", identity.ID))

	// Reader goroutine drains control frames and signals close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.writeFrame(ws); err != nil {
		return
	}
	for {
		select {
		case <-done:
			h.logger.Info("events stream closed", slog.String("user_id", identity.ID))
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := h.writeFrame(ws); err != nil {
				h.logger.Debug("events stream write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (h *EventsHandler) writeFrame(ws *websocket.Conn) error {
	l1, l2 := h.cache.Stats()
	frame := EventFrame{
		Timestamp: time.Now().UTC(),
		L1:        l1,
		L2:        l2,
		AuthCache: h.auth.CacheSize(),
	}
	for _, gate := range h.gates {
		frame.Gates = append(frame.Gates, GateState{
			Name:     gate.Name(),
			Active:   gate.Active(),
			Failures: gate.Failures(),
			Open:     gate.IsOpen(),
		})
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return ws.WriteMessage(websocket.TextMessage, data)
}
