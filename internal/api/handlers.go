// Package api exposes the daemon's HTTP/JSON surface served on the unix
// socket: the inbound event boundary, the read view, the operator commands.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/shieldsms/shield/internal/bus"
	"github.com/shieldsms/shield/internal/classify"
	"github.com/shieldsms/shield/internal/ingest"
	"github.com/shieldsms/shield/internal/queue"
	"github.com/shieldsms/shield/internal/store"
	"github.com/shieldsms/shield/internal/view"
)

// Handler implements the daemon API.
type Handler struct {
	db          *store.DB
	ingest      *ingest.Handler
	runner      *queue.Runner
	view        *view.Projection
	client      *classify.Client
	bus         *bus.Bus
	logger      *zap.Logger
	maxAttempts int
}

// NewHandler creates the API handler.
func NewHandler(db *store.DB, ing *ingest.Handler, runner *queue.Runner, v *view.Projection, client *classify.Client, b *bus.Bus, maxAttempts int, logger *zap.Logger) *Handler {
	return &Handler{
		db:          db,
		ingest:      ing,
		runner:      runner,
		view:        v,
		client:      client,
		bus:         b,
		logger:      logger,
		maxAttempts: maxAttempts,
	}
}

// Routes returns the daemon's route table.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", h.health)
	mux.HandleFunc("GET /v1/status", h.status)
	mux.HandleFunc("POST /v1/inbound", h.inbound)
	mux.HandleFunc("GET /v1/messages", h.listMessages)
	mux.HandleFunc("POST /v1/messages/{id}/retry", h.retryMessage)
	mux.HandleFunc("POST /v1/config/endpoint", h.setEndpoint)
	mux.HandleFunc("GET /v1/watch", h.watch)
	return mux
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	stats, err := h.runner.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"endpoint": h.client.Endpoint().BaseURL,
		"tasks":    stats.TaskCounts,
	})
}

type inboundRequest struct {
	Address   string   `json:"address"`
	Segments  []string `json:"segments"`
	Timestamp int64    `json:"timestamp"`
	Force     bool     `json:"force"`
}

func (h *Handler) inbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Address == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("address is required"))
		return
	}
	if req.Timestamp <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("timestamp is required"))
		return
	}

	id, err := h.ingest.OnInbound(req.Address, req.Segments, req.Timestamp, req.Force)
	if err != nil {
		h.logger.Error("ingest failed", zap.Error(err), zap.String("address", req.Address))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

func (h *Handler) listMessages(w http.ResponseWriter, _ *http.Request) {
	msgs, err := h.db.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (h *Handler) retryMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	if err := h.db.Requeue(id, h.maxAttempts); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	h.logger.Info("record re-enqueued by operator", zap.Int64("id", id))
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "status": "PENDING"})
}

type endpointRequest struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

func (h *Handler) setEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if _, err := url.ParseRequestURI(req.BaseURL); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid base_url: %w", err))
		return
	}

	h.client.SetEndpoint(req.BaseURL, req.Token)

	// Persist so the swap survives a daemon restart.
	if err := h.db.SetSetting(store.SettingClassifierURL, req.BaseURL); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := h.db.SetSetting(store.SettingClassifierToken, req.Token); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	h.bus.Publish(bus.Event{Kind: "config.endpoint_changed", Payload: req.BaseURL})
	h.logger.Info("classifier endpoint updated", zap.String("base_url", req.BaseURL))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
