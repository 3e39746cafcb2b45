// Package httphandler is the HTTP driving adapter: a small operations API
// for submitting messages and inspecting dispatch state, served on the
// loopback interface by default.
package httphandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/herald/internal/application"
	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Dispatcher is the slice of the application layer the API drives.
// *application.Supervisor satisfies it.
type Dispatcher interface {
	Enqueue(ctx context.Context, platformID, target, body string) (model.OutboundMessage, error)
	Broadcast(ctx context.Context, body string) ([]model.OutboundMessage, error)
	Status() []application.PlatformStatus
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	dispatcher Dispatcher
	store      driven.MessageStore
	logger     *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(dispatcher Dispatcher, store driven.MessageStore, logger *slog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/status", h.PlatformStatus)
	mux.HandleFunc("GET /api/v1/messages", h.ListMessages)
	mux.HandleFunc("GET /api/v1/messages/{id}", h.GetMessage)
	mux.HandleFunc("POST /api/v1/messages", h.SendMessage)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// SendMessage journals a message and queues it for delivery. An empty
// platform_id broadcasts to every platform with a default target. The
// response is always the list of messages created; delivery itself is
// asynchronous, so the status is 202.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Body) == "" {
		writeError(w, http.StatusBadRequest, "message body is required")
		return
	}

	if req.PlatformID == "" {
		msgs, err := h.dispatcher.Broadcast(r.Context(), req.Body)
		if err != nil {
			h.logger.Error("broadcast failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeJSON(w, http.StatusAccepted, toMessageResponses(msgs))
		return
	}

	msg, err := h.dispatcher.Enqueue(r.Context(), req.PlatformID, req.Target, req.Body)
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "unknown platform"):
			writeError(w, http.StatusNotFound, err.Error())
		case strings.Contains(err.Error(), "no target"):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("enqueue failed", "platform", req.PlatformID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, toMessageResponses([]model.OutboundMessage{msg}))
}

// ListMessages returns journaled messages, optionally filtered by a
// comma-separated status list (?status=pending,failed).
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	statuses, err := parseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.store.ListByStatus(r.Context(), statuses...)
	if err != nil {
		h.logger.Error("failed to list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toMessageResponses(msgs))
}

// GetMessage returns a single journaled message by ID.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	msg, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get message", "message", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if msg == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	writeJSON(w, http.StatusOK, toMessageResponse(*msg))
}

// PlatformStatus returns a snapshot of every registered platform.
func (h *Handler) PlatformStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := h.dispatcher.Status()

	resp := make([]PlatformStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		resp = append(resp, toPlatformStatusResponse(st))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// parseStatusFilter parses a comma-separated status list. An empty filter
// means no filtering.
func parseStatusFilter(filter string) ([]model.MessageStatus, error) {
	if filter == "" {
		return nil, nil
	}

	var statuses []model.MessageStatus
	for _, part := range strings.Split(filter, ",") {
		status := model.MessageStatus(strings.TrimSpace(part))
		if !status.Valid() {
			return nil, fmt.Errorf("invalid status %q", string(status))
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}
