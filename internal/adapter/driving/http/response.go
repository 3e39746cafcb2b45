package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/herald/internal/application"
	"github.com/ericfisherdev/herald/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SendMessageRequest is the JSON body for the message submission endpoint.
// An empty platform_id broadcasts; an empty target uses the platform default.
type SendMessageRequest struct {
	PlatformID string `json:"platform_id"`
	Target     string `json:"target"`
	Body       string `json:"body"`
}

// MessageResponse is the JSON representation of a journaled message.
type MessageResponse struct {
	ID            string `json:"id"`
	PlatformID    string `json:"platform_id"`
	Target        string `json:"target"`
	Body          string `json:"body"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	LastError     string `json:"last_error,omitempty"`
	CreatedAt     string `json:"created_at"`
	NextAttemptAt string `json:"next_attempt_at,omitempty"`
	UpdatedAt     string `json:"updated_at"`
}

// PlatformStatusResponse is the JSON representation of one platform's
// runtime snapshot.
type PlatformStatusResponse struct {
	PlatformID   string `json:"platform_id"`
	Running      bool   `json:"running"`
	Queued       int    `json:"queued"`
	MinInterval  string `json:"min_interval"`
	PollInterval string `json:"poll_interval"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// toMessageResponse converts a domain OutboundMessage to its JSON response
// representation.
func toMessageResponse(msg model.OutboundMessage) MessageResponse {
	resp := MessageResponse{
		ID:         msg.ID,
		PlatformID: msg.PlatformID,
		Target:     msg.Target,
		Body:       msg.Body,
		Status:     string(msg.Status),
		Attempts:   msg.Attempts,
		LastError:  msg.LastError,
		CreatedAt:  msg.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:  msg.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !msg.NextAttemptAt.IsZero() {
		resp.NextAttemptAt = msg.NextAttemptAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// toMessageResponses converts a message slice, always yielding a non-nil
// slice so empty lists marshal as [] rather than null.
func toMessageResponses(msgs []model.OutboundMessage) []MessageResponse {
	resp := make([]MessageResponse, 0, len(msgs))
	for _, msg := range msgs {
		resp = append(resp, toMessageResponse(msg))
	}
	return resp
}

// toPlatformStatusResponse converts a platform snapshot to its JSON response
// representation. Durations are rendered in Go notation ("30s", "1m0s").
func toPlatformStatusResponse(st application.PlatformStatus) PlatformStatusResponse {
	return PlatformStatusResponse{
		PlatformID:   st.PlatformID,
		Running:      st.Running,
		Queued:       st.Queued,
		MinInterval:  st.MinInterval.String(),
		PollInterval: st.PollInterval.String(),
	}
}
