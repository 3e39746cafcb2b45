package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httphandler "github.com/ericfisherdev/herald/internal/adapter/driving/http"
	"github.com/ericfisherdev/herald/internal/application"
	"github.com/ericfisherdev/herald/internal/domain/model"
)

// --- Mock implementations ---

type mockDispatcher struct {
	msg      model.OutboundMessage
	msgs     []model.OutboundMessage
	statuses []application.PlatformStatus
	err      error

	enqueuePlatform string
	enqueueTarget   string
	enqueueBody     string
	broadcastBody   string
}

func (m *mockDispatcher) Enqueue(_ context.Context, platformID, target, body string) (model.OutboundMessage, error) {
	m.enqueuePlatform = platformID
	m.enqueueTarget = target
	m.enqueueBody = body
	return m.msg, m.err
}

func (m *mockDispatcher) Broadcast(_ context.Context, body string) ([]model.OutboundMessage, error) {
	m.broadcastBody = body
	return m.msgs, m.err
}

func (m *mockDispatcher) Status() []application.PlatformStatus {
	return m.statuses
}

type mockMessageStore struct {
	msgs []model.OutboundMessage
	msg  *model.OutboundMessage
	err  error

	listedStatuses []model.MessageStatus
}

func (m *mockMessageStore) Save(_ context.Context, _ model.OutboundMessage) error { return nil }

func (m *mockMessageStore) Get(_ context.Context, _ string) (*model.OutboundMessage, error) {
	return m.msg, m.err
}

func (m *mockMessageStore) ListByStatus(_ context.Context, statuses ...model.MessageStatus) ([]model.OutboundMessage, error) {
	m.listedStatuses = statuses
	return m.msgs, m.err
}

func (m *mockMessageStore) RequeueStaleSending(_ context.Context) (int, error) { return 0, nil }

// --- Test helpers ---

var (
	testTime    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testTimeStr = "2026-03-01T12:00:00Z"
)

func setupMux(dispatcher *mockDispatcher, store *mockMessageStore) http.Handler {
	h := httphandler.NewHandler(dispatcher, store, slog.Default())
	return httphandler.NewServeMux(h, slog.Default())
}

func testMessage(id string) model.OutboundMessage {
	return model.OutboundMessage{
		ID:         id,
		PlatformID: "github",
		Target:     "owner/repo#7",
		Body:       "deploy done",
		Status:     model.MessageStatusPending,
		CreatedAt:  testTime,
		UpdatedAt:  testTime,
	}
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

// --- Tests ---

func TestSendMessage(t *testing.T) {
	dispatcher := &mockDispatcher{msg: testMessage("m-1")}
	mux := setupMux(dispatcher, &mockMessageStore{})

	body := `{"platform_id":"github","target":"owner/repo#7","body":"deploy done"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "github", dispatcher.enqueuePlatform)
	assert.Equal(t, "owner/repo#7", dispatcher.enqueueTarget)
	assert.Equal(t, "deploy done", dispatcher.enqueueBody)

	var resp []map[string]any
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, "m-1", resp[0]["id"])
	assert.Equal(t, "github", resp[0]["platform_id"])
	assert.Equal(t, "pending", resp[0]["status"])
	assert.Equal(t, float64(0), resp[0]["attempts"])
	assert.Equal(t, testTimeStr, resp[0]["created_at"])
}

func TestSendMessage_EmptyPlatformBroadcasts(t *testing.T) {
	dispatcher := &mockDispatcher{msgs: []model.OutboundMessage{
		testMessage("m-1"),
		testMessage("m-2"),
	}}
	mux := setupMux(dispatcher, &mockMessageStore{})

	body := `{"body":"release v2 is out"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "release v2 is out", dispatcher.broadcastBody)
	assert.Empty(t, dispatcher.enqueueBody)

	var resp []map[string]any
	decodeJSON(t, rec, &resp)
	assert.Len(t, resp, 2)
}

func TestSendMessage_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		dispatcher *mockDispatcher
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid json",
			body:       `{"platform_id":`,
			dispatcher: &mockDispatcher{},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "missing body",
			body:       `{"platform_id":"github","body":"   "}`,
			dispatcher: &mockDispatcher{},
			wantStatus: http.StatusBadRequest,
			wantError:  "message body is required",
		},
		{
			name:       "unknown platform",
			body:       `{"platform_id":"discord","body":"hi"}`,
			dispatcher: &mockDispatcher{err: errors.New(`unknown platform "discord"`)},
			wantStatus: http.StatusNotFound,
			wantError:  `unknown platform "discord"`,
		},
		{
			name:       "no target and no default",
			body:       `{"platform_id":"github","body":"hi"}`,
			dispatcher: &mockDispatcher{err: errors.New(`platform "github": no target given and no default configured`)},
			wantStatus: http.StatusBadRequest,
			wantError:  "no target given",
		},
		{
			name:       "journal failure",
			body:       `{"platform_id":"github","body":"hi"}`,
			dispatcher: &mockDispatcher{err: errors.New("journal message: disk full")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(tt.dispatcher, &mockMessageStore{})
			req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp map[string]any
			decodeJSON(t, rec, &resp)
			assert.Contains(t, resp["error"], tt.wantError)
		})
	}
}

func TestListMessages(t *testing.T) {
	retrying := testMessage("m-2")
	retrying.Status = model.MessageStatusRetrying
	retrying.Attempts = 2
	retrying.LastError = "connection reset"
	retrying.NextAttemptAt = testTime.Add(time.Minute)

	tests := []struct {
		name       string
		store      *mockMessageStore
		wantStatus int
		wantLen    int
		check      func(t *testing.T, resp []map[string]any)
	}{
		{
			name:       "empty journal",
			store:      &mockMessageStore{},
			wantStatus: http.StatusOK,
			wantLen:    0,
		},
		{
			name:       "two messages",
			store:      &mockMessageStore{msgs: []model.OutboundMessage{testMessage("m-1"), retrying}},
			wantStatus: http.StatusOK,
			wantLen:    2,
			check: func(t *testing.T, resp []map[string]any) {
				assert.Equal(t, "m-1", resp[0]["id"])
				assert.Equal(t, "pending", resp[0]["status"])
				_, hasNext := resp[0]["next_attempt_at"]
				assert.False(t, hasNext, "pending message has no scheduled attempt")

				assert.Equal(t, "retrying", resp[1]["status"])
				assert.Equal(t, float64(2), resp[1]["attempts"])
				assert.Equal(t, "connection reset", resp[1]["last_error"])
				assert.Equal(t, "2026-03-01T12:01:00Z", resp[1]["next_attempt_at"])
			},
		},
		{
			name:       "store error",
			store:      &mockMessageStore{err: errors.New("db fail")},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(&mockDispatcher{}, tt.store)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusOK {
				var resp []map[string]any
				decodeJSON(t, rec, &resp)
				assert.Len(t, resp, tt.wantLen)

				if tt.check != nil {
					tt.check(t, resp)
				}
			}
		})
	}
}

func TestListMessages_StatusFilter(t *testing.T) {
	store := &mockMessageStore{}
	mux := setupMux(&mockDispatcher{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages?status=pending,failed", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.MessageStatus{
		model.MessageStatusPending,
		model.MessageStatusFailed,
	}, store.listedStatuses)
}

func TestListMessages_InvalidStatusFilter(t *testing.T) {
	mux := setupMux(&mockDispatcher{}, &mockMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/messages?status=bogus", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Contains(t, resp["error"], `invalid status "bogus"`)
}

func TestGetMessage(t *testing.T) {
	tests := []struct {
		name       string
		store      *mockMessageStore
		wantStatus int
		wantError  string
	}{
		{
			name:       "found",
			store:      &mockMessageStore{msg: &model.OutboundMessage{ID: "m-1", PlatformID: "matrix", Status: model.MessageStatusSent, CreatedAt: testTime, UpdatedAt: testTime}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "not found",
			store:      &mockMessageStore{},
			wantStatus: http.StatusNotFound,
			wantError:  "message not found",
		},
		{
			name:       "store error",
			store:      &mockMessageStore{err: errors.New("db fail")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := setupMux(&mockDispatcher{}, tt.store)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/messages/m-1", nil)
			rec := httptest.NewRecorder()

			mux.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantError != "" {
				var resp map[string]any
				decodeJSON(t, rec, &resp)
				assert.Contains(t, resp["error"], tt.wantError)
			} else {
				var resp map[string]any
				decodeJSON(t, rec, &resp)
				assert.Equal(t, "m-1", resp["id"])
				assert.Equal(t, "matrix", resp["platform_id"])
				assert.Equal(t, "sent", resp["status"])
			}
		})
	}
}

func TestPlatformStatus(t *testing.T) {
	dispatcher := &mockDispatcher{statuses: []application.PlatformStatus{
		{PlatformID: "github", Running: true, Queued: 3, MinInterval: 30 * time.Second, PollInterval: time.Minute},
		{PlatformID: "matrix", Running: false, Queued: 0, MinInterval: 5 * time.Second, PollInterval: 30 * time.Second},
	}}
	mux := setupMux(dispatcher, &mockMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp []map[string]any
	decodeJSON(t, rec, &resp)
	require.Len(t, resp, 2)
	assert.Equal(t, "github", resp[0]["platform_id"])
	assert.Equal(t, true, resp[0]["running"])
	assert.Equal(t, float64(3), resp[0]["queued"])
	assert.Equal(t, "30s", resp[0]["min_interval"])
	assert.Equal(t, "1m0s", resp[0]["poll_interval"])
	assert.Equal(t, false, resp[1]["running"])
}

func TestHealth(t *testing.T) {
	mux := setupMux(&mockDispatcher{}, &mockMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.NotEmpty(t, resp["time"])
}

func TestMetricsEndpoint(t *testing.T) {
	mux := setupMux(&mockDispatcher{}, &mockMessageStore{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Body.String())
}

func TestPanicRecovery(t *testing.T) {
	// A nil dispatcher makes the status handler panic; the middleware must
	// turn that into a 500 instead of killing the connection.
	h := httphandler.NewHandler(nil, &mockMessageStore{}, slog.Default())
	mux := httphandler.NewServeMux(h, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	rec := httptest.NewRecorder()

	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "internal server error", resp["error"])
}
