package application_test

import (
	"context"
	"sync"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// --- Mock implementations shared by the application tests ---

type mockPlatform struct {
	id      string
	authFn  func(ctx context.Context, creds model.CredentialRecord) error
	sendFn  func(ctx context.Context, msg model.OutboundMessage) error
	fetchFn func(ctx context.Context, cursor string) ([]model.Mention, error)
}

func (m *mockPlatform) ID() string { return m.id }

func (m *mockPlatform) Authenticate(ctx context.Context, creds model.CredentialRecord) error {
	if m.authFn == nil {
		return nil
	}
	return m.authFn(ctx, creds)
}

func (m *mockPlatform) Send(ctx context.Context, msg model.OutboundMessage) error {
	if m.sendFn == nil {
		return nil
	}
	return m.sendFn(ctx, msg)
}

func (m *mockPlatform) FetchMentions(ctx context.Context, cursor string) ([]model.Mention, error) {
	if m.fetchFn == nil {
		return nil, nil
	}
	return m.fetchFn(ctx, cursor)
}

// mockMessageStore keeps the latest state per message plus the raw sequence
// of saves, so tests can assert both final state and transition history.
type mockMessageStore struct {
	mu    sync.Mutex
	byID  map[string]model.OutboundMessage
	order []string
	saves []model.OutboundMessage
}

func newMockMessageStore() *mockMessageStore {
	return &mockMessageStore{byID: make(map[string]model.OutboundMessage)}
}

func (m *mockMessageStore) Save(_ context.Context, msg model.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[msg.ID]; !ok {
		m.order = append(m.order, msg.ID)
	}
	m.byID[msg.ID] = msg
	m.saves = append(m.saves, msg)
	return nil
}

func (m *mockMessageStore) Get(_ context.Context, id string) (*model.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.byID[id]; ok {
		out := msg
		return &out, nil
	}
	return nil, nil
}

func (m *mockMessageStore) ListByStatus(_ context.Context, statuses ...model.MessageStatus) ([]model.OutboundMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[model.MessageStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	var out []model.OutboundMessage
	for _, id := range m.order {
		msg := m.byID[id]
		if len(statuses) == 0 || want[msg.Status] {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *mockMessageStore) RequeueStaleSending(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for id, msg := range m.byID {
		if msg.Status == model.MessageStatusSending {
			msg.Status = model.MessageStatusPending
			m.byID[id] = msg
			n++
		}
	}
	return n, nil
}

// status returns the latest persisted status for the message.
func (m *mockMessageStore) status(id string) model.MessageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Status
}

// attempts returns the latest persisted attempt count for the message.
func (m *mockMessageStore) attempts(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Attempts
}

// statusHistory returns the sequence of statuses the message moved through.
func (m *mockMessageStore) statusHistory(id string) []model.MessageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.MessageStatus
	for _, save := range m.saves {
		if save.ID == id {
			out = append(out, save.Status)
		}
	}
	return out
}

type mockCursorStore struct {
	mu      sync.Mutex
	markers map[string]string
	puts    []string
}

func newMockCursorStore() *mockCursorStore {
	return &mockCursorStore{markers: make(map[string]string)}
}

func (m *mockCursorStore) Get(_ context.Context, platformID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[platformID], nil
}

func (m *mockCursorStore) Put(_ context.Context, platformID, marker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[platformID] = marker
	m.puts = append(m.puts, marker)
	return nil
}

func (m *mockCursorStore) marker(platformID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[platformID]
}

// captureSink records every emitted event.
type captureSink struct {
	mu     sync.Mutex
	events []model.Event
}

func (s *captureSink) Emit(_ context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) ofType(t model.EventType) []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *captureSink) countOfType(t model.EventType) int {
	return len(s.ofType(t))
}

// recordingHandler collects the mentions it receives and can be configured
// to fail or panic on every call.
type recordingHandler struct {
	name      string
	fail      error
	panicWith string

	mu       sync.Mutex
	mentions []model.Mention
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Handle(_ context.Context, mention model.Mention) error {
	h.mu.Lock()
	h.mentions = append(h.mentions, mention)
	h.mu.Unlock()

	if h.panicWith != "" {
		panic(h.panicWith)
	}
	return h.fail
}

func (h *recordingHandler) received() []model.Mention {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]model.Mention, len(h.mentions))
	copy(out, h.mentions)
	return out
}

// mockVault serves credential records from a map.
type mockVault struct {
	mu      sync.Mutex
	records map[string]model.CredentialRecord
}

func newMockVault(records map[string]model.CredentialRecord) *mockVault {
	if records == nil {
		records = make(map[string]model.CredentialRecord)
	}
	return &mockVault{records: records}
}

func (v *mockVault) Get(_ context.Context, platformID string) (model.CredentialRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if rec, ok := v.records[platformID]; ok {
		return rec.Clone(), nil
	}
	return model.CredentialRecord{}, driven.ErrCredentialNotFound
}

func (v *mockVault) Put(_ context.Context, rec model.CredentialRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.records[rec.PlatformID] = rec
	return nil
}

func (v *mockVault) Delete(_ context.Context, platformID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.records, platformID)
	return nil
}

func (v *mockVault) List(_ context.Context) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var ids []string
	for id := range v.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (v *mockVault) RotateKey(_ context.Context, _ []byte) error { return nil }
