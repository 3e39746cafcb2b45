// Package relay implements the Platform port over a persistent websocket to a
// herald relay server. Requests and responses share one connection and are
// correlated by frame ID, so the dispatch and monitor goroutines can use the
// socket concurrently.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Platform = (*Adapter)(nil)

// PlatformID identifies this adapter to the dispatch core.
const PlatformID = "relay"

// requestTimeout bounds how long a frame may wait for its response.
const requestTimeout = 30 * time.Second

// Wire format: "req" frames carry a method and params, "res" frames answer
// them by ID, "event" frames are server-initiated.
type wireMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  any             `json:"params,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Adapter implements the Platform port for one relay connection. There is no
// automatic reconnect: once the socket drops, operations fail transiently and
// the retry policy owns what happens next.
type Adapter struct {
	url string

	mu        sync.Mutex // Guards conn and connected.
	conn      *websocket.Conn
	connected bool

	writeMu sync.Mutex // gorilla allows one concurrent writer.
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[string]chan wireMessage

	done chan struct{}
}

// NewAdapter creates an unconnected adapter. The URL may use a ws, wss, http,
// or https scheme; a bare host defaults to wss.
func NewAdapter(url string) *Adapter {
	return &Adapter{
		url:     wsURL(url),
		pending: make(map[string]chan wireMessage),
		done:    make(chan struct{}),
	}
}

// ID returns the platform identifier.
func (a *Adapter) ID() string { return PlatformID }

// Authenticate dials the relay and performs the auth handshake. The "token"
// credential field may be empty for an open relay.
func (a *Adapter) Authenticate(ctx context.Context, creds model.CredentialRecord) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return driven.Transient("authenticate", fmt.Errorf("dial %s: %w", a.url, err))
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	go a.readLoop()

	resp, err := a.request(ctx, "auth", map[string]string{"token": creds.Field("token")})
	if err != nil {
		a.Close()
		return driven.Transient("authenticate", err)
	}
	if !resp.OK {
		a.Close()
		return driven.Fatal("authenticate", respError(resp))
	}

	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()

	slog.Info("relay connected", "url", a.url)
	return nil
}

// Send delivers the message through the relay. The message ID rides along so
// the relay can deduplicate a retried send it already accepted.
func (a *Adapter) Send(ctx context.Context, msg model.OutboundMessage) error {
	resp, err := a.request(ctx, "send", map[string]string{
		"id":     msg.ID,
		"target": msg.Target,
		"body":   msg.Body,
	})
	if err != nil {
		return driven.Transient("send", err)
	}
	if !resp.OK {
		return classifyResponse("send", resp)
	}
	return nil
}

// FetchMentions asks the relay for mentions after the cursor, oldest first.
// The cursor is the relay's sequence number for the last handled mention.
func (a *Adapter) FetchMentions(ctx context.Context, cursor string) ([]model.Mention, error) {
	resp, err := a.request(ctx, "mentions", map[string]string{"since": cursor})
	if err != nil {
		return nil, driven.Transient("fetch mentions", err)
	}
	if !resp.OK {
		return nil, classifyResponse("fetch mentions", resp)
	}

	var payload struct {
		Mentions []struct {
			ID     string `json:"id"`
			Author string `json:"author"`
			Text   string `json:"text"`
			Seq    string `json:"seq"`
			TS     int64  `json:"ts"`
		} `json:"mentions"`
	}
	if err := json.Unmarshal(resp.Payload, &payload); err != nil {
		return nil, driven.Transient("fetch mentions", fmt.Errorf("decode payload: %w", err))
	}

	mentions := make([]model.Mention, 0, len(payload.Mentions))
	for _, m := range payload.Mentions {
		mentions = append(mentions, model.Mention{
			ID:         m.ID,
			PlatformID: PlatformID,
			Author:     m.Author,
			Text:       m.Text,
			Marker:     m.Seq,
			ObservedAt: time.UnixMilli(m.TS).UTC(),
		})
	}
	return mentions, nil
}

// Close tears down the connection. Pending requests fail with a closed error.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// request writes one frame and waits for the matching response.
func (a *Adapter) request(ctx context.Context, method string, params any) (wireMessage, error) {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return wireMessage{}, errors.New("relay: not connected")
	}

	id := fmt.Sprintf("herald-%d", a.nextID.Add(1))

	ch := make(chan wireMessage, 1)
	a.pendingMu.Lock()
	a.pending[id] = ch
	a.pendingMu.Unlock()

	data, err := json.Marshal(wireMessage{Type: "req", ID: id, Method: method, Params: params})
	if err != nil {
		a.dropPending(id)
		return wireMessage{}, fmt.Errorf("encode %s frame: %w", method, err)
	}

	a.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	a.writeMu.Unlock()
	if err != nil {
		a.dropPending(id)
		return wireMessage{}, fmt.Errorf("write %s frame: %w", method, err)
	}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		a.dropPending(id)
		return wireMessage{}, fmt.Errorf("timeout waiting for %s response", method)
	case <-ctx.Done():
		a.dropPending(id)
		return wireMessage{}, ctx.Err()
	case <-a.done:
		a.dropPending(id)
		return wireMessage{}, errors.New("relay: connection closed")
	}
}

func (a *Adapter) dropPending(id string) {
	a.pendingMu.Lock()
	delete(a.pending, id)
	a.pendingMu.Unlock()
}

// readLoop routes response frames to their waiting requests until the
// connection dies.
func (a *Adapter) readLoop() {
	defer func() {
		select {
		case <-a.done:
		default:
			close(a.done)
		}
		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
	}()

	for {
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("relay read loop ended", "error", err)
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "res":
			a.pendingMu.Lock()
			ch, ok := a.pending[msg.ID]
			if ok {
				delete(a.pending, msg.ID)
			}
			a.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
		case "event":
			// The relay protocol is request-driven; server events are
			// informational only.
			slog.Debug("relay event", "event", msg.Event)
		}
	}
}

// classifyResponse turns a rejected response into a platform error. Requests
// the relay can never accept are permanent.
func classifyResponse(op string, resp wireMessage) error {
	err := respError(resp)
	if resp.Error != nil {
		switch resp.Error.Code {
		case "unauthorized", "forbidden", "invalid_target", "bad_request":
			return driven.Fatal(op, err)
		}
	}
	return driven.Transient(op, err)
}

func respError(resp wireMessage) error {
	if resp.Error == nil {
		return errors.New("request rejected")
	}
	return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
}

// wsURL normalizes the configured URL to a websocket scheme.
func wsURL(raw string) string {
	switch {
	case strings.HasPrefix(raw, "ws://"), strings.HasPrefix(raw, "wss://"):
		return raw
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	default:
		return "wss://" + raw
	}
}
