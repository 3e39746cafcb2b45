// Package matrix implements the Platform port against the Matrix client-server
// API. Messages become m.room.message events with a markdown-rendered HTML
// companion body; mentions are read from the sync endpoint.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/ericfisherdev/herald/internal/domain/model"
	"github.com/ericfisherdev/herald/internal/domain/port/driven"
)

var (
	mdRenderer = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	htmlSanitizer = bluemonday.UGCPolicy()
)

// Compile-time interface satisfaction check.
var _ driven.Platform = (*Adapter)(nil)

// PlatformID identifies this adapter to the dispatch core.
const PlatformID = "matrix"

// Adapter implements the Platform port for one Matrix homeserver. Send targets
// are room IDs ("!room:server") or aliases ("#alias:server"); aliases are
// resolved once and cached. The message ID doubles as the Matrix transaction
// ID, so a retried send of a message the server already accepted is
// deduplicated server-side.
type Adapter struct {
	homeserver string
	client     *http.Client

	userID string
	token  string
	rooms  map[string]string // Alias to room ID; touched only by the dispatch goroutine.
}

// NewAdapter creates an unauthenticated adapter for the homeserver URL.
func NewAdapter(homeserver string) *Adapter {
	return NewAdapterWithHTTPClient(homeserver, &http.Client{Timeout: 30 * time.Second})
}

// NewAdapterWithHTTPClient creates an Adapter with a custom http.Client. This
// constructor is intended for testing against an httptest server.
func NewAdapterWithHTTPClient(homeserver string, client *http.Client) *Adapter {
	return &Adapter{
		homeserver: strings.TrimRight(homeserver, "/"),
		client:     client,
		rooms:      make(map[string]string),
	}
}

// ID returns the platform identifier.
func (a *Adapter) ID() string { return PlatformID }

// Authenticate establishes a session. With an "access_token" credential field
// the token is verified via whoami; otherwise "user_id" and "password" perform
// a password login.
func (a *Adapter) Authenticate(ctx context.Context, creds model.CredentialRecord) error {
	if token := creds.Field("access_token"); token != "" {
		a.token = token
		var res struct {
			UserID string `json:"user_id"`
		}
		if err := a.call(ctx, "authenticate", http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil, &res); err != nil {
			a.token = ""
			return err
		}
		a.userID = res.UserID
		slog.Info("matrix authenticated", "user", a.userID)
		return nil
	}

	userID := creds.Field("user_id")
	password := creds.Field("password")
	if userID == "" || password == "" {
		return driven.Fatal("authenticate",
			errors.New(`matrix: need credential field "access_token", or "user_id" and "password"`))
	}

	payload := map[string]any{
		"type": "m.login.password",
		"identifier": map[string]string{
			"type": "m.id.user",
			"user": userID,
		},
		"password": password,
	}
	var res struct {
		UserID      string `json:"user_id"`
		AccessToken string `json:"access_token"`
	}
	if err := a.call(ctx, "authenticate", http.MethodPost, "/_matrix/client/v3/login", nil, payload, &res); err != nil {
		return err
	}

	a.userID = res.UserID
	a.token = res.AccessToken
	slog.Info("matrix authenticated", "user", a.userID)
	return nil
}

// Send delivers the message to its target room as an m.room.message event.
func (a *Adapter) Send(ctx context.Context, msg model.OutboundMessage) error {
	if a.token == "" {
		return driven.Fatal("send", errors.New("matrix: not authenticated"))
	}

	roomID, err := a.resolveRoom(ctx, msg.Target)
	if err != nil {
		return err
	}

	content := map[string]any{
		"msgtype": "m.text",
		"body":    msg.Body,
	}
	if html := renderHTML(msg.Body); html != "" {
		content["format"] = "org.matrix.custom.html"
		content["formatted_body"] = html
	}

	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID), url.PathEscape(msg.ID))

	var res struct {
		EventID string `json:"event_id"`
	}
	if err := a.call(ctx, "send", http.MethodPut, path, nil, content, &res); err != nil {
		return err
	}

	slog.Debug("matrix message sent", "room", roomID, "event", res.EventID)
	return nil
}

// FetchMentions syncs the homeserver and returns timeline messages that name
// the authenticated user, oldest first. Only the final mention carries the
// sync resume token, so the cursor advances only once a whole batch has been
// iterated; a partially handled batch is refetched and deduplicated rather
// than skipped.
func (a *Adapter) FetchMentions(ctx context.Context, cursor string) ([]model.Mention, error) {
	if a.token == "" {
		return nil, driven.Fatal("fetch mentions", errors.New("matrix: not authenticated"))
	}

	query := url.Values{"timeout": {"0"}}
	if cursor != "" {
		query.Set("since", cursor)
	}

	var res syncResponse
	if err := a.call(ctx, "fetch mentions", http.MethodGet, "/_matrix/client/v3/sync", query, nil, &res); err != nil {
		return nil, err
	}

	var mentions []model.Mention
	for _, room := range res.Rooms.Join {
		for _, ev := range room.Timeline.Events {
			if ev.Type != "m.room.message" || ev.Sender == a.userID {
				continue
			}
			if !strings.Contains(ev.Content.Body, a.userID) {
				continue
			}
			mentions = append(mentions, model.Mention{
				ID:         ev.EventID,
				PlatformID: PlatformID,
				Author:     ev.Sender,
				Text:       ev.Content.Body,
				ObservedAt: time.UnixMilli(ev.OriginServerTS).UTC(),
			})
		}
	}

	sort.Slice(mentions, func(i, j int) bool {
		return mentions[i].ObservedAt.Before(mentions[j].ObservedAt)
	})
	if len(mentions) > 0 {
		mentions[len(mentions)-1].Marker = res.NextBatch
	}
	return mentions, nil
}

// resolveRoom maps a target to a room ID, resolving and caching aliases.
func (a *Adapter) resolveRoom(ctx context.Context, target string) (string, error) {
	if strings.HasPrefix(target, "!") {
		return target, nil
	}
	if !strings.HasPrefix(target, "#") {
		return "", driven.Fatal("send", fmt.Errorf("invalid room target %q: expected !room or #alias", target))
	}

	if id, ok := a.rooms[target]; ok {
		return id, nil
	}

	var res struct {
		RoomID string `json:"room_id"`
	}
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(target)
	if err := a.call(ctx, "resolve room", http.MethodGet, path, nil, nil, &res); err != nil {
		return "", err
	}

	a.rooms[target] = res.RoomID
	slog.Debug("matrix alias resolved", "alias", target, "room", res.RoomID)
	return res.RoomID, nil
}

// call performs one API request and classifies failures: 429 and server
// errors are transient, other client errors are permanent.
func (a *Adapter) call(ctx context.Context, op, method, path string, query url.Values, payload, out any) error {
	u := a.homeserver + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return driven.Fatal(op, fmt.Errorf("encode request: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return driven.Fatal(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return driven.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var mErr matrixError
		_ = json.NewDecoder(resp.Body).Decode(&mErr)
		reqErr := fmt.Errorf("%s %s: %s", method, path, mErr.describe(resp.StatusCode))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return driven.Transient(op, reqErr)
		}
		return driven.Fatal(op, reqErr)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return driven.Transient(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// renderHTML converts the markdown body to the sanitized HTML companion
// body. Renders best-effort: a conversion failure just drops the formatted
// variant.
func renderHTML(markdown string) string {
	var buf bytes.Buffer
	if err := mdRenderer.Convert([]byte(markdown), &buf); err != nil {
		return ""
	}
	return strings.TrimSpace(htmlSanitizer.Sanitize(buf.String()))
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]struct {
			Timeline struct {
				Events []timelineEvent `json:"events"`
			} `json:"timeline"`
		} `json:"join"`
	} `json:"rooms"`
}

type timelineEvent struct {
	EventID        string `json:"event_id"`
	Type           string `json:"type"`
	Sender         string `json:"sender"`
	OriginServerTS int64  `json:"origin_server_ts"`
	Content        struct {
		MsgType string `json:"msgtype"`
		Body    string `json:"body"`
	} `json:"content"`
}

type matrixError struct {
	ErrCode string `json:"errcode"`
	Err     string `json:"error"`
}

func (e matrixError) describe(status int) string {
	if e.ErrCode == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d %s: %s", status, e.ErrCode, e.Err)
}
