// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// mockDispatcher records delivered payloads for test assertions. Setting
// err makes every delivery fail while still counting the attempt.
type mockDispatcher struct {
	mu       sync.Mutex
	payloads []*Payload
	attempts int
	err      error
}

func (m *mockDispatcher) Deliver(_ context.Context, p *Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.err != nil {
		return m.err
	}
	m.payloads = append(m.payloads, p)
	return nil
}

func (m *mockDispatcher) Payloads() []*Payload {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*Payload, len(m.payloads))
	copy(cp, m.payloads)
	return cp
}

func (m *mockDispatcher) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// fakeWebhook is an httptest server that records webhook deliveries and
// answers with a configurable status code.
type fakeWebhook struct {
	Server *httptest.Server

	mu       sync.Mutex
	payloads []map[string]any
	headers  []http.Header
	status   int
}

func newFakeWebhook() *fakeWebhook {
	f := &fakeWebhook{status: http.StatusOK}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeWebhook) Close() {
	f.Server.Close()
}

func (f *fakeWebhook) SetStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

func (f *fakeWebhook) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var payload map[string]any
	_ = json.Unmarshal(body, &payload)
	f.mu.Lock()
	f.payloads = append(f.payloads, payload)
	f.headers = append(f.headers, r.Header.Clone())
	status := f.status
	f.mu.Unlock()
	w.WriteHeader(status)
}

func (f *fakeWebhook) Payloads() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]map[string]any, len(f.payloads))
	copy(cp, f.payloads)
	return cp
}

func (f *fakeWebhook) Headers() []http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]http.Header, len(f.headers))
	copy(cp, f.headers)
	return cp
}

// WaitForPayloads polls until the webhook has received at least n payloads
// or the deadline passes.
func (f *fakeWebhook) WaitForPayloads(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(f.Payloads()) >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return len(f.Payloads()) >= n
}

// fakeHomeserver simulates the client-server API endpoints the bridge
// uses: login, whoami, join, filter upload, sync, and media download.
// Events added via AddMessageEvent ride along in every sync response,
// mimicking a server that replays recent timeline on each request.
type fakeHomeserver struct {
	Server *httptest.Server

	mu        sync.Mutex
	events    []json.RawMessage
	syncCount int
	joins     []string
	mediaAuth []string
	failLogin bool
	failJoin  bool
	media     map[string][]byte
}

func newFakeHomeserver() *fakeHomeserver {
	f := &fakeHomeserver{media: make(map[string][]byte)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeHomeserver) Close() {
	f.Server.Close()
}

// AddMessageEvent appends a raw m.room.message event to the timeline
// returned by every sync response. content is the raw JSON content object.
func (f *fakeHomeserver) AddMessageEvent(eventID, sender string, ts int64, content string) {
	raw := fmt.Sprintf(`{"type":"m.room.message","event_id":%q,"sender":%q,"origin_server_ts":%d,"content":%s}`,
		eventID, sender, ts, content)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, json.RawMessage(raw))
}

// AddMedia registers downloadable media under server/mediaID.
func (f *fakeHomeserver) AddMedia(server, mediaID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media[server+"/"+mediaID] = data
}

func (f *fakeHomeserver) SetFailLogin(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLogin = fail
}

func (f *fakeHomeserver) SetFailJoin(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failJoin = fail
}

func (f *fakeHomeserver) SyncCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncCount
}

// WaitForSyncs polls until at least n sync requests have been served.
func (f *fakeHomeserver) WaitForSyncs(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if f.SyncCount() >= n {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return f.SyncCount() >= n
}

// Joins returns the room IDs or aliases that were joined.
func (f *fakeHomeserver) Joins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.joins))
	copy(cp, f.joins)
	return cp
}

// MediaAuthHeaders returns the Authorization header of every media
// download request.
func (f *fakeHomeserver) MediaAuthHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]string, len(f.mediaAuth))
	copy(cp, f.mediaAuth)
	return cp
}

func (f *fakeHomeserver) handler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && path == "/_matrix/client/v3/login":
		f.mu.Lock()
		fail := f.failLogin
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"errcode": "M_FORBIDDEN", "error": "Invalid password"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"user_id":      "@relay:example.org",
			"access_token": "syt_test_token",
			"device_id":    "TESTDEV",
		})

	case r.Method == http.MethodGet && path == "/_matrix/client/v3/account/whoami":
		_ = json.NewEncoder(w).Encode(map[string]string{"user_id": "@relay:example.org"})

	case r.Method == http.MethodPost && strings.HasPrefix(path, "/_matrix/client/v3/join/"):
		f.mu.Lock()
		fail := f.failJoin
		f.joins = append(f.joins, strings.TrimPrefix(path, "/_matrix/client/v3/join/"))
		f.mu.Unlock()
		if fail {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"errcode": "M_FORBIDDEN", "error": "Not invited to this room"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"room_id": "!relay:example.org"})

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/filter"):
		_ = json.NewEncoder(w).Encode(map[string]string{"filter_id": "f1"})

	case r.Method == http.MethodGet && path == "/_matrix/client/v3/sync":
		f.mu.Lock()
		f.syncCount++
		batch := fmt.Sprintf("batch-%d", f.syncCount)
		events := make([]json.RawMessage, len(f.events))
		copy(events, f.events)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"next_batch": batch,
			"rooms": map[string]any{
				"join": map[string]any{
					"!relay:example.org": map[string]any{
						"timeline": map[string]any{"events": events},
					},
				},
			},
		})

	case r.Method == http.MethodGet && strings.HasPrefix(path, "/_matrix/client/v1/media/download/"):
		key := strings.TrimPrefix(path, "/_matrix/client/v1/media/download/")
		f.mu.Lock()
		f.mediaAuth = append(f.mediaAuth, r.Header.Get("Authorization"))
		data, ok := f.media[key]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"errcode": "M_NOT_FOUND", "error": "Media not found"})
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"errcode": "M_UNRECOGNIZED", "error": "not found: " + path})
	}
}

// newMessageEvent builds a parsed m.room.message event shaped the way the
// syncer hands them to callbacks.
func newMessageEvent(eventID, sender string, ts int64, content *event.MessageEventContent) *event.Event {
	return &event.Event{
		ID:        id.EventID(eventID),
		RoomID:    id.RoomID("!relay:example.org"),
		Sender:    id.UserID(sender),
		Timestamp: ts,
		Type:      event.EventMessage,
		Content:   event.Content{Parsed: content},
	}
}

// newTestBridge creates a pipeline-only Bridge (no Matrix client) with the
// watermark at 500 and media resolved against hsURL.
func newTestBridge(hsURL string, dispatcher Dispatcher) *Bridge {
	cfg := &Config{
		Matrix: MatrixConfig{
			Homeserver: hsURL,
			UserID:     "@relay:example.org",
			RoomID:     "!relay:example.org",
		},
		N8N: N8NConfig{WebhookURL: "http://unused.invalid"},
		Bridge: BridgeConfig{
			InlineMedia:     []EventKind{KindImage},
			MaxInlineMB:     1,
			DownloadTimeout: 5,
		},
	}
	return &Bridge{
		cfg:        cfg,
		log:        zerolog.Nop(),
		userID:     cfg.Matrix.UserID,
		watermark:  NewWatermark(500),
		locator:    NewMediaLocator(hsURL),
		fetcher:    NewMediaFetcher(5, 1, func() string { return "test-token" }),
		dispatcher: dispatcher,
	}
}

// newE2EConfig builds a full config pointing at the fake homeserver and
// webhook, using token auth and no metrics listener.
func newE2EConfig(hsURL, webhookURL string) *Config {
	return &Config{
		Matrix: MatrixConfig{
			Homeserver:  hsURL,
			UserID:      "@relay:example.org",
			AccessToken: "token123",
			RoomID:      "!relay:example.org",
		},
		N8N: N8NConfig{WebhookURL: webhookURL, RequestTimeout: 5},
		Bridge: BridgeConfig{
			InlineMedia:     []EventKind{KindImage},
			MaxInlineMB:     1,
			DownloadTimeout: 5,
		},
	}
}
