// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"maunium.net/go/mautrix/id"
)

// ErrMediaTooLarge is returned by Fetch when the response body exceeds the
// configured inline size cap.
var ErrMediaTooLarge = errors.New("media exceeds inline size limit")

// MediaLocation is the HTTP form of a Matrix content URI.
type MediaLocation struct {
	DownloadURL string
	MediaID     string
}

// MediaLocator translates mxc:// content URIs into authenticated media
// download URLs on a fixed homeserver. It performs no I/O.
type MediaLocator struct {
	homeserver string
}

// NewMediaLocator creates a locator for the given homeserver base URL.
func NewMediaLocator(homeserver string) *MediaLocator {
	return &MediaLocator{homeserver: strings.TrimSuffix(homeserver, "/")}
}

// Locate resolves a content URI to its download URL and media ID. The
// second return is false when ref is empty or not a well-formed mxc URI;
// callers forward such events without media fields rather than dropping
// them.
func (l *MediaLocator) Locate(ref id.ContentURIString) (MediaLocation, bool) {
	uri, err := ref.Parse()
	if err != nil || uri.IsEmpty() {
		return MediaLocation{}, false
	}
	return MediaLocation{
		DownloadURL: fmt.Sprintf("%s/_matrix/client/v1/media/download/%s/%s",
			l.homeserver, uri.Homeserver, uri.FileID),
		MediaID: uri.FileID,
	}, true
}

// MediaFetcher downloads located media and returns it base64-encoded for
// inline delivery.
type MediaFetcher struct {
	http     *http.Client
	token    func() string
	maxBytes int64
}

// NewMediaFetcher creates a fetcher. timeout is the per-download limit in
// seconds and maxMB caps the inline body size; both fall back to sane
// values when zero. token supplies the current access token at request time
// so a re-login rotates it without rebuilding the fetcher.
func NewMediaFetcher(timeout, maxMB int, token func() string) *MediaFetcher {
	if timeout <= 0 {
		timeout = 30
	}
	if maxMB <= 0 {
		maxMB = 16
	}
	return &MediaFetcher{
		http:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
		token:    token,
		maxBytes: int64(maxMB) << 20,
	}
}

// Fetch downloads url and returns the body as standard base64. Non-200
// responses and bodies over the size cap are errors; the caller degrades to
// a metadata-only payload instead of dropping the event. The request
// carries the session's access token since authenticated media endpoints
// reject anonymous downloads.
func (f *MediaFetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build media request: %w", err)
	}
	if f.token != nil {
		if tok := f.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("media download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media download returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read media body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return "", ErrMediaTooLarge
	}
	return base64.StdEncoding.EncodeToString(body), nil
}
