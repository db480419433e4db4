// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Bridge relays message events from one Matrix room to a webhook. It holds
// the Matrix session by composition and drives it through syncer callbacks;
// the dedup watermark and delivery pipeline are owned here, not by the
// session client.
type Bridge struct {
	cfg    *Config
	log    zerolog.Logger
	client *mautrix.Client
	userID id.UserID

	watermark  *Watermark
	locator    *MediaLocator
	fetcher    *MediaFetcher
	dispatcher Dispatcher

	metricsSrv *http.Server
	stopOnce   sync.Once
}

// New creates a bridge from a validated config. The watermark starts at the
// current time so history replayed by the initial sync is not relayed.
func New(cfg *Config, log zerolog.Logger) (*Bridge, error) {
	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, cfg.Matrix.UserID, cfg.Matrix.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	client.Log = log.With().Str("component", "mautrix").Logger()

	br := &Bridge{
		cfg:        cfg,
		log:        log,
		client:     client,
		userID:     cfg.Matrix.UserID,
		watermark:  NewWatermark(time.Now().UnixMilli()),
		locator:    NewMediaLocator(cfg.Matrix.Homeserver),
		dispatcher: NewWebhookDispatcher(&cfg.N8N),
	}
	// The token closure reads from the client so a password login rotates
	// the media fetcher's credentials too.
	br.fetcher = NewMediaFetcher(cfg.Bridge.DownloadTimeout, cfg.Bridge.MaxInlineMB, func() string {
		return client.AccessToken
	})

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, br.handleMessage)
	return br, nil
}

// Connect authenticates the session and joins the configured room. With an
// access token it validates the token via whoami; otherwise it performs a
// password login and keeps the returned credentials on the client.
func (br *Bridge) Connect(ctx context.Context) error {
	if br.cfg.Matrix.AccessToken != "" {
		whoami, err := br.client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("failed to validate access token: %w", err)
		}
		br.client.UserID = whoami.UserID
		br.userID = whoami.UserID
		br.log.Info().Str("user_id", string(whoami.UserID)).Msg("Authenticated with access token")
	} else {
		resp, err := br.client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: string(br.cfg.Matrix.UserID),
			},
			Password:         br.cfg.Matrix.UserPassword,
			StoreCredentials: true,
		})
		if err != nil {
			return fmt.Errorf("failed to log in: %w", err)
		}
		br.userID = resp.UserID
		br.log.Info().Str("user_id", string(resp.UserID)).Msg("Logged in with password")
	}

	resp, err := br.client.JoinRoom(ctx, string(br.cfg.Matrix.RoomID), &mautrix.ReqJoinRoom{})
	if err != nil {
		return fmt.Errorf("failed to join room %s: %w", br.cfg.Matrix.RoomID, err)
	}
	br.log.Info().Str("room_id", string(resp.RoomID)).Msg("Joined relay room")
	return nil
}

// Run starts the opt-in metrics listener and blocks in the sync loop until
// ctx is cancelled or the loop hits a fatal error. Transient sync failures
// are retried internally by the client.
func (br *Bridge) Run(ctx context.Context) error {
	if br.cfg.Metrics.Enabled {
		br.metricsSrv = newMetricsServer(br.cfg.Metrics.Listen)
		go func() {
			br.log.Info().Str("addr", br.cfg.Metrics.Listen).Msg("Starting metrics listener")
			if err := br.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				br.log.Error().Err(err).Msg("Metrics listener error")
			}
		}()
	}

	br.log.Info().
		Str("homeserver", br.cfg.Matrix.Homeserver).
		Str("room_id", string(br.cfg.Matrix.RoomID)).
		Msg("Starting sync loop")
	err := br.client.SyncWithContext(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("sync loop failed: %w", err)
	}
	return nil
}

// Stop shuts down the sync loop and the metrics listener. Safe to call
// more than once.
func (br *Bridge) Stop() {
	br.stopOnce.Do(func() {
		br.client.StopSync()
		if br.metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = br.metricsSrv.Shutdown(shutdownCtx)
		}
		br.log.Info().Msg("Bridge stopped")
	})
}
