// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge relays Matrix room messages to an n8n webhook.
//
// The bridge logs into a homeserver as a regular user, joins a single
// configured room, and forwards every supported message event (text, image,
// audio, file) as a canonical JSON payload to one webhook URL. Delivery is
// one-way and best-effort: an event is relayed at most once per process
// lifetime, and failed deliveries are logged and skipped, never retried.
//
// # Core Types
//
// [Bridge] owns the session and the pipeline. It holds a mautrix client by
// composition, registers a callback for m.room.message events on the
// client's syncer, and drives the Connect/Run/Stop lifecycle.
//
// [Watermark] deduplicates events by origin timestamp. Sync responses can
// replay events the bridge has already handled (reconnects, initial sync
// backfill), and only events strictly newer than the watermark are relayed.
//
// [MediaLocator] and [MediaFetcher] turn mxc:// content URIs into
// authenticated download URLs and, for configured kinds, inline base64
// bodies.
//
// [WebhookDispatcher] POSTs payloads to the configured webhook URL.
//
// # Event Flow
//
// Each m.room.message event from the syncer passes through three gates
// before delivery, cheapest first: events from the bridge's own user are
// dropped unless relay_own_events is set, unsupported msgtypes are counted
// and ignored, and stale timestamps stop at the watermark. Surviving
// events are normalized into a [Payload] (locating and optionally fetching
// media) and handed to the dispatcher. Media location and download
// failures degrade the payload to metadata instead of dropping the event.
package bridge
