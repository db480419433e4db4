// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"time"

	"maunium.net/go/mautrix/event"
)

// handleMessage is the sync callback for m.room.message events. It applies
// the relay gates in order (own-event, kind, watermark), normalizes the
// event, and hands it to the dispatcher. Once the watermark has advanced
// the event is spent: a failed delivery is logged and dropped, not retried.
func (br *Bridge) handleMessage(ctx context.Context, evt *event.Event) {
	log := br.log.With().
		Str("event_id", string(evt.ID)).
		Str("room_id", string(evt.RoomID)).
		Str("sender", string(evt.Sender)).
		Logger()

	if evt.Sender == br.userID && !br.cfg.Bridge.RelayOwnEvents {
		eventsDropped.WithLabelValues(dropReasonOwnEvent).Inc()
		log.Trace().Msg("Skipping own event")
		return
	}

	content := evt.Content.AsMessage()
	if content == nil {
		eventsDropped.WithLabelValues(dropReasonUnsupported).Inc()
		return
	}
	kind, ok := kindFromMsgType(content.MsgType)
	if !ok {
		eventsDropped.WithLabelValues(dropReasonUnsupported).Inc()
		log.Trace().Str("msgtype", string(content.MsgType)).Msg("Skipping unsupported msgtype")
		return
	}
	eventsReceived.WithLabelValues(string(kind)).Inc()

	if !br.watermark.Accept(evt.Timestamp) {
		eventsDropped.WithLabelValues(dropReasonWatermark).Inc()
		log.Debug().
			Int64("event_ts", evt.Timestamp).
			Int64("watermark", br.watermark.Current()).
			Msg("Skipping event at or below watermark")
		return
	}

	payload := br.normalize(ctx, kind, evt, content)

	start := time.Now()
	err := br.dispatcher.Deliver(ctx, payload)
	webhookDeliverySeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		webhookFailures.Inc()
		log.Error().Err(err).Str("kind", string(kind)).Msg("Failed to deliver event to webhook")
		return
	}
	eventsRelayed.WithLabelValues(string(kind)).Inc()
	log.Info().Str("kind", string(kind)).Msg("Relayed event to webhook")
}

// normalize builds the canonical payload for a supported event. Media kinds
// get a download URL and media ID when the content URI is valid, plus the
// base64 body when inline download is configured for the kind and the
// download succeeds. Location and download failures degrade the payload
// instead of dropping the event.
func (br *Bridge) normalize(ctx context.Context, kind EventKind, evt *event.Event, content *event.MessageEventContent) *Payload {
	payload := &Payload{
		Kind:    kind,
		Sender:  evt.Sender,
		EventID: evt.ID,
		RoomID:  evt.RoomID,
	}
	if kind == KindText {
		payload.Message = content.Body
		return payload
	}

	loc, ok := br.locator.Locate(content.URL)
	if !ok {
		br.log.Warn().
			Str("event_id", string(evt.ID)).
			Str("content_url", string(content.URL)).
			Msg("Event has no usable content URI, forwarding without media fields")
		return payload
	}
	payload.URL = loc.DownloadURL
	payload.MediaID = loc.MediaID

	if br.cfg.Bridge.InlineKind(kind) {
		data, err := br.fetcher.Fetch(ctx, loc.DownloadURL)
		if err != nil {
			mediaFetchFailures.Inc()
			br.log.Warn().Err(err).
				Str("event_id", string(evt.ID)).
				Str("media_id", loc.MediaID).
				Msg("Failed to fetch media, forwarding metadata only")
		} else {
			payload.Data = data
		}
	}
	return payload
}
