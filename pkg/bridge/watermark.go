// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import "sync/atomic"

// Watermark tracks the origin timestamp (in milliseconds) of the newest
// relayed event. Events at or below the watermark are duplicates or history
// and must not be forwarded again.
//
// Sync callbacks may run concurrently, so the advance is a compare-and-swap
// loop: the decision to accept and the move of the watermark happen as one
// step, and a losing racer re-reads and re-decides against the new value.
type Watermark struct {
	ts atomic.Int64
}

// NewWatermark creates a watermark initialized to start. Initializing to
// the process start time keeps backfilled history from the initial sync out
// of the relay.
func NewWatermark(start int64) *Watermark {
	w := &Watermark{}
	w.ts.Store(start)
	return w
}

// Accept reports whether ts is newer than the watermark, advancing it when
// so. Equal timestamps are rejected, so an event observed twice is accepted
// at most once. Two distinct events sharing a millisecond also collapse to
// one accept; that is the cost of timestamp-based dedup.
func (w *Watermark) Accept(ts int64) bool {
	for {
		cur := w.ts.Load()
		if ts <= cur {
			return false
		}
		if w.ts.CompareAndSwap(cur, ts) {
			return true
		}
	}
}

// Current returns the current watermark value.
func (w *Watermark) Current() int64 {
	return w.ts.Load()
}
