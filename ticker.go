// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package directmatrix

import (
	"sync"
	"sync/atomic"
	"time"
)

// ticker is the periodic timer driving the refresh engine.
//
// It stands in for the hardware timer interrupt of a microcontroller: the
// callback runs on a dedicated goroutine, one invocation per tick, never
// concurrently with itself.
type ticker interface {
	// setPeriod changes the tick period. The new period takes effect after
	// the tick being serviced completes, it never cuts a tick short.
	setPeriod(p time.Duration)
	// stop terminates the ticker. No callback runs after stop returns.
	// Idempotent.
	stop()
}

// timerTicker implements ticker with a one-shot time.Timer that is re-armed
// with the latest period after every callback.
type timerTicker struct {
	period int64 // nanoseconds, accessed atomically
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// newTimerTicker returns a ticker armed at p that does not fire until start
// is called, so the callback can safely reference it.
func newTimerTicker(p time.Duration) *timerTicker {
	t := &timerTicker{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	atomic.StoreInt64(&t.period, int64(p))
	return t
}

// start runs fn every period until stop is called. Call it once.
func (t *timerTicker) start(fn func()) {
	go t.loop(fn)
}

func (t *timerTicker) loop(fn func()) {
	defer close(t.done)
	tm := time.NewTimer(time.Duration(atomic.LoadInt64(&t.period)))
	defer tm.Stop()
	for {
		select {
		case <-tm.C:
			fn()
			tm.Reset(time.Duration(atomic.LoadInt64(&t.period)))
		case <-t.quit:
			return
		}
	}
}

func (t *timerTicker) setPeriod(p time.Duration) {
	atomic.StoreInt64(&t.period, int64(p))
}

func (t *timerTicker) stop() {
	t.once.Do(func() { close(t.quit) })
	<-t.done
}

var _ ticker = &timerTicker{}
