// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package directmatrix

import (
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"

	"periph.io/x/devices/v3/directmatrix/imagepwm"
)

// planes is the number of binary code modulation bit-planes per frame, one
// per intensity bit of a channel nibble.
const planes = 4

// engine walks the matrix one (row, bit-plane) cell per tick.
//
// A frame is four passes, one per bit-plane; a pass visits every row once at
// a constant tick period. Pass p runs at periods[p] = base<<p so bit p of a
// pixel nibble is lit for 2^p base periods per frame. Doing rows inside
// planes (and not the other way around) keeps the per-tick work small and
// lets a single reloading timer produce the 1:2:4:8 weighting; servicing all
// four planes of a row in one tick would quadruple the tick cost and blank
// rows for too large a share of each tick.
//
// step runs exclusively on the ticker goroutine. Everything except the
// framebuffer content and the diagnostics words is private to it after
// Begin.
type engine struct {
	// Diagnostics, written by step, read by anyone. Kept first so the words
	// stay 64 bit aligned on 32 bit hosts.
	runtime int64 // µs spent in the last step
	latency int64 // µs between the starts of the last two steps

	prev int64        // start of the previous step, µs
	now  func() int64 // microsecond clock, swappable in tests

	timer   ticker
	periods [planes]time.Duration

	rows   []gpio.PinOut
	cols   []gpio.PinOut // colors*C pins, plane i owns [i*C, (i+1)*C)
	sr     []SRPins      // per plane, zero value means direct drive
	colors int
	fb     *imagepwm.Image

	// Scan position.
	row   int
	plane int
	mask  imagepwm.Cell // 1<<plane
}

// step services one (row, plane) cell. It is the timer callback.
//
// Order matters: the previous row is blanked before any column changes, and
// all columns of the current row are valid before the row is enabled. Pin
// write errors are dropped; there is no error channel at tick rate and a
// failed write shows up as a wrong pixel, not as corrupted state.
func (e *engine) step() {
	start := e.now()
	atomic.StoreInt64(&e.latency, start-e.prev)
	e.prev = start

	if e.row == 0 {
		// New pass: switch to this plane's period. The timer applies it
		// after the current tick so the pass boundary stays aligned.
		e.timer.setPeriod(e.periods[e.plane])
	}
	prev := e.row - 1
	if prev < 0 {
		prev = len(e.rows) - 1
	}
	_ = e.rows[prev].Out(gpio.High)

	c := e.fb.Stride
	line := e.fb.Pix[e.row*c : e.row*c+c]
	for i := 0; i < e.colors; i++ {
		bit := e.mask << (4 * uint(i))
		if sr := e.sr[i]; sr.Data != nil {
			_ = sr.Latch.Out(gpio.Low)
			for x := 0; x < c; x++ {
				_ = sr.Clock.Out(gpio.Low)
				_ = sr.Data.Out(gpio.Level(line[x]&bit != 0))
				_ = sr.Clock.Out(gpio.High)
			}
			_ = sr.Latch.Out(gpio.High)
		} else {
			for x := 0; x < c; x++ {
				_ = e.cols[i*c+x].Out(gpio.Level(line[x]&bit != 0))
			}
		}
	}
	_ = e.rows[e.row].Out(gpio.Low)

	if e.row++; e.row == len(e.rows) {
		e.row = 0
		e.mask <<= 1
		e.plane++
		if e.mask >= 1<<planes {
			e.mask = 1
			e.plane = 0
		}
	}

	atomic.StoreInt64(&e.runtime, e.now()-start)
}

func (e *engine) lastRuntime() time.Duration {
	return time.Duration(atomic.LoadInt64(&e.runtime)) * time.Microsecond
}

func (e *engine) lastLatency() time.Duration {
	return time.Duration(atomic.LoadInt64(&e.latency)) * time.Microsecond
}
