// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package directmatrix

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"periph.io/x/conn/v3/display"
	"periph.io/x/conn/v3/gpio"

	"periph.io/x/devices/v3/directmatrix/imagepwm"
)

// SRPins routes one color plane through an external shift register instead
// of per-column GPIOs.
//
// Data and Clock may be shared between planes, Latch is per plane. The latch
// is held Low while bits are clocked in and raised High once the row's bits
// are valid, matching panels that switch the register outputs through a PNP
// high side driver. The zero value means the plane drives its column pins
// directly.
type SRPins struct {
	// Data is sampled by the register on the rising Clock edge.
	Data gpio.PinOut
	// Clock shifts one bit per Low to High transition.
	Clock gpio.PinOut
	// Latch exposes the shifted bits to the columns while High.
	Latch gpio.PinOut
}

func (s *SRPins) absent() bool {
	return s.Data == nil && s.Clock == nil && s.Latch == nil
}

// PixelSink is the single capability drawing code needs from a matrix.
//
// Both Dev and emulators like screen2d satisfy it, so animation code can be
// tested without hardware.
type PixelSink interface {
	Plot(x, y int, c imagepwm.Cell)
}

// Opts defines the panel geometry and refresh rate.
type Opts struct {
	// Rows and Cols are the panel dimensions in LEDs.
	Rows, Cols int
	// Colors is the number of color planes, 1 to 4. A bi-color matrix has 2.
	Colors int
	// BasePeriod is the tick period of the lowest intensity bit-plane. The
	// three other planes run at 2x, 4x and 8x this period, so a frame lasts
	// 15*Rows*BasePeriod.
	BasePeriod time.Duration

	_ struct{}
}

// DefaultOpts is for a monochrome 8x8 matrix refreshed at about 55Hz.
var DefaultOpts = Opts{
	Rows:       8,
	Cols:       8,
	Colors:     1,
	BasePeriod: 150 * time.Microsecond,
}

// Dev is an open handle to an LED matrix.
//
// The framebuffer is live: Plot and Draw store intensity words and the
// refresh goroutine started by Begin picks them up on its next pass. It
// implements display.Drawer over the full panel; Plot is limited to 8x8,
// see its documentation.
type Dev struct {
	eng  engine
	fb   *imagepwm.Image
	base time.Duration

	// rotation applies to Plot only and is read from the drawing goroutine,
	// never from the refresh goroutine.
	rotation int

	timer *timerTicker
}

// New returns a Dev with an all-off framebuffer of rows x cols cells.
//
// Nothing refreshes until Begin is called, but the framebuffer can already
// be drawn into.
func New(opts *Opts) (*Dev, error) {
	if opts.Rows < 1 || opts.Cols < 1 {
		return nil, errors.New("directmatrix: row and column counts must be at least 1")
	}
	if opts.Colors < 1 || opts.Colors > planes {
		return nil, errors.New("directmatrix: color plane count must be 1 to 4")
	}
	if opts.BasePeriod <= 0 {
		return nil, errors.New("directmatrix: base period must be positive")
	}
	d := &Dev{
		fb:   imagepwm.New(image.Rect(0, 0, opts.Cols, opts.Rows)),
		base: opts.BasePeriod,
	}
	d.eng.colors = opts.Colors
	d.eng.fb = d.fb
	return d, nil
}

// Begin wires the panel and starts refreshing it.
//
// rowPins are the Rows shared cathodes; a row lights while its pin is Low,
// so they are initialized High. colPins are the Colors*Cols shared anodes,
// plane i owning colPins[i*Cols:(i+1)*Cols]; they light while High and are
// initialized Low. Entries under a plane routed through srPins are ignored
// and may be nil.
//
// srPins, indexed by plane, may be nil or shorter than Colors; missing or
// zero entries mean direct drive. Each shift register is primed with an
// alternating bit pattern while its latch is held Low, leaving the register
// in a known state before the first pass.
func (d *Dev) Begin(rowPins, colPins []gpio.PinOut, srPins []SRPins) error {
	if d.timer != nil {
		return errors.New("directmatrix: already begun")
	}
	rows := d.fb.Rect.Dy()
	cols := d.fb.Rect.Dx()
	if len(rowPins) != rows {
		return fmt.Errorf("directmatrix: expected %d row pins, got %d", rows, len(rowPins))
	}
	if len(colPins) != d.eng.colors*cols {
		return fmt.Errorf("directmatrix: expected %d column pins, got %d", d.eng.colors*cols, len(colPins))
	}
	if len(srPins) > d.eng.colors {
		return fmt.Errorf("directmatrix: %d shift register planes for %d colors", len(srPins), d.eng.colors)
	}
	sr := make([]SRPins, d.eng.colors)
	copy(sr, srPins)
	for i := range sr {
		if sr[i].absent() {
			for x := 0; x < cols; x++ {
				if colPins[i*cols+x] == nil {
					return fmt.Errorf("directmatrix: plane %d is direct drive but column pin %d is nil", i, i*cols+x)
				}
			}
		} else if sr[i].Data == nil || sr[i].Clock == nil || sr[i].Latch == nil {
			return fmt.Errorf("directmatrix: plane %d needs data, clock and latch pins", i)
		}
	}

	// Park everything off: rows disabled, columns dark.
	for _, p := range rowPins {
		if p == nil {
			return errors.New("directmatrix: nil row pin")
		}
		if err := p.Out(gpio.High); err != nil {
			return err
		}
	}
	for _, p := range colPins {
		if p == nil {
			continue
		}
		if err := p.Out(gpio.Low); err != nil {
			return err
		}
	}
	for i := range sr {
		if sr[i].absent() {
			continue
		}
		if err := d.primeShiftRegister(&sr[i], rows); err != nil {
			return err
		}
	}

	d.eng.rows = rowPins
	d.eng.cols = colPins
	d.eng.sr = sr
	d.eng.row = 0
	d.eng.plane = 0
	d.eng.mask = 1
	for i := range d.eng.periods {
		d.eng.periods[i] = d.base << uint(i)
	}
	d.eng.now = func() int64 { return time.Now().UnixMicro() }
	d.eng.prev = d.eng.now()
	d.timer = newTimerTicker(d.eng.periods[0])
	d.eng.timer = d.timer
	d.timer.start(d.eng.step)
	return nil
}

// primeShiftRegister clocks rows+1 alternating bits through the register
// with the latch held Low, the same warm-up sequence the panels this driver
// descends from expect.
func (d *Dev) primeShiftRegister(sr *SRPins, rows int) error {
	if err := sr.Latch.Out(gpio.Low); err != nil {
		return err
	}
	for i := 0; i <= rows; i++ {
		if err := sr.Clock.Out(gpio.Low); err != nil {
			return err
		}
		if err := sr.Data.Out(gpio.Level(i&1 != 0)); err != nil {
			return err
		}
		if err := sr.Clock.Out(gpio.High); err != nil {
			return err
		}
	}
	return sr.Latch.Out(gpio.High)
}

// Plot stores the intensity word for the pixel at (x, y), after applying
// the rotation set with SetRotation.
//
// Writes outside [0,8)x[0,8) are dropped.
// TODO: honor Bounds() instead; panels larger than 8x8 refresh fine but can
// only be filled through Draw.
func (d *Dev) Plot(x, y int, c imagepwm.Cell) {
	if x < 0 || x >= 8 || y < 0 || y >= 8 {
		return
	}
	switch d.rotation {
	case 1:
		x, y = y, x
		x = 8 - x - 1
	case 2:
		x = 8 - x - 1
		y = 8 - y - 1
	case 3:
		x, y = y, x
		y = 8 - y - 1
	}
	d.fb.SetCell(x, y, c)
}

// SetRotation rotates Plot coordinates by r*90 degrees clockwise. Only the
// two low bits of r are used.
func (d *Dev) SetRotation(r int) {
	d.rotation = r & 3
}

// Rotation returns the current Plot rotation, 0 to 3.
func (d *Dev) Rotation() int {
	return d.rotation
}

// Clear turns every pixel off on the next pass.
func (d *Dev) Clear() {
	d.fb.Clear()
}

// WriteDisplay is a no-op kept for symmetry with buffered displays: the
// refresh goroutine continuously reflects the framebuffer.
func (d *Dev) WriteDisplay() {
}

// ISRRuntime returns the duration of the most recent refresh tick. A value
// close to BasePeriod means the refresh cannot keep up and the base period
// should be raised.
func (d *Dev) ISRRuntime() time.Duration {
	return d.eng.lastRuntime()
}

// ISRLatency returns the time between the starts of the two most recent
// refresh ticks.
func (d *Dev) ISRLatency() time.Duration {
	return d.eng.lastLatency()
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return imagepwm.CellModel
}

// Bounds implements display.Drawer. It reports the full panel, regardless
// of Plot's 8x8 limit.
func (d *Dev) Bounds() image.Rectangle {
	return d.fb.Rect
}

// Draw implements display.Drawer.
//
// Rotation does not apply; src is converted through CellModel unless it is
// an *imagepwm.Image covering the exact panel, which is copied directly.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	if img, ok := src.(*imagepwm.Image); ok && r == d.fb.Rect && img.Rect == d.fb.Rect && sp.X == 0 && sp.Y == 0 {
		copy(d.fb.Pix, img.Pix)
		return nil
	}
	draw.Draw(d.fb, r.Intersect(d.fb.Rect), src, sp, draw.Src)
	return nil
}

func (d *Dev) String() string {
	return fmt.Sprintf("directmatrix.Dev{%dx%dx%d}", d.fb.Rect.Dx(), d.fb.Rect.Dy(), d.eng.colors)
}

// Halt implements conn.Resource. It stops the refresh goroutine and blanks
// the panel. The Dev cannot be restarted.
func (d *Dev) Halt() error {
	if d.timer == nil {
		return nil
	}
	d.timer.stop()
	var first error
	for _, p := range d.eng.rows {
		if err := p.Out(gpio.High); err != nil && first == nil {
			first = err
		}
	}
	for _, p := range d.eng.cols {
		if p == nil {
			continue
		}
		if err := p.Out(gpio.Low); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var _ display.Drawer = &Dev{}
var _ PixelSink = &Dev{}
