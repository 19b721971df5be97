// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package directmatrix

import (
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"periph.io/x/devices/v3/directmatrix/imagepwm"
)

type record struct {
	pin   string
	level gpio.Level
}

// recorder keeps the writes of every pin wired to it, in program order, so
// tests can assert cross-pin ordering.
type recorder struct {
	ops []record
}

type recordPin struct {
	gpiotest.Pin
	rec *recorder
}

func (p *recordPin) Out(l gpio.Level) error {
	p.rec.ops = append(p.rec.ops, record{pin: p.N, level: l})
	return p.Pin.Out(l)
}

func newRecordPin(rec *recorder, name string, num int) *recordPin {
	return &recordPin{Pin: gpiotest.Pin{N: name, Num: num}, rec: rec}
}

type fakeTicker struct {
	periods []time.Duration
}

func (f *fakeTicker) setPeriod(p time.Duration) {
	f.periods = append(f.periods, p)
}

func (f *fakeTicker) stop() {
}

// current is the period in effect for the gap following the step that just
// ran.
func (f *fakeTicker) current() time.Duration {
	return f.periods[len(f.periods)-1]
}

// testMatrix is an engine wired to recording pins and a fake clock stepped
// synchronously by tests.
type testMatrix struct {
	eng  engine
	rec  recorder
	tick fakeTicker
	rows []*recordPin
	cols []*recordPin
	fb   *imagepwm.Image
}

func newTestMatrix(rows, cols, colors int, sr []SRPins) *testMatrix {
	m := &testMatrix{
		fb: imagepwm.New(image.Rect(0, 0, cols, rows)),
	}
	for i := 0; i < rows; i++ {
		p := newRecordPin(&m.rec, fmt.Sprintf("R%d", i), i)
		// Rows start parked High, as Begin leaves them, without going
		// through Out so the recording stays empty.
		p.L = gpio.High
		m.rows = append(m.rows, p)
	}
	for i := 0; i < colors*cols; i++ {
		m.cols = append(m.cols, newRecordPin(&m.rec, fmt.Sprintf("C%d", i), 100+i))
	}
	srn := make([]SRPins, colors)
	copy(srn, sr)
	clock := int64(0)
	m.eng = engine{
		now:    func() int64 { clock += 3; return clock },
		timer:  &m.tick,
		rows:   pinsOf(m.rows),
		cols:   pinsOf(m.cols),
		sr:     srn,
		colors: colors,
		fb:     m.fb,
		mask:   1,
	}
	for i := range m.eng.periods {
		m.eng.periods[i] = 150 * time.Microsecond << uint(i)
	}
	return m
}

func pinsOf(pins []*recordPin) []gpio.PinOut {
	out := make([]gpio.PinOut, len(pins))
	for i, p := range pins {
		out[i] = p
	}
	return out
}

// enabledRow returns the single row pin currently driven Low, or fails.
func (m *testMatrix) enabledRow(t *testing.T) int {
	t.Helper()
	enabled := -1
	for i, p := range m.rows {
		if p.L == gpio.Low {
			if enabled != -1 {
				t.Fatalf("rows %d and %d enabled at once", enabled, i)
			}
			enabled = i
		}
	}
	if enabled == -1 {
		t.Fatal("no row enabled")
	}
	return enabled
}

func TestStepOrdering(t *testing.T) {
	// One step of a 2x2 monochrome matrix with one pixel lit: the previous
	// row must be blanked first, then all columns written, then the row
	// enabled.
	m := newTestMatrix(2, 2, 1, nil)
	m.fb.SetCell(0, 0, 0x0001)

	m.eng.step()

	want := []record{
		{pin: "R1", level: gpio.High},
		{pin: "C0", level: gpio.High},
		{pin: "C1", level: gpio.Low},
		{pin: "R0", level: gpio.Low},
	}
	if diff := cmp.Diff(want, m.rec.ops, cmpopts.EquateEmpty(), cmp.AllowUnexported(record{})); diff != "" {
		t.Errorf("step() writes mismatch (-want +got):\n%s", diff)
	}
	if got := m.tick.periods; len(got) != 1 || got[0] != 150*time.Microsecond {
		t.Errorf("setPeriod calls = %v, want [150µs]", got)
	}
}

func TestStepShiftRegister(t *testing.T) {
	// Two colors on a 2x2 matrix, plane 0 direct and plane 1 through a
	// shift register. Cell (0,0) holds full green (nibble 1): during the
	// first pass the register gets latched Low, both column bits clocked in
	// Low to High, latched High, all before the row is enabled. Plane 0
	// columns stay dark.
	sr := make([]SRPins, 2)
	m := newTestMatrix(2, 2, 2, nil)
	sr[1] = SRPins{
		Data:  newRecordPin(&m.rec, "DATA", 200),
		Clock: newRecordPin(&m.rec, "CLK", 201),
		Latch: newRecordPin(&m.rec, "LAT1", 202),
	}
	m.eng.sr = sr
	m.fb.SetCell(0, 0, 0x00F0)

	m.eng.step()

	want := []record{
		{pin: "R1", level: gpio.High},
		// Plane 0, direct columns, all off.
		{pin: "C0", level: gpio.Low},
		{pin: "C1", level: gpio.Low},
		// Plane 1 through the register: bit for column 0 is set.
		{pin: "LAT1", level: gpio.Low},
		{pin: "CLK", level: gpio.Low},
		{pin: "DATA", level: gpio.High},
		{pin: "CLK", level: gpio.High},
		{pin: "CLK", level: gpio.Low},
		{pin: "DATA", level: gpio.Low},
		{pin: "CLK", level: gpio.High},
		{pin: "LAT1", level: gpio.High},
		{pin: "R0", level: gpio.Low},
	}
	if diff := cmp.Diff(want, m.rec.ops, cmpopts.EquateEmpty(), cmp.AllowUnexported(record{})); diff != "" {
		t.Errorf("step() writes mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameCoverage(t *testing.T) {
	// Over one frame every row is enabled exactly once per bit-plane.
	const rows, cols = 4, 4
	m := newTestMatrix(rows, cols, 1, nil)
	enables := map[int]int{}
	for i := 0; i < planes*rows; i++ {
		m.eng.step()
		enables[m.enabledRow(t)]++
	}
	for i := 0; i < rows; i++ {
		if enables[i] != planes {
			t.Errorf("row %d enabled %d times, want %d", i, enables[i], planes)
		}
	}
	if m.eng.row != 0 || m.eng.plane != 0 || m.eng.mask != 1 {
		t.Errorf("scan state after one frame = (%d, %d, %#x), want (0, 0, 0x1)", m.eng.row, m.eng.plane, m.eng.mask)
	}
}

func TestBCMWeighting(t *testing.T) {
	// A pixel with channel nibble v is lit for v*T0 per frame: the bit-plane
	// passes it participates in have geometrically weighted tick periods.
	const rows, cols = 8, 8
	m := newTestMatrix(rows, cols, 1, nil)
	pixels := map[[2]int]imagepwm.Cell{
		{0, 0}: 0x0001,
		{1, 1}: 0x000F,
		{3, 2}: 0x0007,
		{4, 7}: 0x0008,
		{5, 5}: 0x000A,
	}
	for xy, c := range pixels {
		m.fb.SetCell(xy[0], xy[1], c)
	}

	lit := map[[2]int]time.Duration{}
	var frame time.Duration
	for i := 0; i < planes*rows; i++ {
		m.eng.step()
		period := m.tick.current()
		frame += period
		row := m.enabledRow(t)
		for x := 0; x < cols; x++ {
			if m.cols[x].L == gpio.High {
				lit[[2]int{x, row}] += period
			}
		}
	}

	const t0 = 150 * time.Microsecond
	want := map[[2]int]time.Duration{}
	for xy, c := range pixels {
		want[xy] = time.Duration(c.Channel(0)) * t0
	}
	if diff := cmp.Diff(want, lit); diff != "" {
		t.Errorf("per pixel lit time mismatch (-want +got):\n%s", diff)
	}
	if want := 15 * rows * t0; frame != want {
		t.Errorf("frame duration = %s, want %s", frame, want)
	}
}

func TestPeriodSchedule(t *testing.T) {
	// Exactly one setPeriod call per pass, at row 0, walking T0..T3, then
	// wrapping back to T0.
	const rows = 8
	m := newTestMatrix(rows, 8, 1, nil)
	for i := 0; i < 2*planes*rows; i++ {
		atRowZero := m.eng.row == 0
		calls := len(m.tick.periods)
		m.eng.step()
		if got := len(m.tick.periods) - calls; got != 0 && !atRowZero {
			t.Fatalf("step %d: setPeriod called while not at row 0", i)
		} else if atRowZero && got != 1 {
			t.Fatalf("step %d: %d setPeriod calls at row 0, want 1", i, got)
		}
	}
	t0 := 150 * time.Microsecond
	want := []time.Duration{t0, 2 * t0, 4 * t0, 8 * t0, t0, 2 * t0, 4 * t0, 8 * t0}
	if diff := cmp.Diff(want, m.tick.periods); diff != "" {
		t.Errorf("setPeriod sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestSolidFrame(t *testing.T) {
	// Full brightness everywhere: every column is High during every tick.
	const rows, cols = 8, 8
	m := newTestMatrix(rows, cols, 1, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			m.fb.SetCell(x, y, 0x000F)
		}
	}
	for i := 0; i < planes*rows; i++ {
		m.eng.step()
		m.enabledRow(t)
		for x, p := range m.cols {
			if p.L != gpio.High {
				t.Fatalf("step %d: column %d not driven High", i, x)
			}
		}
	}
}

func TestDimPixelSingleTick(t *testing.T) {
	// Intensity 1 at (5, 3): its column goes High during row 3 of plane 0
	// only, one 150µs tick per frame.
	const rows, cols = 8, 8
	m := newTestMatrix(rows, cols, 1, nil)
	m.fb.SetCell(5, 3, 0x0001)

	var litTicks []int
	var litTime time.Duration
	for i := 0; i < planes*rows; i++ {
		m.eng.step()
		row := m.enabledRow(t)
		for x, p := range m.cols {
			if p.L != gpio.High {
				continue
			}
			if x != 5 || row != 3 {
				t.Fatalf("step %d: unexpected lit pixel (%d, %d)", i, x, row)
			}
			litTicks = append(litTicks, i)
			litTime += m.tick.current()
		}
	}
	if diff := cmp.Diff([]int{3}, litTicks); diff != "" {
		t.Errorf("lit ticks mismatch (-want +got):\n%s", diff)
	}
	if litTime != 150*time.Microsecond {
		t.Errorf("lit time = %s, want 150µs", litTime)
	}
}

func TestClearedFrameAllOff(t *testing.T) {
	// After Clear, a full frame never drives a column High.
	const rows, cols = 8, 8
	m := newTestMatrix(rows, cols, 1, nil)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			m.fb.SetCell(x, y, 0x000F)
		}
	}
	m.fb.Clear()
	for i := 0; i < planes*rows; i++ {
		m.eng.step()
		for x, p := range m.cols {
			if p.L == gpio.High {
				t.Fatalf("step %d: column %d High after clear", i, x)
			}
		}
	}
}

func TestDiagnostics(t *testing.T) {
	// The fake clock advances 3µs per reading; a step reads it twice, so
	// consecutive step starts are 6µs apart and each step costs 3µs.
	m := newTestMatrix(2, 2, 1, nil)
	m.eng.prev = m.eng.now()
	m.eng.step()
	m.eng.step()
	if got := m.eng.lastLatency(); got != 6*time.Microsecond {
		t.Errorf("lastLatency() = %s, want 6µs", got)
	}
	if got := m.eng.lastRuntime(); got != 3*time.Microsecond {
		t.Errorf("lastRuntime() = %s, want 3µs", got)
	}
}

func TestMultiColorPlaneBits(t *testing.T) {
	// Two direct planes: a cell with distinct nibbles lights each plane's
	// column during that plane's passes only.
	const rows, cols = 2, 2
	m := newTestMatrix(rows, cols, 2, nil)
	// Channel 0 at 1 (plane 0 only), channel 1 at 8 (plane 3 only).
	m.fb.SetCell(0, 0, 0x0081)

	type hit struct {
		plane int
		col   int
	}
	var hits []hit
	for i := 0; i < planes*rows; i++ {
		plane := m.eng.plane
		m.eng.step()
		row := m.enabledRow(t)
		for x, p := range m.cols {
			if p.L == gpio.High {
				if row != 0 {
					t.Fatalf("step %d: lit column %d on row %d", i, x, row)
				}
				hits = append(hits, hit{plane: plane, col: x})
			}
		}
	}
	want := []hit{
		{plane: 0, col: 0},
		{plane: 3, col: 2},
	}
	if diff := cmp.Diff(want, hits, cmp.AllowUnexported(hit{})); diff != "" {
		t.Errorf("lit (plane, column) mismatch (-want +got):\n%s", diff)
	}
}
