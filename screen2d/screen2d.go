// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package screen2d implements a 2D display.Drawer that outputs to terminal
// (stdout) using ANSI color codes.
//
// Useful while you are waiting for your LED matrices and driver boards to
// come by mail.
package screen2d

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"periph.io/x/conn/v3/display"
	"periph.io/x/devices/v3/directmatrix"
	"periph.io/x/devices/v3/directmatrix/imagepwm"
)

// Opts represents the options available for this display.
type Opts struct {
	Width   int
	Height  int
	Palette *ansi256.Palette

	_ struct{}
}

// Dev is a 2D LED matrix emulator that outputs to the console.
type Dev struct {
	w       io.Writer
	width   int
	height  int
	palette ansi256.Palette

	cells []imagepwm.Cell
	buf   bytes.Buffer
	drawn bool
}

// New returns a Dev that displays at the console.
//
// Permits to do local testing of matrix animations.
func New(opts *Opts) *Dev {
	p := opts.Palette
	if p == nil {
		p = ansi256.Default
	}
	d := &Dev{
		w:       colorable.NewColorableStdout(),
		width:   opts.Width,
		height:  opts.Height,
		palette: *p,
		cells:   make([]imagepwm.Cell, opts.Width*opts.Height),
	}
	return d
}

func (d *Dev) String() string {
	return "Screen2D"
}

// Halt implements conn.Resource.
//
// It resets the text attributes so the terminal is not corrupted.
func (d *Dev) Halt() error {
	_, err := d.w.Write([]byte("\n\033[0m"))
	if err != nil {
		return err
	}
	return nil
}

// Plot sets one cell and repaints.
//
// Out of bounds coordinates are dropped, like on the real panel.
func (d *Dev) Plot(x, y int, c imagepwm.Cell) {
	if !(image.Point{X: x, Y: y}).In(d.Bounds()) {
		return
	}
	d.cells[y*d.width+x] = c
	_ = d.refresh()
}

// ColorModel implements display.Drawer.
func (d *Dev) ColorModel() color.Model {
	return imagepwm.CellModel
}

// Bounds implements display.Drawer.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rectangle{Max: image.Point{X: d.width, Y: d.height}}
}

// Draw implements display.Drawer.
func (d *Dev) Draw(r image.Rectangle, src image.Image, sp image.Point) error {
	r = r.Intersect(d.Bounds())
	srcR := src.Bounds()
	srcR.Min = srcR.Min.Add(sp)
	if dX := r.Dx(); dX < srcR.Dx() {
		srcR.Max.X = srcR.Min.X + dX
	}
	if dY := r.Dy(); dY < srcR.Dy() {
		srcR.Max.Y = srcR.Min.Y + dY
	}
	for sY := srcR.Min.Y; sY < srcR.Max.Y; sY++ {
		dY := sY - srcR.Min.Y + r.Min.Y
		for sX := srcR.Min.X; sX < srcR.Max.X; sX++ {
			dX := sX - srcR.Min.X + r.Min.X
			d.cells[dY*d.width+dX] = imagepwm.CellModel.Convert(src.At(sX, sY)).(imagepwm.Cell)
		}
	}
	return d.refresh()
}

func (d *Dev) refresh() error {
	// This code is designed to minimize the amount of memory allocated per call.
	d.buf.Reset()
	if d.drawn {
		// Move back up over the previous frame so it is repainted in place.
		fmt.Fprintf(&d.buf, "\033[%dA", d.height)
	}
	d.drawn = true
	for y := 0; y < d.height; y++ {
		_, _ = d.buf.WriteString("\r\033[0m")
		for x := 0; x < d.width; x++ {
			r16, g16, b16, _ := d.cells[y*d.width+x].RGBA()
			c := color.NRGBA{R: byte(r16 >> 8), G: byte(g16 >> 8), B: byte(b16 >> 8), A: 255}
			_, _ = io.WriteString(&d.buf, d.palette.Block(c))
		}
		_, _ = d.buf.WriteString("\033[0m\n")
	}
	_, err := d.buf.WriteTo(d.w)
	return err
}

var _ display.Drawer = &Dev{}
var _ directmatrix.PixelSink = &Dev{}
var _ fmt.Stringer = &Dev{}
