// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package imagepwm implements the packed intensity format used by directly
// addressed LED matrices.
//
// Each pixel is one 16 bit word holding up to four color channels of four
// bits each: nibble i is the intensity of channel i, 0 is off and 15 is full
// brightness. A refresh engine doing binary code modulation displays bit
// 1<<(4*i+b) of a word during bit-plane b of channel i.
package imagepwm

import (
	"image"
	"image/color"
	"image/draw"
)

// Cell is the intensity word of one pixel.
//
// Nibble i holds the 4 bit intensity of color channel i. Channels beyond
// what the target device wires are ignored by the device but still stored.
type Cell uint16

// Channel returns the 4 bit intensity of channel i, i in [0, 4).
func (c Cell) Channel(i int) uint8 {
	return uint8(c>>(4*uint(i))) & 0x0F
}

// RGBA maps channels 0, 1 and 2 to red, green and blue. Channel 3 has no
// standard color interpretation and is left out.
func (c Cell) RGBA() (r, g, b, a uint32) {
	// 0xF * 0x1111 = 0xFFFF.
	return uint32(c&0x0F) * 0x1111, uint32(c>>4&0x0F) * 0x1111, uint32(c>>8&0x0F) * 0x1111, 0xFFFF
}

func toCell(c color.Color) color.Color {
	if c, ok := c.(Cell); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return Cell(r>>12) | Cell(g>>12)<<4 | Cell(b>>12)<<8
}

// CellModel converts any color.Color to a Cell.
var CellModel = color.ModelFunc(toCell)

// Image is an in-memory framebuffer of Cells.
//
// It implements draw.Image so the standard library and text rasterizers can
// draw into it directly. The cell for pixel (x, y) is at
// Pix[(y-Rect.Min.Y)*Stride + (x-Rect.Min.X)]; a refresh engine walking rows
// reads Pix without bounds checks. Cells are written with single 16 bit
// stores so a concurrent reader never observes a torn cell.
type Image struct {
	// Pix holds the image pixels, one Cell per pixel.
	Pix []Cell
	// Stride is the Pix offset between vertically adjacent pixels.
	Stride int
	// Rect is the image bounds.
	Rect image.Rectangle
}

// New returns an initialized (all off) Image of the given bounds.
func New(r image.Rectangle) *Image {
	w, h := r.Dx(), r.Dy()
	if w < 0 || h < 0 {
		return &Image{Rect: r}
	}
	return &Image{
		Pix:    make([]Cell, w*h),
		Stride: w,
		Rect:   r,
	}
}

// ColorModel implements image.Image.
func (i *Image) ColorModel() color.Model {
	return CellModel
}

// Bounds implements image.Image.
func (i *Image) Bounds() image.Rectangle {
	return i.Rect
}

// At implements image.Image.
func (i *Image) At(x, y int) color.Color {
	return i.CellAt(x, y)
}

// CellAt is like At but returns the Cell without an interface allocation.
func (i *Image) CellAt(x, y int) Cell {
	if !(image.Point{X: x, Y: y}.In(i.Rect)) {
		return 0
	}
	return i.Pix[i.PixOffset(x, y)]
}

// Set implements draw.Image.
func (i *Image) Set(x, y int, c color.Color) {
	i.SetCell(x, y, CellModel.Convert(c).(Cell))
}

// SetCell is like Set but skips the color conversion.
func (i *Image) SetCell(x, y int, c Cell) {
	if !(image.Point{X: x, Y: y}.In(i.Rect)) {
		return
	}
	i.Pix[i.PixOffset(x, y)] = c
}

// PixOffset returns the index into Pix for the pixel at (x, y).
func (i *Image) PixOffset(x, y int) int {
	return (y-i.Rect.Min.Y)*i.Stride + (x - i.Rect.Min.X)
}

// Clear turns every pixel off.
//
// It may race with a refresh reading the buffer; each cell write is a single
// word store so the refresh sees a mix of old and new cells at worst.
func (i *Image) Clear() {
	for n := range i.Pix {
		i.Pix[n] = 0
	}
}

var _ draw.Image = &Image{}
var _ color.Color = Cell(0)
