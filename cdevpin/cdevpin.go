// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cdevpin exposes Linux GPIO character device lines as gpio.PinOut.
//
// Some recent boards ship kernels without the legacy sysfs GPIO interface,
// so host drivers cannot enumerate their pins. The character device
// (/dev/gpiochipN) still works there. This package wraps a line requested
// through it so it can be handed to drivers expecting gpio.PinOut.
package cdevpin

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

var ErrNotImplemented = errors.New("cdevpin: not implemented")

// Pin is a single GPIO line requested from a gpiochip character device.
type Pin struct {
	name   string
	number int
	line   *gpiocdev.Line
}

// New requests the line at offset on chip, for example New("gpiochip0", 21),
// and configures it as an output driven low.
func New(chip string, offset int) (*Pin, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("cdevpin: requesting %s line %d: %w", chip, offset, err)
	}
	return &Pin{name: fmt.Sprintf("%s/%d", chip, offset), number: offset, line: line}, nil
}

// Name returns the chip and offset of the line.
func (p *Pin) Name() string {
	return p.name
}

// Number returns the line offset within its chip.
func (p *Pin) Number() int {
	return p.number
}

// Deprecated: returns "Out"
func (p *Pin) Function() string {
	return "Out"
}

// Out drives the line.
func (p *Pin) Out(l gpio.Level) error {
	v := 0
	if l {
		v = 1
	}
	return p.line.SetValue(v)
}

// Not implemented.
func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return ErrNotImplemented
}

// Halt implements conn.Resource. It releases the line.
func (p *Pin) Halt() error {
	return p.line.Close()
}

func (p *Pin) String() string {
	return p.name
}

var _ gpio.PinOut = &Pin{}
