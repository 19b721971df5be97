// Copyright 2022 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package directmatrix drives passive LED matrices that are addressed
// directly through an X/Y pin grid, like the monochrome or bi-color 8x8
// matrices sold by Sparkfun, without any controller chip in between.
//
// Each row is a shared cathode driven by one GPIO (Low enables the row) and
// each column is a shared anode (High lights the LED), either driven by one
// GPIO per column and color, or clocked serially into a shift register per
// color plane. Since the panel has no PWM of its own, the driver refreshes it
// continuously: a periodic timer walks the rows and emits one binary code
// modulation bit-plane per pass, doubling the tick period between passes so
// that bit b of a pixel's intensity is lit for a duration proportional to
// 2^b. Four passes give 16 levels per color channel.
//
// Drawing is asynchronous: Plot and Draw store into the framebuffer and the
// refresh goroutine picks the change up on its next pass. There is no frame
// commit and no tearing control beyond per-cell atomicity.
//
// # Refresh timing
//
// With the default 150µs base period and 8 rows, a full frame takes
// 150µs x (1+2+4+8) x 8 = 18ms, about 55Hz. ISRRuntime and ISRLatency expose
// the measured cost of the refresh callback so the base period can be tuned:
// a runtime close to the base period means the refresh cannot keep up.
//
// # More details
//
// Matrices known to work:
//
// https://www.sparkfun.com/products/682
//
// https://www.sparkfun.com/products/683
//
// BCM as a PWM technique is described at
// http://www.batsocks.co.uk/readme/art_bcm_1.htm
package directmatrix
