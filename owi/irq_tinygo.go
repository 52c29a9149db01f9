// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build tinygo

package owi

import "runtime/interrupt"

// Critical disables interrupts and returns the function restoring the
// previous interrupt state.
//
//	defer owi.Critical()()
func Critical() (restore func()) {
	state := interrupt.Disable()
	return func() { interrupt.Restore(state) }
}
