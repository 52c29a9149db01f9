// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package owi

import "time"

// SetDelay replaces the delay of the time slots, also seen by slave
// emulations through Delay, and returns a func restoring it.
func SetDelay(f func(time.Duration)) (restore func()) {
	old := delay
	delay = f
	return func() { delay = old }
}
