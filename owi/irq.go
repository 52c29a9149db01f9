// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !tinygo

package owi

import "runtime"

// Critical enters a section during which the 1-wire timing must not be
// disturbed and returns the function that leaves it. Use it as
//
//	defer owi.Critical()()
//
// so it is left on every return path.
//
// On a hosted OS there is no way to mask interrupts from user space; the
// goroutine is pinned to its OS thread so it is not migrated in the middle
// of a time slot.
func Critical() (restore func()) {
	runtime.LockOSThread()
	return runtime.UnlockOSThread
}
