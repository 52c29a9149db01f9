// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package devices is a container for the 1-wire bus packages.
//
// owi is a bit-banged 1-wire bus master on a GPIO pin, with ROM search,
// device drivers and alarm dispatch. owislave makes the host behave as a
// 1-wire slave device. cmd/owiscan is a command line tool using both.
package devices
