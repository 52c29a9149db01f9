// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package common contains functions used across multiple packages. For
// example, the 1-wire CRC8 calculation shared by the bus master and the
// slave emulation.
package common

import "periph.io/x/conn/v3/onewire"

// crc8Poly is x^8+x^5+x^4+1 (0x31) bit reversed, as the 1-wire CRC is
// shifted in LSB first.
const crc8Poly = 0x8c

// CRC8Bit folds a single bit into the running 1-wire CRC and returns the new
// partial value. Only the lowest bit of bit is used.
//
// Feeding every bit of a buffer LSB first through CRC8Bit, starting from 0,
// yields the same value as CRC8.
func CRC8Bit(crc, bit byte) byte {
	mix := (crc ^ bit) & 1
	crc >>= 1
	if mix != 0 {
		crc ^= crc8Poly
	}
	return crc
}

// CRC8 calculates the Dallas Semi / Maxim 1-wire CRC of the byte slice
// parameter and returns the calculated value.
func CRC8(bytes []byte) byte {
	return onewire.CalcCRC(bytes)
}

// CheckCRC8 verifies that the last byte of the buffer contains the CRC8 of
// the previous bytes.
func CheckCRC8(bytes []byte) bool {
	return onewire.CheckCRC(bytes)
}
