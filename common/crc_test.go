// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package common

import (
	"testing"

	"periph.io/x/conn/v3/onewire"
)

func TestCRC8(t *testing.T) {
	var tests = []struct {
		bytes  []byte
		result byte
	}{
		{bytes: []byte{}, result: 0x00},
		{bytes: []byte{0x01}, result: 0x5e},
		{bytes: []byte{0x02, 0x1c, 0xb8, 0x01, 0x00, 0x00, 0x00}, result: 0xa2},
		{bytes: []byte{0x28, 0xac, 0x41, 0x0e, 0x07, 0x00, 0x00}, result: 0x74},
	}
	for _, test := range tests {
		res := CRC8(test.bytes)
		if res != test.result {
			t.Errorf("CRC8(%#v)!=0x%02x received 0x%02x", test.bytes, test.result, res)
		}
		var crc byte
		for _, v := range test.bytes {
			for range 8 {
				crc = CRC8Bit(crc, v)
				v >>= 1
			}
		}
		if crc != res {
			t.Errorf("CRC8(%#v)=0x%02x but folding with CRC8Bit gives 0x%02x", test.bytes, res, crc)
		}
	}
}

func TestCRC8Bit(t *testing.T) {
	// Bit by bit accumulation must match the byte oriented table of periph.
	for b := 0; b < 256; b++ {
		var crc byte
		v := byte(b)
		for range 8 {
			crc = CRC8Bit(crc, v)
			v >>= 1
		}
		if want := onewire.CalcCRC([]byte{byte(b)}); crc != want {
			t.Fatalf("CRC8Bit over 0x%02x = 0x%02x; want 0x%02x", b, crc, want)
		}
	}
}

func TestCheckCRC8_roundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x10, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		{0x28, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
		{0x3a, 0x99, 0x13, 0x55, 0xaa, 0x80, 0x7f},
	}
	for _, p := range payloads {
		rom := append(append([]byte{}, p...), CRC8(p))
		if !CheckCRC8(rom) {
			t.Fatalf("%#v: checksum does not validate", rom)
		}
		// Every single bit error must be detected.
		for i := range len(rom) * 8 {
			bad := append([]byte{}, rom...)
			bad[i/8] ^= 1 << uint(i%8)
			if CheckCRC8(bad) {
				t.Errorf("%#v: flipping bit %d went undetected", rom, i)
			}
		}
	}
	if CheckCRC8(nil) {
		t.Fatal("empty buffer must not validate")
	}
}
