// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"log"

	"github.com/GermanBionicSystems/owi/owi"
	"github.com/GermanBionicSystems/owi/owislave"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio"
)

var (
	emulateROM   string
	emulateAlarm bool
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Act as a 1-wire device",
	Long: `Answer as one device on the data line until interrupted.

The device implements the ROM commands and answers the status function code
(0x11). The crc part of --rom may be "--" to have it computed.`,
	Args: cobra.NoArgs,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().StringVar(&emulateROM, "rom", "", "ROM of the device, ff-ssssssssssss-cc")
	emulateCmd.Flags().BoolVar(&emulateAlarm, "alarm", false, "Set the alarm flag")
	_ = emulateCmd.MarkFlagRequired("rom")
}

func runEmulate(cmd *cobra.Command, args []string) error {
	rom, err := owi.ParseROM(emulateROM)
	if err != nil {
		return err
	}
	q, err := openPin()
	if err != nil {
		return err
	}
	opts := owislave.DefaultOpts
	if pullUp {
		opts.Pull = gpio.PullUp
	}
	opts.Handler = owislave.HandlerFunc(func(fn byte) []byte {
		log.Printf("function %#02x", fn)
		return nil
	})
	d, err := owislave.New(q, rom, &opts)
	if err != nil {
		return err
	}
	defer d.Halt()
	d.SetAlarm(emulateAlarm)

	log.Printf("%s: running", d)
	err = d.Run(cmd.Context())
	s := d.Snapshot()
	log.Printf("%s: %d transaction(s), state %s", d, s.Transactions, s.State)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
