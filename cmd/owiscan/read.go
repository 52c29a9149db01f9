// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"

	"github.com/GermanBionicSystems/owi/common"
	"github.com/GermanBionicSystems/owi/owi"
	"github.com/GermanBionicSystems/owi/owislave"
	"github.com/spf13/cobra"
)

var (
	statusROM    string
	statusFamily string
	statusIndex  int
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the ROM of the only device on the bus",
	Args:  cobra.NoArgs,
	RunE:  runRead,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the status byte of a device",
	Long: `Address one device and send it the status function code (0x11). The
device answers one status byte, bit 0 being the alarm flag, and its CRC.

The device is selected with --rom, or with --family and --index which search
the bus for the index-th device of the family.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusROM, "rom", "", "ROM of the device, ff-ssssssssssss-cc")
	statusCmd.Flags().StringVar(&statusFamily, "family", "", "Family code of the device")
	statusCmd.Flags().IntVar(&statusIndex, "index", 0, "Index of the device within its family")
}

func runRead(cmd *cobra.Command, args []string) error {
	b, err := openBus()
	if err != nil {
		return err
	}
	defer b.Close()
	d := &owi.Driver{Name: "dev0"}
	b.Attach(d)
	if err := d.ReadROM(); err != nil {
		return err
	}
	return listDrivers(b)
}

func runStatus(cmd *cobra.Command, args []string) error {
	b, err := openBus()
	if err != nil {
		return err
	}
	defer b.Close()
	d := &owi.Driver{Name: "dev0"}
	b.Attach(d)
	switch {
	case statusROM != "":
		r, err := owi.ParseROM(statusROM)
		if err != nil {
			return err
		}
		d.SetROM(r)
	case statusFamily != "":
		family, err := parseFamily(statusFamily)
		if err != nil {
			return err
		}
		if err := d.Connect(family, statusIndex); err != nil {
			return err
		}
	default:
		return errors.New("one of --rom or --family is required")
	}

	var r [2]byte
	if err := d.Tx([]byte{owislave.CmdStatus}, r[:]); err != nil {
		return err
	}
	if !common.CheckCRC8(r[:]) {
		return fmt.Errorf("%s: invalid status %#x", d, r)
	}
	_, err = fmt.Fprintf(out, "%s alarm=%t\n", formatROM(d.ROM()), r[0]&1 != 0)
	return err
}
