// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"github.com/GermanBionicSystems/owi/owi"
	"github.com/spf13/cobra"
)

var (
	searchAlarm  bool
	searchFamily string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List the devices on the bus",
	Long: `Enumerate the devices with the ROM search and list them.

With --alarm only the devices in alarm state answer. With --family only the
devices of that family code, in hexadecimal, are listed.`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().BoolVar(&searchAlarm, "alarm", false, "Only list the devices in alarm state")
	searchCmd.Flags().StringVar(&searchFamily, "family", "", "Only list the devices of this family code")
}

func runSearch(cmd *cobra.Command, args []string) error {
	family, err := parseFamily(searchFamily)
	if err != nil {
		return err
	}
	b, err := openBus()
	if err != nil {
		return err
	}
	defer b.Close()

	c := byte(owi.CmdSearchROM)
	if searchAlarm {
		c = owi.CmdAlarmSearch
	}
	if err := attach(b, c, family, nil); err != nil {
		return err
	}
	return listDrivers(b)
}
