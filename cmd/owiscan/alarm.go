// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"time"

	"github.com/GermanBionicSystems/owi/owi"
	"github.com/spf13/cobra"
)

var (
	alarmFamily string
	alarmWatch  time.Duration
)

var alarmCmd = &cobra.Command{
	Use:   "alarm",
	Short: "List the devices in alarm state",
	Long: `Walk the devices in alarm state, optionally of one family code.

With --watch the devices found by a first search are attached and the alarm
search is repeated at that interval, reporting each alarm until interrupted.`,
	RunE: runAlarm,
}

func init() {
	rootCmd.AddCommand(alarmCmd)
	alarmCmd.Flags().StringVar(&alarmFamily, "family", "", "Only list the devices of this family code")
	alarmCmd.Flags().DurationVar(&alarmWatch, "watch", 0, "Repeat the alarm search at this interval")
}

func runAlarm(cmd *cobra.Command, args []string) error {
	family, err := parseFamily(alarmFamily)
	if err != nil {
		return err
	}
	b, err := openBus()
	if err != nil {
		return err
	}
	defer b.Close()

	if alarmWatch == 0 {
		it := b.Alarms(family)
		for it.Next() {
			if _, err := fmt.Fprintln(out, formatROM(it.Driver().ROM())); err != nil {
				return err
			}
		}
		return it.Err()
	}

	// Attach every device of the family with an observer.
	observer := owi.AlarmFunc(func(d *owi.Driver) {
		log.Printf("%s: alarm", d)
	})
	if err := attach(b, owi.CmdSearchROM, family, observer); err != nil {
		return err
	}
	if err := listDrivers(b); err != nil {
		return err
	}
	t := time.NewTicker(alarmWatch)
	defer t.Stop()
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-t.C:
			if _, err := b.AlarmDispatch(); err != nil {
				return err
			}
		}
	}
}
