// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"os/signal"

	"github.com/GermanBionicSystems/owi/owi"
	"github.com/maruel/ansi256"
	"github.com/mattn/go-colorable"
	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/onewire/onewirereg"
	"periph.io/x/host/v3"
)

var (
	pinName string
	pullUp  bool
	retries int
	noColor bool

	out io.Writer = colorable.NewColorableStdout()
)

var rootCmd = &cobra.Command{
	Use:   "owiscan",
	Short: "1-wire bus scanner",
	Long: `owiscan - A CLI tool for 1-wire buses bit-banged on a GPIO pin.

The data line needs a pull-up resistor, typically 4.7kΩ, unless --pullup
selects the internal pull-up of the pin.

Examples:
  # List the devices
  owiscan search --pin GPIO4

  # List the DS18B20 temperature sensors in alarm state
  owiscan alarm --family 28

  # Act as a device on another host
  owiscan emulate --pin GPIO17 --rom 28-000000000042---`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&pinName, "pin", "p", "GPIO4", "GPIO pin of the data line")
	rootCmd.PersistentFlags().BoolVar(&pullUp, "pullup", false, "Use the internal pull-up of the pin")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", owi.DefaultOpts.ResetRetries, "Reset retries when no device answers")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

// Execute runs the root command until it completes or is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// openPin initializes the host drivers and returns the data pin.
func openPin() (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, err
	}
	q := gpioreg.ByName(pinName)
	if q == nil {
		return nil, fmt.Errorf("unknown pin %q", pinName)
	}
	return q, nil
}

// openBus registers the bus on the data pin in onewirereg and opens it.
func openBus() (*owi.Bus, error) {
	q, err := openPin()
	if err != nil {
		return nil, err
	}
	opts := owi.DefaultOpts
	opts.ResetRetries = retries
	if pullUp {
		opts.Pull = gpio.PullUp
	}
	name := "owi-" + q.Name()
	if err := owi.Register(name, nil, q, &opts); err != nil {
		return nil, err
	}
	bc, err := onewirereg.Open(name)
	if err != nil {
		return nil, err
	}
	b, ok := bc.(*owi.Bus)
	if !ok {
		_ = bc.Close()
		return nil, errors.New("unexpected bus " + bc.String())
	}
	return b, nil
}

// formatROM renders a ROM, with a colored block identifying its family.
func formatROM(r owi.ROM) string {
	if noColor {
		return r.String()
	}
	f := r.Family()
	c := color.NRGBA{R: f * 37, G: f * 91, B: f * 173, A: 255}
	return ansi256.Default.Block(c) + "\033[0m " + r.String()
}

func parseFamily(s string) (byte, error) {
	if s == "" {
		return 0, nil
	}
	r, err := owi.ParseROM(s + "-000000000000---")
	if err != nil {
		return 0, fmt.Errorf("invalid family %q", s)
	}
	return r.Family(), nil
}
