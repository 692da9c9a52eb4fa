// Package cmd holds the diagnostic subcommands of the vidgrab binary.
package cmd

import (
	"github.com/smazurov/vidgrab/internal/capture"
	"github.com/smazurov/vidgrab/internal/simdev"
	"github.com/spf13/cobra"
)

// SimulatedPath is the device path reported in simulation mode.
const SimulatedPath = "sim://colorbars"

// Opener returns the device opener to use. With simulate set every path opens
// a fresh simulated camera drawing scrolling color bars at the negotiated frame rate.
func Opener(simulate bool) capture.Opener {
	if !simulate {
		return capture.OpenDevice
	}
	return func(string) (capture.Backend, error) {
		return simdev.New(simdev.Config{Generator: simdev.ColorBars}), nil
	}
}

func addSimulateFlag(cmd *cobra.Command, simulate *bool) {
	cmd.Flags().BoolVar(simulate, "simulate", false, "Use a simulated camera instead of real hardware")
}
