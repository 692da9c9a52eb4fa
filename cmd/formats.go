package cmd

import (
	"fmt"
	"strings"

	"github.com/smazurov/vidgrab/internal/capture"
	"github.com/spf13/cobra"
)

// CreateFormatsCmd creates the formats command.
func CreateFormatsCmd() *cobra.Command {
	var simulate bool

	cmd := &cobra.Command{
		Use:   "formats [device]",
		Short: "Enumerate pixel formats, frame sizes and frame intervals of a device",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := devicePath(args, simulate)
			dev, err := Opener(simulate)(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer dev.Close()

			neg := capture.NewNegotiator(dev, path)
			caps, err := neg.QueryCapabilities()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s (%s, %s)\n", path, caps.Card, caps.Driver, caps.Version)
			for desc, err := range neg.Formats() {
				if err != nil {
					return err
				}
				var flags []string
				if desc.Compressed {
					flags = append(flags, "compressed")
				}
				if desc.Emulated {
					flags = append(flags, "emulated")
				}
				line := fmt.Sprintf("  %s  %s", desc.FourCC, desc.Description)
				if len(flags) > 0 {
					line += " [" + strings.Join(flags, ",") + "]"
				}
				fmt.Fprintln(out, line)

				for size, err := range neg.FrameSizes(desc.Code) {
					if err != nil {
						return err
					}
					line := "      " + size.String()
					if size.Discrete() {
						var ivs []string
						for iv, err := range neg.FrameIntervals(desc.Code, size.MaxWidth, size.MaxHeight) {
							if err != nil {
								return err
							}
							ivs = append(ivs, iv.String())
						}
						if len(ivs) > 0 {
							line += "  @ " + strings.Join(ivs, " ")
						}
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
	addSimulateFlag(cmd, &simulate)
	return cmd
}

func devicePath(args []string, simulate bool) string {
	switch {
	case len(args) > 0:
		return args[0]
	case simulate:
		return SimulatedPath
	default:
		return "/dev/video0"
	}
}
