package cmd

import (
	"fmt"
	"math"
	"slices"
	"text/tabwriter"

	"github.com/smazurov/vidgrab/internal/capture"
	"github.com/spf13/cobra"
)

// CreateControlsCmd creates the controls command.
func CreateControlsCmd() *cobra.Command {
	var (
		simulate bool
		set      map[string]int64
	)

	cmd := &cobra.Command{
		Use:   "controls [device]",
		Short: "List or change the user controls of a device",
		Long: `Prints every enabled control with its range and current value. ` +
			`--set key=value applies changes first; keys are the names shown in the KEY column or numeric ids.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := devicePath(args, simulate)
			dev, err := Opener(simulate)(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer dev.Close()

			neg := capture.NewNegotiator(dev, path)
			out := cmd.OutOrStdout()

			keys := make([]string, 0, len(set))
			for k := range set {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				v := set[k]
				if v < math.MinInt32 || v > math.MaxInt32 {
					return fmt.Errorf("%s: value %d out of range", k, v)
				}
				c, err := neg.Control(k)
				if err != nil {
					return err
				}
				if c, err = neg.SetControl(c.ID, int32(v)); err != nil {
					return err
				}
				fmt.Fprintf(out, "Set %s to %d\n", c.Key, c.Value)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tID\tTYPE\tVALUE\tDEFAULT\tRANGE\tFLAGS")
			for c, err := range neg.Controls() {
				if err != nil {
					return err
				}
				var flags string
				switch {
				case c.ReadOnly:
					flags = "read-only"
				case c.Inactive:
					flags = "inactive"
				}
				fmt.Fprintf(tw, "%s\t0x%08x\t%s\t%d\t%d\t%d..%d/%d\t%s\n",
					c.Key, c.ID, c.Type, c.Value, c.Default, c.Min, c.Max, c.Step, flags)
			}
			return tw.Flush()
		},
	}
	addSimulateFlag(cmd, &simulate)
	cmd.Flags().StringToInt64Var(&set, "set", nil, "Controls to change, e.g. brightness=140,contrast=40")
	return cmd
}
