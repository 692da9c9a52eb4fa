package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/smazurov/vidgrab/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var simulate bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 video devices",
		Long:  `Scans sysfs for video4linux nodes and prints every device with its driver and whether it can stream captured frames.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var devices []v4l2.DeviceInfo
			if simulate {
				devices = []v4l2.DeviceInfo{{
					DevicePath: SimulatedPath,
					DeviceName: "Simulated Camera",
					DeviceID:   "simdev",
					Driver:     "simdev",
					BusInfo:    "platform:simdev",
					Caps:       v4l2.CapVideoCapture | v4l2.CapStreaming,
				}}
			} else {
				found, err := v4l2.FindDevices()
				if err != nil {
					return fmt.Errorf("device discovery failed: %w", err)
				}
				devices = found
			}

			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No video devices found")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tNAME\tDRIVER\tCAPTURE\tID")
			for _, d := range devices {
				canCapture := d.Caps&v4l2.CapVideoCapture != 0 && d.Caps&v4l2.CapStreaming != 0
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", d.DevicePath, d.DeviceName, d.Driver, canCapture, d.DeviceID)
			}
			return tw.Flush()
		},
	}
	addSimulateFlag(cmd, &simulate)
	return cmd
}
