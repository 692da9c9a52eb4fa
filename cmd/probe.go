package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"time"

	"github.com/smazurov/vidgrab/internal/capture"
	"github.com/spf13/cobra"
)

type probeOptions struct {
	path     string
	width    uint32
	height   uint32
	fps      uint32
	frames   uint64
	timeout  time.Duration
	equalize bool
	output   string
	opener   capture.Opener
}

// CreateProbeCmd creates the probe command.
func CreateProbeCmd() *cobra.Command {
	var simulate bool
	opts := probeOptions{}

	cmd := &cobra.Command{
		Use:   "probe [device]",
		Short: "Capture a few frames and print per-channel statistics",
		Long: `Opens the device, negotiates YUYV at the requested size, streams until the requested number of frames ` +
			`has been published and reports min, max and mean of each RGB channel of the last frame. ` +
			`With --output the frame is also written as a PNG file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.path = devicePath(args, simulate)
			opts.opener = Opener(simulate)
			return runProbe(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	addSimulateFlag(cmd, &simulate)
	cmd.Flags().Uint32Var(&opts.width, "width", 640, "Requested frame width")
	cmd.Flags().Uint32Var(&opts.height, "height", 480, "Requested frame height")
	cmd.Flags().Uint32Var(&opts.fps, "framerate", 0, "Requested frames per second; zero keeps the driver default")
	cmd.Flags().Uint64VarP(&opts.frames, "frames", "n", 5, "Frames to capture before sampling")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Give up when the frames have not arrived by then")
	cmd.Flags().BoolVar(&opts.equalize, "equalize", false, "Equalize each channel's histogram before sampling")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the sampled frame to this PNG file")
	return cmd
}

func runProbe(ctx context.Context, out io.Writer, o probeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if o.frames == 0 {
		o.frames = 1
	}

	sess, err := capture.Open(o.path, &capture.Options{Opener: o.opener, FrameRate: o.fps})
	if err != nil {
		return err
	}
	defer sess.Close()

	w, h, err := sess.Configure(o.width, o.height)
	if err != nil {
		return err
	}
	if w != o.width || h != o.height {
		fmt.Fprintf(out, "Driver adjusted %dx%d to %dx%d\n", o.width, o.height, w, h)
	}
	if n, _ := sess.Negotiated(); n.FrameRate > 0 {
		fmt.Fprintf(out, "Frame rate %.4g fps\n", n.FrameRate)
	}

	if err := sess.StartStreaming(); err != nil {
		return err
	}
	if err := waitFrames(ctx, sess, o.frames, o.timeout); err != nil {
		_ = sess.StopStreaming()
		return err
	}
	frame := sess.GrabFrame()
	if err := sess.StopStreaming(); err != nil {
		return err
	}

	if o.equalize {
		capture.Equalize(frame.Data)
	}
	stats := capture.Stats(frame.Data)

	fmt.Fprintf(out, "Frame %d: %dx%d RGB24, %d bytes\n", frame.Sequence, frame.Width, frame.Height, frame.Len())
	for i, name := range []string{"R", "G", "B"} {
		s := stats[i]
		fmt.Fprintf(out, "  %s  min=%3d  max=%3d  mean=%6.2f\n", name, s.Min, s.Max, s.Mean)
	}

	if o.output != "" {
		if err := writePNG(o.output, frame); err != nil {
			return err
		}
		fmt.Fprintf(out, "Wrote %s\n", o.output)
	}
	return nil
}

func waitFrames(ctx context.Context, sess *capture.Session, n uint64, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := sess.Status()
		if st.Published >= n {
			return nil
		}
		if err := sess.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("got %d of %d frames: %w", st.Published, n, ctx.Err())
		case <-ticker.C:
		}
	}
}

func writePNG(path string, frame capture.Frame) error {
	if frame.Empty() {
		return errors.New("no frame to write")
	}
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i, j := 0, 0; i+2 < len(frame.Data) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j], img.Pix[j+1], img.Pix[j+2], img.Pix[j+3] = frame.Data[i], frame.Data[i+1], frame.Data[i+2], 0xff
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
