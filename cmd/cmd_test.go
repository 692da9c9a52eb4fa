package cmd

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func execute(t *testing.T, c *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&out)
	c.SetArgs(args)
	err := c.Execute()
	return out.String(), err
}

func TestDevicesSimulated(t *testing.T) {
	out, err := execute(t, CreateDevicesCmd(), "--simulate")
	if err != nil {
		t.Fatalf("devices error = %v", err)
	}
	if !strings.Contains(out, SimulatedPath) || !strings.Contains(out, "true") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestFormatsSimulated(t *testing.T) {
	out, err := execute(t, CreateFormatsCmd(), "--simulate")
	if err != nil {
		t.Fatalf("formats error = %v", err)
	}
	for _, want := range []string{"Simulated Camera", "YUYV", "640x480  @ 1/30 1/15 1/5", "1280x720", "MJPG", "[compressed]", "1920x1080  @ 1/30"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestProbeSimulated(t *testing.T) {
	pngPath := filepath.Join(t.TempDir(), "frame.png")
	out, err := execute(t, CreateProbeCmd(), "--simulate", "--frames", "2", "--equalize", "--output", pngPath)
	if err != nil {
		t.Fatalf("probe error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "640x480 RGB24, 921600 bytes") {
		t.Errorf("unexpected output:\n%s", out)
	}

	f, err := os.Open(pngPath)
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 640 || b.Dy() != 480 {
		t.Errorf("png bounds = %v", b)
	}
}

func TestProbeFrameRate(t *testing.T) {
	out, err := execute(t, CreateProbeCmd(), "--simulate", "--framerate", "15", "--frames", "1")
	if err != nil {
		t.Fatalf("probe error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "Frame rate 15 fps") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestControlsSimulated(t *testing.T) {
	out, err := execute(t, CreateControlsCmd(), "--simulate")
	if err != nil {
		t.Fatalf("controls error = %v", err)
	}
	for _, want := range []string{"KEY", "brightness", "0x00980900", "white_balance_temperature", "inactive", "power_line_frequency"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hue") {
		t.Errorf("disabled control listed:\n%s", out)
	}
}

func TestControlsSet(t *testing.T) {
	out, err := execute(t, CreateControlsCmd(), "--simulate", "--set", "brightness=300,white_balance_temperature_auto=0")
	if err != nil {
		t.Fatalf("controls error = %v", err)
	}
	for _, want := range []string{"Set brightness to 255", "Set white_balance_temperature_auto to 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "inactive") {
		t.Errorf("manual white balance still inactive:\n%s", out)
	}

	if _, err := execute(t, CreateControlsCmd(), "--simulate", "--set", "focus=1"); err == nil {
		t.Error("setting an unknown control should fail")
	}
}

func TestProbeReportsAdjustment(t *testing.T) {
	out, err := execute(t, CreateProbeCmd(), "--simulate", "--width", "700", "--height", "500", "--frames", "1")
	if err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if !strings.Contains(out, "Driver adjusted 700x500 to 640x480") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestProbeRejectsMissingDevice(t *testing.T) {
	_, err := execute(t, CreateProbeCmd(), "/nonexistent/video9")
	if err == nil {
		t.Fatal("expected error for missing device")
	}
}
