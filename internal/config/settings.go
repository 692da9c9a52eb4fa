package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/vidgrab/internal/logging"
)

// CaptureSettings is the [capture] section of the config file.
type CaptureSettings struct {
	Device      string        `toml:"device"`
	Width       uint32        `toml:"width"`
	Height      uint32        `toml:"height"`
	Buffers     uint32        `toml:"buffers"`
	FrameRate   uint32        `toml:"framerate"`
	WaitTimeout time.Duration `toml:"wait_timeout"`
}

// Settings holds the sections of the config file that can change while the
// daemon is running.
type Settings struct {
	Capture CaptureSettings
	Logging logging.Config
}

// DefaultSettings returns the values used when a key is absent.
func DefaultSettings() Settings {
	return Settings{
		Capture: CaptureSettings{
			Device:      "/dev/video0",
			Width:       640,
			Height:      480,
			Buffers:     4,
			WaitTimeout: 2 * time.Second,
		},
		Logging: logging.Config{
			Level:   "info",
			Format:  "text",
			Modules: make(map[string]string),
		},
	}
}

type rawSettings struct {
	Capture struct {
		Device      *string `toml:"device"`
		Width       *int64  `toml:"width"`
		Height      *int64  `toml:"height"`
		Buffers     *int64  `toml:"buffers"`
		FrameRate   *int64  `toml:"framerate"`
		WaitTimeout *string `toml:"wait_timeout"`
	} `toml:"capture"`
	Logging map[string]any `toml:"logging"`
}

// LoadSettings reads the reloadable sections from path on top of
// DefaultSettings. A missing file yields the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, err
	}

	var raw rawSettings
	if err := toml.Unmarshal(data, &raw); err != nil {
		return s, fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}

	c := raw.Capture
	if c.Device != nil {
		s.Capture.Device = *c.Device
	}
	for _, dim := range []struct {
		name string
		src  *int64
		dst  *uint32
	}{
		{"width", c.Width, &s.Capture.Width},
		{"height", c.Height, &s.Capture.Height},
		{"buffers", c.Buffers, &s.Capture.Buffers},
	} {
		if dim.src == nil {
			continue
		}
		if *dim.src <= 0 || *dim.src > 1<<16 {
			return s, fmt.Errorf("capture.%s: %d out of range", dim.name, *dim.src)
		}
		*dim.dst = uint32(*dim.src)
	}
	if c.FrameRate != nil {
		if *c.FrameRate < 0 || *c.FrameRate > 1000 {
			return s, fmt.Errorf("capture.framerate: %d out of range", *c.FrameRate)
		}
		s.Capture.FrameRate = uint32(*c.FrameRate)
	}
	if c.WaitTimeout != nil {
		d, err := time.ParseDuration(*c.WaitTimeout)
		if err != nil || d <= 0 {
			return s, fmt.Errorf("capture.wait_timeout: invalid duration %q", *c.WaitTimeout)
		}
		s.Capture.WaitTimeout = d
	}

	s.Logging = parseLogging(raw.Logging, s.Logging)
	return s, nil
}

// parseLogging accepts both module layouts seen in config files:
// flat keys under [logging] and a nested [logging.modules] table.
func parseLogging(section map[string]any, cfg logging.Config) logging.Config {
	for key, value := range section {
		switch val := value.(type) {
		case string:
			switch key {
			case "level":
				cfg.Level = val
			case "format":
				cfg.Format = val
			default:
				cfg.Modules[key] = val
			}
		case map[string]any:
			if key != "modules" {
				continue
			}
			for module, level := range val {
				if s, ok := level.(string); ok {
					cfg.Modules[module] = s
				}
			}
		}
	}
	return cfg
}
