package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/vidgrab/cmd"
	"github.com/smazurov/vidgrab/internal/api"
	"github.com/smazurov/vidgrab/internal/capture"
	"github.com/smazurov/vidgrab/internal/config"
	"github.com/smazurov/vidgrab/internal/events"
	"github.com/smazurov/vidgrab/internal/logging"
	"github.com/smazurov/vidgrab/internal/metrics/exporters"
	"github.com/smazurov/vidgrab/internal/supervisor"
	"github.com/smazurov/vidgrab/internal/systemd"
	"github.com/smazurov/vidgrab/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"vidgrab.toml"`

	// Server settings
	Port string `help:"Address to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Capture settings
	Device      string        `help:"Video device to capture from" short:"d" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	Width       int           `help:"Requested frame width" default:"640" toml:"capture.width" env:"CAPTURE_WIDTH"`
	Height      int           `help:"Requested frame height" default:"480" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	Buffers     int           `help:"Driver buffers to request" default:"4" toml:"capture.buffers" env:"CAPTURE_BUFFERS"`
	FrameRate   int           `help:"Requested frames per second, 0 for the driver default" default:"0" toml:"capture.framerate" env:"CAPTURE_FRAMERATE"`
	WaitTimeout time.Duration `help:"Readiness wait per capture loop iteration" default:"2s" toml:"capture.wait_timeout" env:"CAPTURE_WAIT_TIMEOUT"`
	Simulate    bool          `help:"Capture from a simulated camera" default:"false" toml:"capture.simulate" env:"CAPTURE_SIMULATE"`

	// Auth settings; auth is off when either is empty
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture    string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingSupervisor string `help:"Supervisor logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingConfig     string `help:"Config watcher logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingV4L2       string `help:"V4L2 logging level" default:"info" toml:"logging.v4l2" env:"LOGGING_V4L2"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"capture":    o.LoggingCapture,
			"api":        o.LoggingAPI,
			"supervisor": o.LoggingSupervisor,
			"config":     o.LoggingConfig,
			"v4l2":       o.LoggingV4L2,
		},
	}
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		eventBus := events.New()
		registry := supervisor.New(eventBus)
		notifier := systemd.NewNotifier(logger)

		ctx, cancel := context.WithCancel(context.Background())
		var (
			server  *api.Server
			session *capture.Session
			watcher *config.Watcher[config.Settings]
		)

		hooks.OnStart(func() {
			defer registry.Recover()

			stopSignals := registry.WatchSignals(ctx, func(os.Signal) {
				notifier.Stopping()
			})
			defer stopSignals()

			device := opts.Device
			if opts.Simulate {
				device = cmd.SimulatedPath
			}

			var err error
			session, err = capture.Open(device, &capture.Options{
				Opener:      cmd.Opener(opts.Simulate),
				Registry:    registry,
				Bus:         eventBus,
				BufferCount: uint32(opts.Buffers),
				FrameRate:   uint32(max(opts.FrameRate, 0)),
				WaitTimeout: opts.WaitTimeout,
			})
			if err != nil {
				logger.Error("Failed to open capture device", "device", device, "error", err)
				os.Exit(1)
			}

			// A device that rejects the geometry stays open so it can be
			// reconfigured through the API.
			if _, _, err := session.Configure(uint32(opts.Width), uint32(opts.Height)); err != nil {
				logger.Error("Failed to configure capture", "error", err)
			} else if err := session.StartStreaming(); err != nil {
				logger.Error("Failed to start streaming", "error", err)
			}

			watcher = watchSettings(opts, session, notifier, logger)

			server = api.NewServer(&api.Options{
				AuthUsername:      opts.AuthUsername,
				AuthPassword:      opts.AuthPassword,
				Session:           session,
				EventBus:          eventBus,
				PrometheusHandler: exporters.HTTPHandler(),
			})

			go notifier.RunWatchdog(ctx, func() bool { return session.Err() == nil })
			notifier.Ready()
			notifier.Status("capturing from %s", device)

			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				_ = registry.CleanupAll()
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			notifier.Stopping()
			cancel()

			if server != nil {
				if stopErr := server.Stop(); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
			}
			if watcher != nil {
				_ = watcher.Stop()
			}
			if session != nil {
				if closeErr := session.Close(); closeErr != nil {
					logger.Error("Error closing capture session", "error", closeErr)
				}
			}
			if cleanupErr := registry.CleanupAll(); cleanupErr != nil {
				logger.Error("Error closing remaining sessions", "error", cleanupErr)
			}
			registry.Close()
		})
	})

	cli.Root().Use = "vidgrab"
	cli.Root().Short = "V4L2 capture daemon"
	cli.Root().Version = version.String()

	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateFormatsCmd())
	cli.Root().AddCommand(cmd.CreateControlsCmd())
	cli.Root().AddCommand(cmd.CreateProbeCmd())

	// Run the CLI
	cli.Run()
}

// watchSettings applies edits of the config file to the running daemon:
// logging levels change in place, a new geometry reconfigures the session
// and a new frame rate is renegotiated. SIGHUP forces a reload.
func watchSettings(opts *Options, session *capture.Session, notifier *systemd.Notifier, logger *slog.Logger) *config.Watcher[config.Settings] {
	if _, err := os.Stat(opts.Config); err != nil {
		logger.Debug("No config file to watch", "path", opts.Config)
		return nil
	}

	width, height := uint32(opts.Width), uint32(opts.Height)
	fps := uint32(max(opts.FrameRate, 0))
	watcher := config.NewConfigWatcher(opts.Config, config.LoadSettings, logging.GetLogger("config"),
		config.WithErrorHandler[config.Settings](func(err error) {
			logger.Warn("Ignoring invalid config change", "error", err)
		}),
	)
	watcher.OnReload(func(s config.Settings) {
		notifier.Reloading()
		defer notifier.Ready()

		logging.Initialize(s.Logging)

		if s.Capture.Width != width || s.Capture.Height != height {
			w, h, err := session.Reconfigure(s.Capture.Width, s.Capture.Height)
			if err != nil {
				logger.Error("Failed to apply new geometry", "width", s.Capture.Width, "height", s.Capture.Height, "error", err)
			} else {
				width, height = s.Capture.Width, s.Capture.Height
				logger.Info("Applied new geometry", "width", w, "height", h)
			}
		}

		if s.Capture.FrameRate != 0 && s.Capture.FrameRate != fps {
			rate, err := session.SetFrameRate(s.Capture.FrameRate)
			if err != nil {
				logger.Error("Failed to apply new frame rate", "fps", s.Capture.FrameRate, "error", err)
				return
			}
			fps = s.Capture.FrameRate
			logger.Info("Applied new frame rate", "fps", rate)
		}
	})

	if err := watcher.Start(); err != nil {
		logger.Warn("Failed to watch config file", "error", err)
		return nil
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			watcher.Reload()
		}
	}()
	return watcher
}
