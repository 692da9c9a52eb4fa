// Package logging provides structured logging with per-module log levels.
//
// Records are routed automatically: to the systemd journal when journald is
// reachable, to stdout when a terminal, pipe or file is attached, and to
// both through a [MultiHandler] when both are available.
//
// Initialize once at startup and fetch module loggers afterwards:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"capture": "debug",
//			"api":     "warn",
//		},
//	})
//
//	logger := logging.GetLogger("capture").With("device", "/dev/video0")
//	logger.Info("Streaming started", "buffers", 4)
//
// Calling Initialize again (for example after a config reload) updates the
// level of every logger already handed out. A single module can be changed
// with [SetModuleLevel].
//
// Journal entries carry SYSLOG_IDENTIFIER=vidgrab and one upper-case field per
// attribute:
//
//	journalctl -t vidgrab MODULE=capture -f
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	capture = "debug"
//	v4l2 = "warn"
package logging
