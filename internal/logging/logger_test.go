package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var timeZero time.Time

func resetState() {
	mutex.Lock()
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	isInitialized = false
	globalConfig = Config{}
	mutex.Unlock()
}

func TestModuleLevelOverride(t *testing.T) {
	resetState()

	Initialize(Config{
		Level:  "info",
		Format: "text",
		Modules: map[string]string{
			"capture": "debug",
			"api":     "warn",
		},
	})

	tests := []struct {
		module    string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"capture", true, true, true},
		{"api", false, false, true},
		{"other", false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.module, func(t *testing.T) {
			handler := GetLogger(tt.module).Handler()
			ctx := context.Background()

			if got := handler.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("module %q: Debug enabled = %v, want %v", tt.module, got, tt.wantDebug)
			}
			if got := handler.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("module %q: Info enabled = %v, want %v", tt.module, got, tt.wantInfo)
			}
			if got := handler.Enabled(ctx, slog.LevelWarn); got != tt.wantWarn {
				t.Errorf("module %q: Warn enabled = %v, want %v", tt.module, got, tt.wantWarn)
			}
		})
	}
}

func TestLoggerCreatedBeforeInitialize(t *testing.T) {
	resetState()

	early := GetLogger("v4l2")
	if early.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("uninitialized logger should default to info")
	}

	Initialize(Config{Level: "debug", Format: "text"})

	if !early.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("logger fetched before Initialize should follow the new level")
	}
}

func TestReinitializeChangesLevels(t *testing.T) {
	resetState()

	Initialize(Config{Level: "info", Format: "text"})
	logger := GetLogger("capture")

	Initialize(Config{Level: "error", Format: "text"})
	if logger.Handler().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be disabled after reload to error")
	}
}

func TestSetModuleLevel(t *testing.T) {
	resetState()
	Initialize(Config{Level: "info", Format: "text"})

	if SetModuleLevel("capture", "verbose") {
		t.Error("SetModuleLevel accepted an unknown level")
	}
	if !SetModuleLevel("capture", "debug") {
		t.Fatal("SetModuleLevel rejected debug")
	}
	if !GetLogger("capture").Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled after SetModuleLevel")
	}
	if GetLogger("api").Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Error("SetModuleLevel leaked into another module")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"", 0, false},
		{"trace", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseLevel(tt.in)
			if (got != nil) != tt.ok {
				t.Fatalf("parseLevel(%q) ok = %v, want %v", tt.in, got != nil, tt.ok)
			}
			if got != nil && *got != tt.want {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.in, *got, tt.want)
			}
		})
	}
}

type failingHandler struct{ slog.Handler }

func (failingHandler) Handle(context.Context, slog.Record) error { return errors.New("sink down") }

func TestMultiHandlerFanOut(t *testing.T) {
	var debugBuf, infoBuf bytes.Buffer
	debugHandler := slog.NewTextHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug})
	infoHandler := slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})

	logger := slog.New(NewMultiHandler(debugHandler, infoHandler)).With("module", "capture")
	logger.Debug("dequeue", "index", 2)
	logger.Info("streaming")

	if !strings.Contains(debugBuf.String(), "dequeue") || !strings.Contains(debugBuf.String(), "streaming") {
		t.Errorf("debug handler output = %q, want both records", debugBuf.String())
	}
	if strings.Contains(infoBuf.String(), "dequeue") {
		t.Errorf("info handler received a debug record: %q", infoBuf.String())
	}
	if !strings.Contains(infoBuf.String(), "module=capture") {
		t.Errorf("info handler output = %q, want module attribute", infoBuf.String())
	}
}

func TestMultiHandlerKeepsDeliveringOnError(t *testing.T) {
	var buf bytes.Buffer
	good := slog.NewTextHandler(&buf, nil)
	bad := failingHandler{Handler: slog.NewTextHandler(&bytes.Buffer{}, nil)}

	h := NewMultiHandler(bad, good)
	r := slog.NewRecord(timeZero, slog.LevelInfo, "frame", 0)
	if err := h.Handle(context.Background(), r); err == nil {
		t.Error("Handle() error = nil, want joined sink error")
	}
	if !strings.Contains(buf.String(), "frame") {
		t.Error("healthy handler did not receive the record")
	}
}

func TestAddAttrToFields(t *testing.T) {
	fields := map[string]string{}
	addAttrToFields(fields, slog.Group("buffer", slog.Int("index", 3), slog.Bool("mapped", true)), nil)
	addAttrToFields(fields, slog.String("device-path", "/dev/video0"), []string{"session"})
	addAttrToFields(fields, slog.Attr{}, nil)

	want := map[string]string{
		"BUFFER_INDEX":        "3",
		"BUFFER_MAPPED":       "true",
		"SESSION_DEVICE_PATH": "/dev/video0",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %q, want %q", k, fields[k], v)
		}
	}
	if len(fields) != len(want) {
		t.Errorf("fields = %v, want %d entries", fields, len(want))
	}
}

func TestJournalKey(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"fps", "FPS"},
		{"session_id", "SESSION_ID"},
		{"device-path", "DEVICE_PATH"},
		{"frame.sequence", "FRAME_SEQUENCE"},
		{"_pid", "PID"},
		{"4cc", "F_4CC"},
		{"", "F_"},
	}
	for _, tt := range tests {
		if got := journalKey(tt.key); got != tt.want {
			t.Errorf("journalKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestJournalFields(t *testing.T) {
	h := NewJournalHandler(slog.LevelInfo).
		WithAttrs([]slog.Attr{slog.String("module", "capture"), slog.String("device", "/dev/video0")}).(*JournalHandler)

	r := slog.NewRecord(time.Time{}, slog.LevelWarn, "Frame dropped", 0)
	r.AddAttrs(slog.Int("index", 2), slog.String("device", "/dev/video1"))

	fields := h.fields(r)
	want := map[string]string{
		"SYSLOG_IDENTIFIER": SyslogIdentifier,
		"MODULE":            "capture",
		"DEVICE":            "/dev/video1",
		"INDEX":             "2",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("fields[%q] = %q, want %q", k, fields[k], v)
		}
	}
	if _, ok := fields["SYSLOG_TIMESTAMP"]; ok {
		t.Error("zero record time produced a timestamp field")
	}
}
