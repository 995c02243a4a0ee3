package internal

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo, false)

	logger.Debug("hidden")
	logger.Info("visible", "step", "source")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record written at info level: %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, Name+".step=source") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestLogLevel(t *testing.T) {
	defer SetMode(ModeDebug, ModeEnabled(ModeDebug))
	defer SetMode(ModeQuiet, ModeEnabled(ModeQuiet))

	SetMode(ModeDebug, false)
	SetMode(ModeQuiet, false)
	if LogLevel() != slog.LevelInfo {
		t.Fatalf("LogLevel = %v, want info", LogLevel())
	}

	SetMode(ModeQuiet, true)
	if LogLevel() != slog.LevelWarn {
		t.Fatalf("LogLevel = %v, want warn", LogLevel())
	}

	SetMode(ModeDebug, true)
	if LogLevel() != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want debug", LogLevel())
	}
}

func TestModesIndependent(t *testing.T) {
	defer SetMode(ModeVerbose, ModeEnabled(ModeVerbose))
	defer SetMode(ModeQuiet, ModeEnabled(ModeQuiet))

	SetMode(ModeQuiet, true)
	SetMode(ModeVerbose, false)
	if !ModeEnabled(ModeQuiet) || ModeEnabled(ModeVerbose) {
		t.Fatal("clearing verbose changed quiet")
	}
	if ModeEnabled(ModeQuiet | ModeVerbose) {
		t.Fatal("combined mode reported enabled with one switch off")
	}
}

func TestBuildInfoString(t *testing.T) {
	tests := []struct {
		info BuildInfo
		want string
	}{
		{BuildInfo{Version: "1.4.0", Stage: "main", Commit: "a1b2c3d", Arch: "arm64"}, "1.4.0 a1b2c3d [arm64]"},
		{BuildInfo{Version: "1.4.0", Stage: "beta", Commit: "a1b2c3d", Arch: "amd64"}, "1.4.0+beta a1b2c3d [amd64]"},
		{BuildInfo{Version: localVersion}, "(local)"},
		{BuildInfo{Version: localVersion, Commit: "0123456789abcdef", Dirty: true}, "(local) 0123456789ab-dirty"},
	}
	for _, tt := range tests {
		if got := tt.info.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestInfoLocal(t *testing.T) {
	if version != "" && stage != "" && gitCommit != "" {
		t.Skip("built with release linker flags")
	}
	if !Info().Local() {
		t.Fatalf("Info = %+v, want local", Info())
	}
}
