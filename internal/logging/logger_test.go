package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, want := range testCases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewLoggerHonorsLevelForBothFormats(t *testing.T) {
	for _, format := range []string{FormatJSON, FormatConsole} {
		logger, err := NewLogger("warn", format)
		if err != nil {
			t.Fatalf("NewLogger(%s) failed: %v", format, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("expected info to be disabled for %s logger", format)
		}
		if !logger.Core().Enabled(zapcore.WarnLevel) {
			t.Fatalf("expected warn to be enabled for %s logger", format)
		}
	}
}
