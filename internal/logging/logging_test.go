package logging

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestFromContextDefaultsToNop(t *testing.T) {
	logger := FromContext(context.Background())
	if logger.GetLevel() != zerolog.Disabled {
		t.Errorf("expected disabled nop logger, got level %v", logger.GetLevel())
	}

	l := zerolog.New(nil).Level(zerolog.WarnLevel)
	got := FromContext(WithLogger(context.Background(), l))
	if got.GetLevel() != zerolog.WarnLevel {
		t.Errorf("expected logger from context, got level %v", got.GetLevel())
	}
}

func TestNewLoggerWithoutWritersHonoursLevel(t *testing.T) {
	logger := NewLoggerWithConfig(LogConfig{Level: "error"})
	if logger.GetLevel() != zerolog.ErrorLevel {
		t.Errorf("level = %v, want error", logger.GetLevel())
	}
}
