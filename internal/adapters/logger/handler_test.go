package logger_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/adapters/logger"
)

func newHandler(t *testing.T) (*logger.PrettyHandler, *bytes.Buffer) {
	t.Helper()
	t.Setenv("NO_COLOR", "1")
	var buf bytes.Buffer
	return logger.NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}), &buf
}

func TestPrettyHandler_Levels(t *testing.T) {
	tests := []struct {
		name   string
		level  slog.Level
		prefix string
	}{
		{name: "info has no icon", level: slog.LevelInfo, prefix: "message"},
		{name: "warn icon", level: slog.LevelWarn, prefix: "! message"},
		{name: "error icon", level: slog.LevelError, prefix: "✗ message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, buf := newHandler(t)
			record := slog.NewRecord(time.Time{}, tt.level, "message", 0)
			require.NoError(t, h.Handle(context.Background(), record))
			assert.Equal(t, tt.prefix+"\n", buf.String())
		})
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	h, _ := newHandler(t)
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestPrettyHandler_Attrs(t *testing.T) {
	h, buf := newHandler(t)

	record := slog.NewRecord(time.Time{}, slog.LevelInfo, "built", 0)
	record.AddAttrs(slog.String("target", "app"))
	require.NoError(t, h.Handle(context.Background(), record))

	assert.Equal(t, "built target=app\n", buf.String())
}

func TestPrettyHandler_WithAttrsAndGroup(t *testing.T) {
	h, buf := newHandler(t)

	grouped := h.WithGroup("run").WithAttrs([]slog.Attr{slog.Int("jobs", 4)})
	record := slog.NewRecord(time.Time{}, slog.LevelInfo, "started", 0)
	require.NoError(t, grouped.Handle(context.Background(), record))

	assert.Equal(t, "started run.jobs=4\n", buf.String())
}
