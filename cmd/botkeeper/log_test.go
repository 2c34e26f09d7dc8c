// ABOUTME: Tests for the console slog handler
// ABOUTME: Checks level filtering, inherited attrs, and group prefixes

package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "supervisor").Info("bot spawned", "handle_id", "h1")
	logger.WithGroup("driver").Warn("socket closed", "code", 1006)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if assert.Len(t, lines, 2) {
		assert.Contains(t, lines[0], "INF bot spawned component=supervisor handle_id=h1")
		assert.Contains(t, lines[1], "WRN socket closed driver.code=1006")
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
