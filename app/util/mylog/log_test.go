package mylog

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))

	// Unknown and empty values keep the permissive default.
	assert.Equal(t, slog.LevelDebug, ParseLevel(""))
	assert.Equal(t, slog.LevelDebug, ParseLevel("verbose"))
}
