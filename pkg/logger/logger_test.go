package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"development", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"production", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), "level %q", tt.in)
	}
}

func TestGet_WithoutInit(t *testing.T) {
	l := Get()
	require.NotNil(t, l)
	// must not panic
	l.Info("hello")
	l.ErrorContext(context.Background(), "no span")
}

func TestInit_SetsGlobal(t *testing.T) {
	err := Init(&Config{Level: "debug", ServiceName: "test", Development: true})
	require.NoError(t, err)

	l := Get()
	require.NotNil(t, l)
	assert.True(t, l.Zap().Core().Enabled(zapcore.DebugLevel))

	child := l.With()
	assert.NotNil(t, child)
	Sync()
}
