package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	cases := map[string]zap.AtomicLevel{
		"debug":   zap.NewAtomicLevelAt(zap.DebugLevel),
		"info":    zap.NewAtomicLevelAt(zap.InfoLevel),
		"warn":    zap.NewAtomicLevelAt(zap.WarnLevel),
		"error":   zap.NewAtomicLevelAt(zap.ErrorLevel),
		"verbose": zap.NewAtomicLevelAt(zap.InfoLevel),
	}

	for level, want := range cases {
		t.Run(level, func(t *testing.T) {
			log, err := New(level, "dev")
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(want.Level()))
			if want.Level() > zap.DebugLevel {
				assert.False(t, log.Core().Enabled(want.Level()-1))
			}
		})
	}
}
