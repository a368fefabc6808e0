package logger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func restoreDefaults(t *testing.T) {
	t.Helper()
	original := defaultLogger
	restoreGlobals := zap.ReplaceGlobals(zap.L())
	t.Cleanup(func() {
		defaultLogger = original
		restoreGlobals()
	})
}

func TestNew(t *testing.T) {
	for _, development := range []bool{true, false} {
		t.Run(map[bool]string{true: "development", false: "production"}[development], func(t *testing.T) {
			restoreDefaults(t)

			// Given
			cfg := Config{Level: zapcore.WarnLevel, StacktraceLevel: zapcore.ErrorLevel, Development: development}

			// When
			l, level, err := New(cfg)

			// Then
			require.NoError(t, err)
			assert.Equal(t, zapcore.WarnLevel, level.Level())
			assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
			assert.Same(t, l, zap.L())
			assert.Same(t, l, Get(context.Background()))
		})
	}
}

func TestNew_AtomicLevelChangesLogger(t *testing.T) {
	restoreDefaults(t)

	l, level, err := New(DefaultConfig())
	require.NoError(t, err)
	require.False(t, l.Core().Enabled(zapcore.DebugLevel))

	level.SetLevel(zapcore.DebugLevel)

	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_InvalidConfig(t *testing.T) {
	_, _, err := New(Config{OutputPaths: []string{""}})

	assert.Error(t, err)
}

func TestGetWith(t *testing.T) {
	restoreDefaults(t)
	defaultLogger = zap.NewNop()
	custom := zap.NewExample()

	t.Run("nil context", func(t *testing.T) {
		//nolint:staticcheck // nil context is supported
		assert.Same(t, defaultLogger, Get(nil))
	})

	t.Run("empty context", func(t *testing.T) {
		assert.Same(t, defaultLogger, Get(context.Background()))
	})

	t.Run("stored logger", func(t *testing.T) {
		assert.Same(t, custom, Get(With(context.Background(), custom)))
	})

	t.Run("nil stored logger", func(t *testing.T) {
		assert.Same(t, defaultLogger, Get(With(context.Background(), nil)))
	})

	t.Run("nil parent context", func(t *testing.T) {
		//nolint:staticcheck // nil context is supported
		ctx := With(nil, custom)
		assert.Same(t, custom, Get(ctx))
	})

	t.Run("innermost logger wins", func(t *testing.T) {
		inner := zap.NewExample()
		ctx := With(With(context.Background(), custom), inner)
		assert.Same(t, inner, Get(ctx))
	})

	t.Run("concurrent access", func(t *testing.T) {
		ctx := With(context.Background(), custom)
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.Same(t, custom, Get(ctx))
			}()
		}
		wg.Wait()
	})
}
