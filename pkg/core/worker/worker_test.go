package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWorker_Start(t *testing.T) {
	t.Run("runs function in background", func(t *testing.T) {
		executed := make(chan struct{})
		w := New("test-worker", zap.NewNop(), func(ctx context.Context) error {
			close(executed)
			<-ctx.Done()
			return nil
		})

		w.Start()

		select {
		case <-executed:
		case <-time.After(time.Second):
			t.Fatal("run function was not executed")
		}
		w.Stop()
	})

	t.Run("second start is a no-op", func(t *testing.T) {
		calls := make(chan struct{}, 2)
		w := New("test-worker", zap.NewNop(), func(ctx context.Context) error {
			calls <- struct{}{}
			<-ctx.Done()
			return nil
		})

		w.Start()
		w.Start()
		w.Stop()

		assert.Len(t, calls, 1)
	})
}

func TestWorker_Stop(t *testing.T) {
	t.Run("cancels context and waits", func(t *testing.T) {
		ctxReceived := make(chan context.Context, 1)
		w := New("test-worker", zap.NewNop(), func(ctx context.Context) error {
			ctxReceived <- ctx
			<-ctx.Done()
			return nil
		})
		w.Start()
		ctx := <-ctxReceived

		w.Stop()

		assert.ErrorIs(t, ctx.Err(), context.Canceled)
		select {
		case <-w.Done():
		default:
			t.Fatal("worker not finished after Stop")
		}
	})

	t.Run("never started", func(t *testing.T) {
		w := New("idle", zap.NewNop(), func(ctx context.Context) error { return nil })

		w.Stop()

		assert.NoError(t, w.Err())
	})
}

func TestWorker_Wait(t *testing.T) {
	t.Run("returns when input is drained", func(t *testing.T) {
		input := make(chan int, 3)
		var seen []int
		w := New("drain", zap.NewNop(), func(ctx context.Context) error {
			for v := range input {
				seen = append(seen, v)
			}
			return nil
		})
		w.Start()

		input <- 1
		input <- 2
		input <- 3
		close(input)

		require.NoError(t, w.Wait(context.Background()))
		assert.Equal(t, []int{1, 2, 3}, seen)
	})

	t.Run("cancels worker when deadline passes", func(t *testing.T) {
		w := New("slow", zap.NewNop(), func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		})
		w.Start()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		err := w.Wait(ctx)

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		<-w.Done()
	})
}

func TestWorker_Err(t *testing.T) {
	// Given: a worker whose run function fails
	core, logs := observer.New(zapcore.DebugLevel)
	boom := errors.New("boom")
	w := New("failing", zap.New(core), func(ctx context.Context) error { return boom })

	// When: it runs to completion
	w.Start()
	require.NoError(t, w.Wait(context.Background()))

	// Then: the error is kept and logged
	assert.ErrorIs(t, w.Err(), boom)
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}
