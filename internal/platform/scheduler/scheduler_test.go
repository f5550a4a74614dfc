package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidSpec(t *testing.T) {
	t.Parallel()

	_, err := New(Spec{}, func(context.Context) error { return nil }, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(Spec{Cron: "not a cron"}, func(context.Context) error { return nil }, zerolog.Nop())
	assert.Error(t, err)
}

func TestCronTakesPrecedence(t *testing.T) {
	t.Parallel()

	s, err := New(Spec{Interval: time.Minute, Cron: "0 6 * * *"}, func(context.Context) error { return nil }, zerolog.Nop())
	require.NoError(t, err)

	from := time.Date(2024, 1, 1, 7, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2024, 1, 2, 6, 0, 0, 0, time.Local), s.Next(from))
}

func TestRunOnStartExecutesImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	ran := make(chan struct{}, 1)
	s, err := New(Spec{Interval: time.Hour, RunOnStart: true}, func(context.Context) error {
		calls.Add(1)
		ran <- struct{}{}
		return errors.New("boom")
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not executed on start")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestRunRepeatsOnInterval(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	s, err := New(Spec{Interval: time.Second}, func(context.Context) error {
		calls.Add(1)
		return nil
	}, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}
