package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextFixedTimeAfter(t *testing.T) {
	anchor := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, anchor.Add(30*time.Second), nextFixedTimeAfter(anchor, 30*time.Second, anchor))
	assert.Equal(t, anchor.Add(60*time.Second), nextFixedTimeAfter(anchor, 30*time.Second, anchor.Add(31*time.Second)))
	// 错过的节拍直接跳过
	assert.Equal(t, anchor.Add(150*time.Second), nextFixedTimeAfter(anchor, 30*time.Second, anchor.Add(125*time.Second)))
}

func TestStartKeepsGoingAfterErrorsAndPanics(t *testing.T) {
	var calls atomic.Int32
	s := NewInterval("test", 5*time.Millisecond, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx, func(context.Context) error {
			switch calls.Add(1) {
			case 1:
				return errors.New("upstream unavailable")
			case 2:
				panic("boom")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStartRejectsInvalidInterval(t *testing.T) {
	s := NewInterval("bad", 0, false)
	assert.Error(t, s.Start(context.Background(), func(context.Context) error { return nil }))
	assert.Error(t, NewInterval("nil", time.Second, false).Start(context.Background(), nil))
}
