package sequencer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockScheduler_AfterFunc(t *testing.T) {
	var fired atomic.Bool
	ClockScheduler{}.AfterFunc(5*time.Millisecond, func() { fired.Store(true) })
	require.Eventually(t, fired.Load, time.Second, time.Millisecond)
}

func TestClockScheduler_AfterFuncStop(t *testing.T) {
	var fired atomic.Bool
	tm := ClockScheduler{}.AfterFunc(time.Hour, func() { fired.Store(true) })
	require.True(t, tm.Stop())
	require.False(t, tm.Stop())
	require.False(t, fired.Load())
}

func TestClockScheduler_Every(t *testing.T) {
	var ticks atomic.Int32
	tm := ClockScheduler{}.Every(2*time.Millisecond, func() { ticks.Add(1) })
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	require.True(t, tm.Stop())
	require.False(t, tm.Stop())
	// At most one tick already in flight may land after Stop.
	time.Sleep(10 * time.Millisecond)
	n := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, n, ticks.Load())
}
