package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHaltStopsLoop(t *testing.T) {
	var w Worker
	stopped := make(chan struct{})
	w.Go(func() {
		<-w.HaltCh()
		close(stopped)
	})
	require.False(t, w.Done())
	w.Halt()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("loop did not observe halt")
	}
	w.Wait()
	require.True(t, w.Done())
}

func TestHaltIdempotent(t *testing.T) {
	var w Worker
	require.NotPanics(t, func() {
		w.Halt()
		w.Halt()
	})
}
