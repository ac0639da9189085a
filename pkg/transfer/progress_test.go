package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProgressTrackerAccumulatesBytes(t *testing.T) {
	pt := NewProgressTracker(1000)
	pt.RecordBytes(100)
	pt.RecordBytes(200)
	snap := pt.Snapshot()
	require.Equal(t, uint64(300), snap.BytesTransferred)
	require.Equal(t, uint64(1000), snap.TotalBytes)
}

func TestProgressTrackerETAZeroWhenComplete(t *testing.T) {
	pt := NewProgressTracker(100)
	pt.RecordBytes(100)
	time.Sleep(time.Millisecond)
	snap := pt.Snapshot()
	require.Equal(t, time.Duration(0), snap.ETA)
}
