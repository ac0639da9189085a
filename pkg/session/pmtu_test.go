package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPMTUBinarySearchConverges(t *testing.T) {
	p := NewPMTUDiscovery()
	now := time.Now()
	require.True(t, p.ShouldStartRound(now))
	p.StartRound(now)

	const pathLimit = 4000
	rounds := 0
	for {
		size, more := p.NextProbeSize()
		if !more {
			break
		}
		p.OnProbeResult(size, size <= pathLimit)
		rounds++
		require.Less(t, rounds, 100, "search should converge well under 100 rounds")
	}
	require.InDelta(t, pathLimit, p.Current(), pmtuConvergeDelta)
}

func TestPMTURefreshCadence(t *testing.T) {
	p := NewPMTUDiscovery()
	now := time.Now()
	p.StartRound(now)
	require.False(t, p.ShouldStartRound(now.Add(time.Minute)))
	require.True(t, p.ShouldStartRound(now.Add(PMTURefreshInterval+time.Second)))
}
