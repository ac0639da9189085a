package congestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacingRateNeverExceedsBtlBwTimesGain(t *testing.T) {
	c := New(1500)
	now := time.Now()
	for i := 0; i < 20; i++ {
		now = now.Add(20 * time.Millisecond)
		c.OnACK(15000, 20*time.Millisecond, now)
		require.LessOrEqual(t, c.PacingRate(), c.BtlBw()*c.PacingGain()+1e-9)
	}
}

func TestStartsInStartup(t *testing.T) {
	c := New(1500)
	require.Equal(t, StateStartup, c.State())
}

func TestTransitionsOutOfStartupWhenBandwidthPlateaus(t *testing.T) {
	c := New(1500)
	now := time.Now()
	for i := 0; i < 5; i++ {
		now = now.Add(20 * time.Millisecond)
		c.OnACK(100000, 20*time.Millisecond, now)
	}
	for i := 0; i < 5; i++ {
		now = now.Add(20 * time.Millisecond)
		c.OnACK(100000, 20*time.Millisecond, now)
	}
	require.NotEqual(t, StateStartup, c.State())
}

func TestProbeRTTCwndFixed(t *testing.T) {
	c := New(1500)
	c.state = StateProbeRTT
	require.Equal(t, 4*1500, c.InflightLimit())
}
