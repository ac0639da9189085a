package obfuscate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTargetSizeNeverBelowPayload(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, s := range []PaddingStrategy{PaddingNone, PaddingPowerOfTwo, PaddingSizeClasses, PaddingConstantRate, PaddingStatistical} {
		got := TargetSize(s, 100, rng, 0)
		require.GreaterOrEqual(t, got, 100)
		require.LessOrEqual(t, got, MaxPacketSize)
	}
}

func TestConstantRateAlwaysMax(t *testing.T) {
	require.Equal(t, MaxPacketSize, TargetSize(PaddingConstantRate, 1, nil, 0))
}

func TestPowerOfTwoRoundsUp(t *testing.T) {
	require.Equal(t, 128, TargetSize(PaddingPowerOfTwo, 100, nil, 0))
	require.Equal(t, 256, TargetSize(PaddingPowerOfTwo, 129, nil, 0))
}

func TestSizeClassesNearest(t *testing.T) {
	require.Equal(t, 512, TargetSize(PaddingSizeClasses, 200, nil, 0))
	require.Equal(t, 128, TargetSize(PaddingSizeClasses, 50, nil, 0))
}

func TestFloorByPacing(t *testing.T) {
	require.Equal(t, 10*time.Millisecond, FloorByPacing(1*time.Millisecond, 10*time.Millisecond))
	require.Equal(t, 20*time.Millisecond, FloorByPacing(20*time.Millisecond, 10*time.Millisecond))
}

func TestJitterNoneIsZero(t *testing.T) {
	j := Jitter{Kind: JitterNone}
	require.Equal(t, time.Duration(0), j.Delay(rand.New(rand.NewSource(1))))
}

func TestJitterUniformWithinRange(t *testing.T) {
	j := Jitter{Kind: JitterUniform, Lo: 10 * time.Millisecond, Hi: 20 * time.Millisecond}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		d := j.Delay(rng)
		require.GreaterOrEqual(t, d, j.Lo)
		require.Less(t, d, j.Hi)
	}
}

func TestCoverGeneratorEmitsWhenBelowTarget(t *testing.T) {
	emitted := make(chan struct{}, 10)
	cfg := CoverConfig{
		Mode:          CoverRateConstant,
		TargetPerSec:  200,
		RealTrafficFn: func() float64 { return 0 },
		EmitPad:       func() { emitted <- struct{}{} },
	}
	g := NewCoverGenerator(cfg, nil)
	g.Start()
	defer g.HaltAndWait()

	select {
	case <-emitted:
	case <-time.After(2 * time.Second):
		t.Fatal("no cover frame emitted")
	}
}

func TestCoverGeneratorSuppressedWhenRealTrafficHigh(t *testing.T) {
	emitted := make(chan struct{}, 10)
	cfg := CoverConfig{
		Mode:          CoverRateConstant,
		TargetPerSec:  500,
		RealTrafficFn: func() float64 { return 1e9 },
		EmitPad:       func() { emitted <- struct{}{} },
	}
	g := NewCoverGenerator(cfg, nil)
	g.Start()
	defer g.HaltAndWait()

	select {
	case <-emitted:
		t.Fatal("cover frame emitted despite high real traffic")
	case <-time.After(100 * time.Millisecond):
	}
}
