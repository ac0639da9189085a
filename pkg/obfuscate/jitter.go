package obfuscate

import (
	"math"
	"math/rand"
	"time"
)

// JitterKind selects the timing-jitter distribution applied to outbound
// packets before they reach the pacer.
type JitterKind uint8

const (
	JitterNone JitterKind = iota
	JitterFixed
	JitterUniform
	JitterNormal
	JitterExponential
)

// Jitter parameterizes one of the five distributions from §4.6.
type Jitter struct {
	Kind   JitterKind
	Fixed  time.Duration
	Lo, Hi time.Duration
	Mu     time.Duration
	Sigma  time.Duration
	Lambda float64 // events per second, for Exponential
}

// Delay draws one delay sample. The caller is responsible for flooring the
// result against the pacer's minimum interval (§4.6: "the scheduler
// respects BBR's pacing interval as a floor").
func (j Jitter) Delay(rng *rand.Rand) time.Duration {
	switch j.Kind {
	case JitterNone:
		return 0
	case JitterFixed:
		return j.Fixed
	case JitterUniform:
		if j.Hi <= j.Lo {
			return j.Lo
		}
		span := j.Hi - j.Lo
		return j.Lo + time.Duration(rng.Int63n(int64(span)))
	case JitterNormal:
		d := rng.NormFloat64()*float64(j.Sigma) + float64(j.Mu)
		if d < 0 {
			d = 0
		}
		return time.Duration(d)
	case JitterExponential:
		lambda := j.Lambda
		if lambda <= 0 {
			lambda = 1
		}
		u := rng.Float64()
		if u <= 0 {
			u = 1e-9
		}
		seconds := -math.Log(1-u) / lambda
		return time.Duration(seconds * float64(time.Second))
	default:
		return 0
	}
}

// FloorByPacing returns d clamped to be no smaller than the BBR pacer's
// minimum inter-packet interval, so jitter can only add delay, never
// violate the pacing floor.
func FloorByPacing(d, pacingFloor time.Duration) time.Duration {
	if d < pacingFloor {
		return pacingFloor
	}
	return d
}
