package obfuscate

// Profile is a closed adaptive obfuscation profile (§4.6) choosing a
// padding strategy, timing distribution, and cover rate jointly.
type Profile uint8

const (
	ProfileLow Profile = iota
	ProfileMedium
	ProfileHigh
	ProfileParanoid
)

// Settings is the resolved (padding, jitter, cover) triple for a Profile.
type Settings struct {
	Padding    PaddingStrategy
	Jitter     Jitter
	CoverMode  CoverRateMode
	CoverPerSec float64
}

// Resolve returns the concrete settings for a profile. Low approximates
// (None, None, off); Paranoid approximates (ConstantRate, Exponential,
// constant cover), per §4.6.
func Resolve(p Profile) Settings {
	switch p {
	case ProfileLow:
		return Settings{Padding: PaddingNone, Jitter: Jitter{Kind: JitterNone}, CoverMode: CoverRateOff}
	case ProfileMedium:
		return Settings{
			Padding:     PaddingSizeClasses,
			Jitter:      Jitter{Kind: JitterUniform, Lo: 0, Hi: 5e6}, // 5ms: Lo and Hi are time.Duration nanoseconds
			CoverMode:   CoverRatePoisson,
			CoverPerSec: 2,
		}
	case ProfileHigh:
		return Settings{
			Padding:     PaddingPowerOfTwo,
			Jitter:      Jitter{Kind: JitterExponential, Lambda: 20},
			CoverMode:   CoverRatePoisson,
			CoverPerSec: 10,
		}
	case ProfileParanoid:
		return Settings{
			Padding:     PaddingConstantRate,
			Jitter:      Jitter{Kind: JitterExponential, Lambda: 50},
			CoverMode:   CoverRateConstant,
			CoverPerSec: 50,
		}
	default:
		return Resolve(ProfileLow)
	}
}
