package obfuscate

import (
	"math"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wraith-network/wraith/internal/worker"
)

// CoverRateMode selects how the target cover-traffic rate is distributed
// over time.
type CoverRateMode uint8

const (
	CoverRateOff CoverRateMode = iota
	CoverRateConstant
	CoverRatePoisson
	CoverRateUniform
)

// CoverConfig parameterizes the cover-traffic generator.
type CoverConfig struct {
	Mode           CoverRateMode
	TargetPerSec   float64
	RealTrafficFn  func() float64 // current observed real-traffic rate, bytes/sec or frames/sec
	EmitPad        func()         // called to emit one PAD frame
}

// CoverGenerator runs a background loop emitting PAD frames at a target
// rate while real traffic stays below it, suppressing cover once real
// traffic exceeds the target. The wake-interval scheduling follows the
// teacher's decoy traffic worker: an exponential (Poisson-process) sleep
// between wakeups for CoverRatePoisson, reused here against PAD frames
// instead of Sphinx decoy mail, with Constant/Uniform variants added for
// the profiles §4.6 enumerates beyond the teacher's single mode.
type CoverGenerator struct {
	worker.Worker
	cfg CoverConfig
	rng *rand.Rand
	log *log.Logger
}

func NewCoverGenerator(cfg CoverConfig, logger *log.Logger) *CoverGenerator {
	if logger == nil {
		logger = log.Default()
	}
	return &CoverGenerator{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		log: logger.WithPrefix("obfuscate/cover"),
	}
}

// Start launches the generator's background loop. No-op if Mode is Off.
func (g *CoverGenerator) Start() {
	if g.cfg.Mode == CoverRateOff || g.cfg.TargetPerSec <= 0 {
		return
	}
	g.Go(g.run)
}

func (g *CoverGenerator) run() {
	for {
		interval := g.nextInterval()
		select {
		case <-g.HaltCh():
			return
		case <-time.After(interval):
			if g.cfg.RealTrafficFn != nil && g.cfg.RealTrafficFn() >= g.cfg.TargetPerSec {
				g.log.Debug("suppressing cover frame, real traffic at or above target")
				continue
			}
			if g.cfg.EmitPad != nil {
				g.cfg.EmitPad()
			}
		}
	}
}

func (g *CoverGenerator) nextInterval() time.Duration {
	mean := time.Second
	if g.cfg.TargetPerSec > 0 {
		mean = time.Duration(float64(time.Second) / g.cfg.TargetPerSec)
	}
	switch g.cfg.Mode {
	case CoverRateConstant:
		return mean
	case CoverRateUniform:
		lo, hi := mean/2, mean+mean/2
		return lo + time.Duration(g.rng.Int63n(int64(hi-lo+1)))
	case CoverRatePoisson:
		u := g.rng.Float64()
		if u <= 0 {
			u = 1e-9
		}
		lambda := 1.0 / mean.Seconds()
		seconds := -math.Log(1-u) / lambda
		return time.Duration(seconds * float64(time.Second))
	default:
		return mean
	}
}
