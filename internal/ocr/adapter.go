package ocr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	mpkg "github.com/local/examextract/internal/metrics"
)

// Breaker gates engines that keep failing. A nil breaker means always allow.
type Breaker interface {
	IsOpen(ctx context.Context, engine string) bool
	Open(ctx context.Context, engine string)
	Close(ctx context.Context, engine string)
}

// inflightLimiter is an optional Breaker capability capping concurrent calls
// per engine. Allow returns a release func and whether the call may proceed.
type inflightLimiter interface {
	Allow(engine string) (func(), bool)
}

// Weights combines the selection criteria. Latency is a tie-breaker only, so
// its weight should stay orders of magnitude below the other two.
type Weights struct {
	Confidence float64
	Quality    float64
	LatencyTie float64 // subtracted per second of processing time
}

// Config tunes the adapter. The exact coefficients are deliberately
// configurable; validate them against real exam-paper samples.
type Config struct {
	Weights         Weights
	FallbackPenalty float64 // confidence multiplier when the primary engine failed outright
	EngineTimeout   time.Duration
}

// DefaultConfig returns the coefficients used in production.
func DefaultConfig() Config {
	return Config{
		Weights:         Weights{Confidence: 0.6, Quality: 0.4, LatencyTie: 0.001},
		FallbackPenalty: 0.75,
		EngineTimeout:   60 * time.Second,
	}
}

// Adapter runs the configured engines over a preprocessed region image and
// picks the best result. The first engine is the primary; the rest are
// fallbacks in order.
type Adapter struct {
	engines []Engine
	cfg     Config
	breaker Breaker
}

// NewAdapter builds an adapter; zero config fields fall back to defaults.
func NewAdapter(cfg Config, breaker Breaker, engines ...Engine) *Adapter {
	def := DefaultConfig()
	if cfg.Weights.Confidence <= 0 && cfg.Weights.Quality <= 0 {
		cfg.Weights = def.Weights
	}
	if cfg.FallbackPenalty <= 0 || cfg.FallbackPenalty > 1 {
		cfg.FallbackPenalty = def.FallbackPenalty
	}
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = def.EngineTimeout
	}
	return &Adapter{engines: engines, cfg: cfg, breaker: breaker}
}

type candidate struct {
	engine  string
	result  Result
	quality float64
	latency time.Duration
	score   float64
}

// Recognize tries each engine over the PNG-encoded image and returns the
// highest-scoring usable result. All-engine failure yields an explicit
// failed result, never an error: the caller must be able to skip or flag
// this region without losing progress on siblings.
func (a *Adapter) Recognize(ctx context.Context, png []byte, stages []string) RegionResult {
	started := time.Now()
	var candidates []candidate
	var failures []string
	primaryFailed := false

	for i, eng := range a.engines {
		if !eng.Available() {
			if i == 0 {
				primaryFailed = true
			}
			failures = append(failures, eng.Name()+": unavailable")
			mpkg.ObserveOCR(eng.Name(), "unavailable", 0)
			continue
		}
		if a.breaker != nil && a.breaker.IsOpen(ctx, eng.Name()) {
			if i == 0 {
				primaryFailed = true
			}
			failures = append(failures, eng.Name()+": breaker open")
			log.Debug().Str("engine", eng.Name()).Msg("circuit breaker open, skipping engine")
			continue
		}

		var release func()
		if lim, ok := a.breaker.(inflightLimiter); ok {
			rel, allowed := lim.Allow(eng.Name())
			if !allowed {
				if i == 0 {
					primaryFailed = true
				}
				failures = append(failures, eng.Name()+": saturated")
				mpkg.ObserveOCR(eng.Name(), "saturated", 0)
				continue
			}
			release = rel
		}

		cctx, cancel := context.WithTimeout(ctx, a.cfg.EngineTimeout)
		callStart := time.Now()
		res, err := eng.Recognize(cctx, png)
		latency := time.Since(callStart)
		cancel()
		if release != nil {
			release()
		}

		if err != nil {
			if i == 0 {
				primaryFailed = true
			}
			failures = append(failures, eng.Name()+": "+err.Error())
			mpkg.ObserveOCR(eng.Name(), classify(err), latency)
			if a.breaker != nil && isTransient(err) {
				a.breaker.Open(ctx, eng.Name())
			}
			log.Warn().Err(err).Str("engine", eng.Name()).Dur("duration", latency).Msg("OCR engine call failed")
			continue
		}
		if a.breaker != nil {
			a.breaker.Close(ctx, eng.Name())
		}
		mpkg.ObserveOCR(eng.Name(), "success", latency)

		conf := res.Confidence
		if i > 0 && primaryFailed {
			// Secondary result standing in for a failed primary carries a
			// reduced-confidence penalty rather than failing outright.
			conf *= a.cfg.FallbackPenalty
			res.Confidence = conf
		}
		quality := TextQuality(res.Text)
		if quality == 0 {
			failures = append(failures, eng.Name()+": empty or unusable text")
			continue
		}
		score := a.cfg.Weights.Confidence*conf +
			a.cfg.Weights.Quality*quality -
			a.cfg.Weights.LatencyTie*latency.Seconds()
		candidates = append(candidates, candidate{
			engine: eng.Name(), result: res, quality: quality, latency: latency, score: score,
		})
	}

	if len(candidates) == 0 {
		return RegionResult{
			Success:       false,
			Duration:      time.Since(started),
			Stages:        stages,
			FailureReason: strings.Join(failures, "; "),
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		}
	}
	log.Debug().
		Str("engine", best.engine).
		Float64("confidence", best.result.Confidence).
		Float64("quality", best.quality).
		Float64("score", best.score).
		Int("candidates", len(candidates)).
		Msg("OCR result selected")

	return RegionResult{
		Success:    true,
		Engine:     best.engine,
		Text:       best.result.Text,
		Confidence: best.result.Confidence,
		Duration:   time.Since(started),
		Stages:     stages,
	}
}

func classify(err error) string {
	switch {
	case IsRateLimited(err):
		return "rate_limited"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// isTransient reports whether the failure should open the breaker: rate
// limits, timeouts, 5xx responses and network-level errors.
func isTransient(err error) bool {
	if IsRateLimited(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == 429
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof")
}
