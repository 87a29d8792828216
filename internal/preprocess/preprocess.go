// Package preprocess transforms a cropped region image to maximize OCR
// accuracy. The pipeline is a fixed ordered sequence of stages, each
// independently toggleable, with stage selection driven by measured image
// characteristics rather than running everything unconditionally.
package preprocess

import (
	"image"
	"image/draw"

	"github.com/rs/zerolog/log"
)

// Stage identifies one pipeline stage.
type Stage string

const (
	StageDenoise    Stage = "denoise"
	StageDeskew     Stage = "deskew"
	StageContrast   Stage = "contrast"
	StageSharpen    Stage = "sharpen"
	StageMorphology Stage = "morphology"
	StageBinarize   Stage = "binarize"
	StageUpscale    Stage = "upscale"
)

// order is the fixed stage order; selection only decides which to skip.
var order = []Stage{
	StageDenoise, StageDeskew, StageContrast, StageSharpen,
	StageMorphology, StageBinarize, StageUpscale,
}

// Config tunes stage selection thresholds.
type Config struct {
	TargetDPI        int     // upscale below this effective resolution
	SkewThresholdDeg float64 // skip deskew under this estimated angle
	NoiseThreshold   float64 // skip denoise under this laplacian response
	ContrastStdDev   float64 // skip contrast above this luminance spread
	MaxUpscale       float64 // cap on the upscale factor
	Disabled         map[Stage]bool
}

// DefaultConfig returns thresholds validated against scanned exam papers.
func DefaultConfig() Config {
	return Config{
		TargetDPI:        300,
		SkewThresholdDeg: 0.5,
		NoiseThreshold:   6.0,
		ContrastStdDev:   60.0,
		MaxUpscale:       3.0,
	}
}

// Result carries the processed image plus the diagnostics the OCR result
// must surface: which stages ran and the deskew angle applied.
type Result struct {
	Image     *image.Gray
	Applied   []Stage
	SkewDeg   float64
	SourceDPI int
}

// Pipeline applies the configured stages to region crops.
type Pipeline struct {
	cfg Config
}

// New creates a pipeline; zero thresholds fall back to defaults.
func New(cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.TargetDPI <= 0 {
		cfg.TargetDPI = def.TargetDPI
	}
	if cfg.SkewThresholdDeg <= 0 {
		cfg.SkewThresholdDeg = def.SkewThresholdDeg
	}
	if cfg.NoiseThreshold <= 0 {
		cfg.NoiseThreshold = def.NoiseThreshold
	}
	if cfg.ContrastStdDev <= 0 {
		cfg.ContrastStdDev = def.ContrastStdDev
	}
	if cfg.MaxUpscale <= 1 {
		cfg.MaxUpscale = def.MaxUpscale
	}
	return &Pipeline{cfg: cfg}
}

func (p *Pipeline) enabled(s Stage) bool { return !p.cfg.Disabled[s] }

// Run preprocesses one region crop. dpi is the effective resolution the
// region was rendered at; it drives the upscale decision.
func (p *Pipeline) Run(src image.Image, dpi int) Result {
	g := toGray(src)
	st := analyze(g)
	res := Result{SkewDeg: 0, SourceDPI: dpi}

	apply := func(s Stage, cond bool, fn func(*image.Gray) *image.Gray) {
		if !cond || !p.enabled(s) {
			return
		}
		g = fn(g)
		res.Applied = append(res.Applied, s)
	}

	// Already-binarized scans need neither tonal correction nor another
	// thresholding pass; reprocessing must stay close to a no-op.
	apply(StageDenoise, st.Noise > p.cfg.NoiseThreshold && !st.isBinary(), denoise)

	deskewNeeded := st.SkewDeg > p.cfg.SkewThresholdDeg || st.SkewDeg < -p.cfg.SkewThresholdDeg
	apply(StageDeskew, deskewNeeded, func(img *image.Gray) *image.Gray {
		res.SkewDeg = st.SkewDeg
		return deskew(img, st.SkewDeg)
	})

	apply(StageContrast, st.StdDev < p.cfg.ContrastStdDev && !st.isBinary(), contrast)

	// Sharpen only counteracts blur the denoise pass introduced.
	denoised := len(res.Applied) > 0 && res.Applied[0] == StageDenoise
	apply(StageSharpen, denoised, sharpen)

	lowRes := dpi > 0 && dpi < p.cfg.TargetDPI
	apply(StageMorphology, lowRes && !st.isBinary(), morphEnhance)

	apply(StageBinarize, !st.isBinary(), binarize)

	apply(StageUpscale, lowRes, func(img *image.Gray) *image.Gray {
		factor := float64(p.cfg.TargetDPI) / float64(dpi)
		if factor > p.cfg.MaxUpscale {
			factor = p.cfg.MaxUpscale
		}
		return upscale(img, factor)
	})

	res.Image = g
	log.Debug().
		Interface("stages", res.Applied).
		Float64("skew_deg", res.SkewDeg).
		Int("dpi", dpi).
		Float64("stddev", st.StdDev).
		Float64("noise", st.Noise).
		Msg("preprocessing completed")
	return res
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		out := image.NewGray(image.Rect(0, 0, g.Bounds().Dx(), g.Bounds().Dy()))
		draw.Draw(out, out.Bounds(), g, g.Bounds().Min, draw.Src)
		return out
	}
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	return out
}
