package preprocess

import (
	"image"
	"math"
)

// imageStats summarizes the characteristics that drive stage selection.
type imageStats struct {
	Mean       float64 // mean luminance 0..255
	StdDev     float64 // luminance spread
	BinaryFrac float64 // fraction of pixels at the extremes (near 0 or 255)
	Noise      float64 // mean absolute laplacian, high on speckled scans
	SkewDeg    float64 // estimated text-line rotation in degrees
}

// isBinary reports whether the image is effectively already black/white.
func (s imageStats) isBinary() bool { return s.BinaryFrac > 0.95 }

func analyze(g *image.Gray) imageStats {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return imageStats{}
	}
	var sum, sumSq float64
	extremes := 0
	n := w * h
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for _, v := range row {
			f := float64(v)
			sum += f
			sumSq += f * f
			if v < 16 || v > 239 {
				extremes++
			}
		}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	st := imageStats{
		Mean:       mean,
		StdDev:     math.Sqrt(variance),
		BinaryFrac: float64(extremes) / float64(n),
	}
	st.Noise = estimateNoise(g)
	st.SkewDeg = estimateSkew(g)
	return st
}

// estimateNoise uses the mean absolute laplacian response. Clean text keeps
// sharp but sparse edges; speckle noise lights up everywhere.
func estimateNoise(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	var acc float64
	cnt := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := int(g.Pix[y*g.Stride+x])
			lap := 4*c -
				int(g.Pix[(y-1)*g.Stride+x]) -
				int(g.Pix[(y+1)*g.Stride+x]) -
				int(g.Pix[y*g.Stride+x-1]) -
				int(g.Pix[y*g.Stride+x+1])
			if lap < 0 {
				lap = -lap
			}
			acc += float64(lap)
			cnt++
		}
	}
	return acc / float64(cnt)
}

// estimateSkew finds the rotation angle whose horizontal ink projection has
// the highest variance (projection profile method). Straight text lines give
// sharply peaked row histograms; skewed lines smear them out.
func estimateSkew(g *image.Gray) float64 {
	small := downsampleForSkew(g, 400)
	b := small.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 20 || h < 20 {
		return 0
	}
	// Ink threshold at mean keeps this robust against uneven lighting.
	var sum int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sum += int(small.GrayAt(x, y).Y)
		}
	}
	thresh := uint8(sum / (w * h))

	best, bestVar := 0.0, -1.0
	for angle := -5.0; angle <= 5.0; angle += 0.25 {
		v := projectionVariance(small, thresh, angle)
		if v > bestVar {
			bestVar = v
			best = angle
		}
	}
	return best
}

func projectionVariance(g *image.Gray, thresh uint8, angleDeg float64) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	tan := math.Tan(angleDeg * math.Pi / 180)
	counts := make([]int, h+w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if g.GrayAt(x, y).Y < thresh {
				r := y + int(float64(x)*tan)
				if r >= 0 && r < len(counts) {
					counts[r]++
				}
			}
		}
	}
	var sum, sumSq float64
	for _, c := range counts {
		f := float64(c)
		sum += f
		sumSq += f * f
	}
	n := float64(len(counts))
	mean := sum / n
	return sumSq/n - mean*mean
}

func downsampleForSkew(g *image.Gray, maxDim int) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDim && h <= maxDim {
		return g
	}
	step := (max(w, h) + maxDim - 1) / maxDim
	out := image.NewGray(image.Rect(0, 0, w/step, h/step))
	for y := 0; y < h/step; y++ {
		for x := 0; x < w/step; x++ {
			out.SetGray(x, y, g.GrayAt(b.Min.X+x*step, b.Min.Y+y*step))
		}
	}
	return out
}
