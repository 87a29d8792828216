package preprocess

import (
	"bytes"
	"image"
	"testing"
)

// textLines builds a clean white image with black horizontal bars standing in
// for text lines.
func textLines(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255)
			if y%20 >= 8 && y%20 < 12 {
				v = 0
			}
			g.Pix[y*g.Stride+x] = v
		}
	}
	return g
}

func applied(res Result, s Stage) bool {
	for _, a := range res.Applied {
		if a == s {
			return true
		}
	}
	return false
}

func TestBinarizedImageIsStable(t *testing.T) {
	p := New(DefaultConfig())
	src := textLines(200, 200)

	first := p.Run(src, 300)
	second := p.Run(first.Image, 300)

	// Already binarized, already straight, at target DPI: nothing to do.
	if len(second.Applied) != 0 {
		t.Fatalf("second pass applied stages: %v", second.Applied)
	}
	if !bytes.Equal(first.Image.Pix, second.Image.Pix) {
		t.Fatal("second pass changed a stable image")
	}
}

func TestSkipsDeskewOnStraightText(t *testing.T) {
	p := New(DefaultConfig())
	res := p.Run(textLines(200, 200), 300)
	if applied(res, StageDeskew) {
		t.Fatalf("deskew applied to straight text: %v", res.Applied)
	}
	if res.SkewDeg != 0 {
		t.Fatalf("skew angle recorded without deskew: %v", res.SkewDeg)
	}
}

func TestUpscaleOnlyBelowTargetDPI(t *testing.T) {
	p := New(DefaultConfig())

	low := p.Run(textLines(100, 100), 150)
	if !applied(low, StageUpscale) {
		t.Fatalf("low-dpi region not upscaled: %v", low.Applied)
	}
	if low.Image.Bounds().Dx() != 200 {
		t.Fatalf("expected 2x upscale, got width %d", low.Image.Bounds().Dx())
	}

	high := p.Run(textLines(100, 100), 300)
	if applied(high, StageUpscale) {
		t.Fatalf("target-dpi region upscaled: %v", high.Applied)
	}
}

func TestBinarizeProducesBlackAndWhiteOnly(t *testing.T) {
	// Gradient background with dark text bars forces the binarize stage.
	g := image.NewGray(image.Rect(0, 0, 120, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 120; x++ {
			v := uint8(120 + x/2)
			if y%20 >= 8 && y%20 < 12 {
				v = 30
			}
			g.Pix[y*g.Stride+x] = v
		}
	}
	p := New(DefaultConfig())
	res := p.Run(g, 300)
	if !applied(res, StageBinarize) {
		t.Fatalf("binarize not applied: %v", res.Applied)
	}
	for _, v := range res.Image.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("non-binary pixel value %d after binarize", v)
		}
	}
}

func TestDisabledStageIsSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Disabled = map[Stage]bool{StageUpscale: true}
	p := New(cfg)
	res := p.Run(textLines(100, 100), 100)
	if applied(res, StageUpscale) {
		t.Fatalf("disabled stage ran: %v", res.Applied)
	}
}

func TestStageOrderPreserved(t *testing.T) {
	// Whatever subset runs, it must respect the fixed pipeline order.
	g := image.NewGray(image.Rect(0, 0, 150, 150))
	for y := 0; y < 150; y++ {
		for x := 0; x < 150; x++ {
			v := uint8(100 + (x+y)%80)
			if y%24 >= 10 && y%24 < 14 {
				v = 20
			}
			g.Pix[y*g.Stride+x] = v
		}
	}
	res := New(DefaultConfig()).Run(g, 150)
	pos := map[Stage]int{}
	for i, s := range order {
		pos[s] = i
	}
	last := -1
	for _, s := range res.Applied {
		if pos[s] < last {
			t.Fatalf("stage order violated: %v", res.Applied)
		}
		last = pos[s]
	}
}
