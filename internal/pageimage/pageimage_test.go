package pageimage

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestCropClampsToBounds(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	cropped, err := Crop(img, 90, 40, 30, 30)
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	b := cropped.Bounds()
	if b.Dx() != 10 || b.Dy() != 10 {
		t.Fatalf("expected 10x10 clamped crop, got %dx%d", b.Dx(), b.Dy())
	}
}

func TestCropOutsideBounds(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 100, 50))
	if _, err := Crop(img, 200, 200, 10, 10); err == nil {
		t.Fatal("expected error for crop outside page bounds")
	}
}

func TestEncodePNGRoundTrip(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.SetGray(2, 2, color.Gray{Y: 200})
	data, err := EncodePNG(img)
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Fatalf("bounds changed: %v", decoded.Bounds())
	}
}

func TestBase64RoundTrip(t *testing.T) {
	data := []byte{0x00, 0x01, 0xff}
	got, err := DecodeFromBase64(EncodeToBase64(data))
	if err != nil {
		t.Fatalf("DecodeFromBase64: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: %v", got)
	}
}
