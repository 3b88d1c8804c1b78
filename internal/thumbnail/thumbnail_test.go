package thumbnail

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestGenerateFitsWithinBounds(t *testing.T) {
	g := New(Options{MaxDimension: 32})
	blob, err := g.Generate(pngBytes(t, 128, 64), "cover.png")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if blob.ContentType != "image/jpeg" {
		t.Errorf("content type = %q", blob.ContentType)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(blob.Data))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if format != "jpeg" || cfg.Width != 32 || cfg.Height != 16 {
		t.Errorf("result = %s %dx%d, want jpeg 32x16", format, cfg.Width, cfg.Height)
	}
}

func TestGenerateSVGPassthrough(t *testing.T) {
	src := []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`)
	blob, err := New(Options{}).Generate(src, "icon.SVG")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !bytes.Equal(blob.Data, src) || blob.ContentType != "image/svg+xml" {
		t.Errorf("blob = %+v", blob)
	}
}

func TestGenerateRejectsGarbage(t *testing.T) {
	if _, err := New(Options{}).Generate([]byte("not an image"), "x.png"); err == nil {
		t.Error("expected decode error")
	}
	if _, err := New(Options{}).Generate(nil, "x.avif"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("avif err = %v", err)
	}
}
