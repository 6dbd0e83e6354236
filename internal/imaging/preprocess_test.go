package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// writeTestJPEG writes a solid-ish test image with some gradient so JPEG has
// something to compress.
func writeTestJPEG(t *testing.T, dir, name string, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), uint8((x + y) % 256), 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write test image: %v", err)
	}
	return path
}

func writeTestPNGWithAlpha(t *testing.T, dir, name string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{200, 100, 50, uint8(x * 4)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write test png: %v", err)
	}
	return path
}

func TestProcessReference_Downscales(t *testing.T) {
	dir := t.TempDir()
	src := writeTestJPEG(t, dir, "big.jpg", 3200, 1600)

	p := NewPreprocessor(1600, 1.0, 65, nil)
	res := p.ProcessReference(src, dir)

	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %s: %s", res.Status, res.Error)
	}
	if res.Width != 1600 || res.Height != 800 {
		t.Errorf("expected 1600x800, got %dx%d", res.Width, res.Height)
	}
	if res.OriginalWidth != 3200 || res.OriginalHeight != 1600 {
		t.Errorf("unexpected original size %dx%d", res.OriginalWidth, res.OriginalHeight)
	}
	if _, err := os.Stat(res.Path); err != nil {
		t.Errorf("output file missing: %v", err)
	}
}

func TestProcessReference_SmallImageKeepsSize(t *testing.T) {
	dir := t.TempDir()
	src := writeTestJPEG(t, dir, "small.jpg", 320, 240)

	p := NewPreprocessor(1600, 1.0, 65, nil)
	res := p.ProcessReference(src, dir)

	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %s: %s", res.Status, res.Error)
	}
	if res.Width != 320 || res.Height != 240 {
		t.Errorf("expected 320x240, got %dx%d", res.Width, res.Height)
	}
}

func TestProcessReference_AlphaFlattened(t *testing.T) {
	dir := t.TempDir()
	src := writeTestPNGWithAlpha(t, dir, "alpha.png")

	p := NewPreprocessor(1600, 1.0, 65, nil)
	res := p.ProcessReference(src, dir)

	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %s: %s", res.Status, res.Error)
	}
	if filepath.Ext(res.Path) != ".jpg" {
		t.Errorf("expected .jpg output, got %s", res.Path)
	}
	// The output must decode as a plain JPEG.
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("output is not a valid JPEG: %v", err)
	}
}

func TestProcess_CorruptInput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "corrupt.jpg")
	if err := os.WriteFile(src, []byte("definitely not an image"), 0o600); err != nil {
		t.Fatal(err)
	}

	p := NewPreprocessor(1600, 1.0, 65, nil)
	res := p.ProcessEvent(src, dir)

	if res.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", res.Status)
	}
	if res.Error == "" {
		t.Error("expected error detail for corrupt input")
	}
}

func TestProcess_MissingInput(t *testing.T) {
	dir := t.TempDir()
	p := NewPreprocessor(1600, 1.0, 65, nil)
	res := p.ProcessReference(filepath.Join(dir, "nope.jpg"), dir)

	if res.Status != StatusFailed {
		t.Errorf("expected failed status, got %s", res.Status)
	}
}

func TestProcessEvent_RespectsSizeTarget(t *testing.T) {
	dir := t.TempDir()
	src := writeTestJPEG(t, dir, "event.jpg", 1600, 1200)

	// Tiny target forces quality stepping down to the floor.
	p := NewPreprocessor(1600, 0.01, 65, nil)
	res := p.ProcessEvent(src, dir)

	if res.Status != StatusOK {
		t.Fatalf("expected ok, got %s: %s", res.Status, res.Error)
	}
	// With a 10KB target the encoder bottoms out at the quality floor; the
	// output must still be a decodable JPEG.
	data, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("output is not a valid JPEG: %v", err)
	}
}

func TestJpegName(t *testing.T) {
	tests := map[string]string{
		"/tmp/a/photo.png":  "photo.jpg",
		"/tmp/a/photo.jpeg": "photo.jpg",
		"photo":             "photo.jpg",
		"archive.tar.gz":    "archive.tar.jpg",
	}
	for in, want := range tests {
		if got := jpegName(in); got != want {
			t.Errorf("jpegName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEqualizeLuminance_FlatPlane(t *testing.T) {
	// A uniform plane must stay within a narrow band after equalization;
	// CLAHE's clip limit prevents the single-bin histogram from exploding.
	w, h := 64, 64
	plane := make([]uint8, w*h)
	for i := range plane {
		plane[i] = 128
	}
	out := equalizeLuminance(plane, w, h)
	if len(out) != len(plane) {
		t.Fatalf("plane size changed: %d != %d", len(out), len(plane))
	}
	first := out[0]
	for i, v := range out {
		if v != first {
			t.Fatalf("uniform plane became non-uniform at %d: %d != %d", i, v, first)
		}
	}
}

func TestEqualizeLuminance_IncreasesContrast(t *testing.T) {
	// A low-contrast gradient should span a wider range after equalization.
	w, h := 128, 128
	plane := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			plane[y*w+x] = uint8(100 + (x*20)/w) // values 100..119
		}
	}
	out := equalizeLuminance(plane, w, h)

	minIn, maxIn := minMax(plane)
	minOut, maxOut := minMax(out)
	if int(maxOut)-int(minOut) <= int(maxIn)-int(minIn) {
		t.Errorf("expected contrast to increase: in range %d, out range %d",
			int(maxIn)-int(minIn), int(maxOut)-int(minOut))
	}
}

func minMax(p []uint8) (uint8, uint8) {
	lo, hi := p[0], p[0]
	for _, v := range p {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
