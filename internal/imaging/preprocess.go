// Package imaging normalizes raw uploaded photos before face detection:
// decoding, alpha flattening, downscaling, illumination correction, and
// size-targeted re-encoding.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"go.uber.org/zap"
)

// Status values for a preprocessing result.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

const (
	referenceQuality  = 92
	eventStartQuality = 85
	qualityStep       = 5
)

// Result describes the outcome of preprocessing a single photo. Decode
// failures are reported via Status/Error rather than a Go error, so one bad
// file never aborts a batch; the caller decides what an acceptable failure
// rate is.
type Result struct {
	Path           string  `json:"path,omitempty"`
	OriginalWidth  int     `json:"original_width,omitempty"`
	OriginalHeight int     `json:"original_height,omitempty"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	FileSizeMB     float64 `json:"file_size_mb,omitempty"`
	Status         string  `json:"status"`
	Error          string  `json:"error,omitempty"`
}

// Preprocessor makes images detector-friendly. Reference photos keep a higher
// detail budget; event photos are compressed toward a target size so large
// collections stay tractable.
type Preprocessor struct {
	maxDimension int
	targetBytes  int64
	qualityFloor int
	logger       *zap.Logger
}

// NewPreprocessor creates a preprocessor from the pipeline tunables.
func NewPreprocessor(maxDimension int, targetFileSizeMB float64, qualityFloor int, logger *zap.Logger) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preprocessor{
		maxDimension: maxDimension,
		targetBytes:  int64(targetFileSizeMB * 1024 * 1024),
		qualityFloor: qualityFloor,
		logger:       logger,
	}
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Error: err.Error()}
}

// ProcessReference normalizes a reference photo: full detail budget, fixed
// high JPEG quality. The output file lands in dstDir with a .jpg extension.
func (p *Preprocessor) ProcessReference(srcPath, dstDir string) Result {
	return p.process(srcPath, dstDir, true)
}

// ProcessEvent normalizes an event photo: same downscale bound, JPEG quality
// stepped down toward the size target but never below the quality floor.
// Face absence is determined later, during matching, never here.
func (p *Preprocessor) ProcessEvent(srcPath, dstDir string) Result {
	return p.process(srcPath, dstDir, false)
}

func (p *Preprocessor) process(srcPath, dstDir string, reference bool) Result {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return failed(fmt.Errorf("reading %s: %w", filepath.Base(srcPath), err))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return failed(fmt.Errorf("decoding %s: %w", filepath.Base(srcPath), err))
	}

	origBounds := img.Bounds()
	rgba := flattenOntoWhite(img)
	rgba = p.resize(rgba)
	normalizeIllumination(rgba)

	var encoded []byte
	if reference {
		encoded, err = encodeJPEG(rgba, referenceQuality)
	} else {
		encoded, err = p.encodeToTarget(rgba)
	}
	if err != nil {
		return failed(fmt.Errorf("encoding %s: %w", filepath.Base(srcPath), err))
	}

	dstPath := filepath.Join(dstDir, jpegName(srcPath))
	if err := os.WriteFile(dstPath, encoded, 0o600); err != nil {
		return failed(fmt.Errorf("writing %s: %w", dstPath, err))
	}

	bounds := rgba.Bounds()
	return Result{
		Path:           dstPath,
		OriginalWidth:  origBounds.Dx(),
		OriginalHeight: origBounds.Dy(),
		Width:          bounds.Dx(),
		Height:         bounds.Dy(),
		FileSizeMB:     float64(len(encoded)) / (1024 * 1024),
		Status:         StatusOK,
	}
}

// jpegName swaps the extension of the source file for .jpg.
func jpegName(srcPath string) string {
	base := filepath.Base(srcPath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return base + ".jpg"
}

// flattenOntoWhite converts any decoded image to RGBA, compositing images
// with an alpha channel onto a white background.
func flattenOntoWhite(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Over)
	return rgba
}

// resize downscales so the longer edge is at most maxDimension, preserving
// aspect ratio. Images already within the bound are returned unchanged.
func (p *Preprocessor) resize(img *image.RGBA) *image.RGBA {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= p.maxDimension && height <= p.maxDimension {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = p.maxDimension
		newHeight = int(float64(height) * float64(p.maxDimension) / float64(width))
	} else {
		newHeight = p.maxDimension
		newWidth = int(float64(width) * float64(p.maxDimension) / float64(height))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	xdraw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, xdraw.Over, nil)
	return resized
}

// normalizeIllumination applies CLAHE to the luminance channel in place,
// reducing cross-lighting variance between reference and event photos.
// Chrominance is preserved.
func normalizeIllumination(img *image.RGBA) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return
	}

	yPlane := make([]uint8, w*h)
	cbPlane := make([]uint8, w*h)
	crPlane := make([]uint8, w*h)
	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			i := img.PixOffset(bounds.Min.X+px, bounds.Min.Y+py)
			yv, cb, cr := color.RGBToYCbCr(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
			idx := py*w + px
			yPlane[idx], cbPlane[idx], crPlane[idx] = yv, cb, cr
		}
	}

	yPlane = equalizeLuminance(yPlane, w, h)

	for py := 0; py < h; py++ {
		for px := 0; px < w; px++ {
			idx := py*w + px
			r, g, b := color.YCbCrToRGB(yPlane[idx], cbPlane[idx], crPlane[idx])
			i := img.PixOffset(bounds.Min.X+px, bounds.Min.Y+py)
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = r, g, b
		}
	}
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encodeToTarget steps the JPEG quality down until the encoded size reaches
// the target or the quality floor is hit, whichever comes first.
func (p *Preprocessor) encodeToTarget(img image.Image) ([]byte, error) {
	quality := eventStartQuality
	for {
		encoded, err := encodeJPEG(img, quality)
		if err != nil {
			return nil, err
		}
		if int64(len(encoded)) <= p.targetBytes || quality-qualityStep < p.qualityFloor {
			if int64(len(encoded)) > p.targetBytes {
				p.logger.Debug("quality floor reached above size target",
					zap.Int("quality", quality),
					zap.Int("bytes", len(encoded)))
			}
			return encoded, nil
		}
		quality -= qualityStep
	}
}
