package preprocess

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

const (
	// DefaultStartQuality is the first JPEG quality tried after resizing.
	DefaultStartQuality = 85
	// DefaultQualityStep is subtracted after every encode that misses the budget.
	DefaultQualityStep = 10
	// DefaultMinQuality is the floor; the loop stops there regardless of size.
	DefaultMinQuality = 35
	// DefaultMaxPixels caps the decoded area; decoding allocates four bytes
	// per pixel no matter how small the upload is.
	DefaultMaxPixels = 50_000_000
	// maxEncodes bounds the loop even for odd option values.
	maxEncodes = 6
)

// Options tunes the quality loop.
type Options struct {
	StartQuality int
	QualityStep  int
	MinQuality   int
	// MaxPixels rejects images whose declared width*height exceeds it.
	MaxPixels int
}

// Compressor shrinks images to a byte budget. It is deterministic: the same
// input and budget always produce the same bytes.
type Compressor struct {
	opts Options
}

// NewCompressor applies defaults to zero-valued options.
func NewCompressor(opts Options) *Compressor {
	if opts.StartQuality <= 0 || opts.StartQuality > 100 {
		opts.StartQuality = DefaultStartQuality
	}
	if opts.QualityStep <= 0 {
		opts.QualityStep = DefaultQualityStep
	}
	if opts.MinQuality <= 0 || opts.MinQuality > opts.StartQuality {
		opts.MinQuality = DefaultMinQuality
		if opts.MinQuality > opts.StartQuality {
			opts.MinQuality = opts.StartQuality
		}
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Compressor{opts: opts}
}

// Compress returns asset unchanged when it already fits maxBytes, otherwise a
// downscaled JPEG re-encoding. Input that does not decode, or declares more
// than MaxPixels, yields domain.ErrInvalidImage before any pixel is decoded. A maxBytes <= 0 disables compression.
func (c *Compressor) Compress(asset domain.SourceAsset, maxBytes int) (domain.SourceAsset, error) {
	if len(asset.Data) == 0 {
		return asset, fmt.Errorf("%w: empty payload", domain.ErrInvalidImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(asset.Data))
	if err != nil {
		return asset, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return asset, fmt.Errorf("%w: zero dimensions", domain.ErrInvalidImage)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(c.opts.MaxPixels) {
		return asset, fmt.Errorf("%w: %dx%d exceeds %d pixels", domain.ErrInvalidImage, cfg.Width, cfg.Height, c.opts.MaxPixels)
	}
	asset.Width, asset.Height = cfg.Width, cfg.Height
	if asset.MIME == "" {
		asset.MIME = "image/" + format
	}
	if maxBytes <= 0 || len(asset.Data) <= maxBytes {
		return asset, nil
	}

	src, _, err := image.Decode(bytes.NewReader(asset.Data))
	if err != nil {
		return asset, fmt.Errorf("%w: %v", domain.ErrInvalidImage, err)
	}

	scale := math.Sqrt(float64(maxBytes) / float64(len(asset.Data)))
	width := scaled(cfg.Width, scale)
	height := scaled(cfg.Height, scale)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	// JPEG has no alpha; flatten onto white so transparent regions stay light.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var best []byte
	var buf bytes.Buffer
	quality := c.opts.StartQuality
	for i := 0; i < maxEncodes && quality >= c.opts.MinQuality; i++ {
		buf.Reset()
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
			return asset, fmt.Errorf("preprocess: encode jpeg: %w", err)
		}
		if best == nil || buf.Len() < len(best) {
			best = append(best[:0], buf.Bytes()...)
		}
		if buf.Len() <= maxBytes {
			break
		}
		quality -= c.opts.QualityStep
	}

	return domain.SourceAsset{
		Filename: jpegName(asset.Filename),
		MIME:     "image/jpeg",
		Data:     best,
		Width:    width,
		Height:   height,
	}, nil
}

func scaled(n int, factor float64) int {
	v := int(math.Round(float64(n) * factor))
	if v < 1 {
		return 1
	}
	if v > n {
		return n
	}
	return v
}

func jpegName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
}
