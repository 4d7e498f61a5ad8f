package enhance

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra"
)

// SyntheticClient produces deterministic local enhancements so the pipeline
// runs end to end without provider credentials: it crops to the requested
// aspect ratio and resamples to the resolution's long edge.
type SyntheticClient struct {
	latency   time.Duration
	maxPixels int
	logger    *infra.Logger
}

// DefaultMaxSourcePixels bounds the source area the synthetic client decodes.
const DefaultMaxSourcePixels = 50_000_000

// NewSyntheticClient builds a client that waits latency before answering.
func NewSyntheticClient(latency time.Duration, logger *infra.Logger) *SyntheticClient {
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &SyntheticClient{latency: latency, maxPixels: DefaultMaxSourcePixels, logger: logger}
}

// WithMaxPixels changes the source area limit; non-positive values are ignored.
func (s *SyntheticClient) WithMaxPixels(n int) *SyntheticClient {
	if n > 0 {
		s.maxPixels = n
	}
	return s
}

func (s *SyntheticClient) Enhance(ctx context.Context, req Request) (*EnhancedAsset, error) {
	if s.latency > 0 {
		timer := time.NewTimer(s.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, Transient(0, "request aborted", ctx.Err())
		}
	}
	longEdge := req.Resolution.LongEdge()
	if longEdge == 0 {
		return nil, Rejected(0, fmt.Sprintf("unsupported resolution %q", req.Resolution), nil)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(req.Asset.Data))
	if err != nil {
		return nil, Rejected(0, "source image not decodable", err)
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(s.maxPixels) {
		return nil, Rejected(0, fmt.Sprintf("source %dx%d exceeds %d pixels", cfg.Width, cfg.Height, s.maxPixels), nil)
	}
	src, _, err := image.Decode(bytes.NewReader(req.Asset.Data))
	if err != nil {
		return nil, Rejected(0, "source image not decodable", err)
	}
	crop := cropToAspect(src.Bounds(), req.AspectRatio)
	width, height := fitLongEdge(crop.Dx(), crop.Dy(), longEdge)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, Rejected(0, "encode result", err)
	}
	s.logger.Debug().
		Str("request_id", req.RequestID).
		Int("width", width).
		Int("height", height).
		Msg("enhance: synthetic asset generated")
	return &EnhancedAsset{Data: buf.Bytes(), MIME: "image/jpeg", Width: width, Height: height}, nil
}

// cropToAspect returns the largest centred rectangle of b with ratio "w:h".
// "original" or an unparsable ratio keeps b.
func cropToAspect(b image.Rectangle, ratio string) image.Rectangle {
	rw, rh, ok := parseRatio(ratio)
	if !ok {
		return b
	}
	w, h := b.Dx(), b.Dy()
	if w*rh > h*rw {
		cw := h * rw / rh
		if cw < 1 {
			cw = 1
		}
		x0 := b.Min.X + (w-cw)/2
		return image.Rect(x0, b.Min.Y, x0+cw, b.Max.Y)
	}
	ch := w * rh / rw
	if ch < 1 {
		ch = 1
	}
	y0 := b.Min.Y + (h-ch)/2
	return image.Rect(b.Min.X, y0, b.Max.X, y0+ch)
}

func parseRatio(ratio string) (int, int, bool) {
	parts := strings.SplitN(strings.TrimSpace(ratio), ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

func fitLongEdge(w, h, longEdge int) (int, int) {
	if w >= h {
		nh := h * longEdge / w
		if nh < 1 {
			nh = 1
		}
		return longEdge, nh
	}
	nw := w * longEdge / h
	if nw < 1 {
		nw = 1
	}
	return nw, longEdge
}

var _ Client = (*SyntheticClient)(nil)
