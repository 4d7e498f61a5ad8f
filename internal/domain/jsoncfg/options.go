package jsoncfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/domain"
)

// EnhanceOptions are the per-batch knobs forwarded to the enhancement model.
type EnhanceOptions struct {
	Model       string            `json:"model"`
	Resolution  domain.Resolution `json:"resolution"`
	AspectRatio string            `json:"aspect_ratio"`
}

var allowedAspectRatios = map[string]struct{}{
	"original": {},
	"1:1":      {},
	"4:3":      {},
	"3:4":      {},
	"16:9":     {},
	"9:16":     {},
}

const (
	// DefaultModel is used when the request omits the model.
	DefaultModel = "enhance-v1"
	// DefaultAspectRatio keeps the source framing.
	DefaultAspectRatio = "original"
	// DefaultResolution is the cheapest tier.
	DefaultResolution = domain.Resolution1K
)

// Normalize fills defaults and canonicalizes casing.
func (o *EnhanceOptions) Normalize() {
	if o == nil {
		return
	}
	o.Model = strings.TrimSpace(o.Model)
	if o.Model == "" {
		o.Model = DefaultModel
	}
	o.Resolution = domain.Resolution(strings.ToLower(strings.TrimSpace(string(o.Resolution))))
	if o.Resolution == "" {
		o.Resolution = DefaultResolution
	}
	o.AspectRatio = strings.ToLower(strings.TrimSpace(o.AspectRatio))
	if o.AspectRatio == "" {
		o.AspectRatio = DefaultAspectRatio
	}
}

// Validate ensures the options satisfy the contract before a batch is priced.
func (o EnhanceOptions) Validate() error {
	if !o.Resolution.Valid() {
		return &domain.ValidationError{Field: "resolution", Message: "must be one of 1k, 2k, 4k"}
	}
	if _, ok := allowedAspectRatios[o.AspectRatio]; !ok {
		return &domain.ValidationError{Field: "aspect_ratio", Message: "must be one of original, 1:1, 4:3, 3:4, 16:9, 9:16"}
	}
	if len(o.Model) > 64 {
		return &domain.ValidationError{Field: "model", Message: "too long"}
	}
	return nil
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("json marshal: %w", err))
	}
	return b
}
