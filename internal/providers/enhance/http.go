package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/irisblue-ghoti/iris-landscape-sub000/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("enhance: api key is required")

// Options configures the HTTP enhancement client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// HTTPClient calls the third-party enhancement API.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *infra.Logger
}

type enhanceRequest struct {
	Model       string       `json:"model"`
	Resolution  string       `json:"resolution"`
	AspectRatio string       `json:"aspect_ratio,omitempty"`
	RequestID   string       `json:"request_id,omitempty"`
	Image       imagePayload `json:"image"`
}

type imagePayload struct {
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

type enhanceResponse struct {
	Image     imagePayload `json:"image"`
	RequestID string       `json:"request_id"`
	Code      string       `json:"code"`
	Message   string       `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHTTPClient constructs a client with sane defaults and injected dependencies.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("enhance: base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("enhance: invalid base url: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "enhance-v1"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &HTTPClient{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Model returns the default model identifier.
func (c *HTTPClient) Model() string {
	return c.model
}

// Enhance performs exactly one API call (plus a download when the API answers with a URL).
func (c *HTTPClient) Enhance(ctx context.Context, req Request) (*EnhancedAsset, error) {
	if c.apiKey == "" {
		return nil, Rejected(0, "missing credentials", ErrMissingAPIKey)
	}
	if len(req.Asset.Data) == 0 {
		return nil, Rejected(0, "empty source image", nil)
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	payload := enhanceRequest{
		Model:       model,
		Resolution:  string(req.Resolution),
		AspectRatio: req.AspectRatio,
		RequestID:   req.RequestID,
		Image: imagePayload{
			MIMEType: req.Asset.MIME,
			Data:     base64.StdEncoding.EncodeToString(req.Asset.Data),
			Width:    req.Asset.Width,
			Height:   req.Asset.Height,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Rejected(0, "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/enhance", bytes.NewReader(body))
	if err != nil {
		return nil, Rejected(0, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if req.RequestID != "" {
		httpReq.Header.Set("X-Request-ID", req.RequestID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, Transient(0, "http request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(resp.StatusCode, "read response", err)
	}

	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			msg = fmt.Sprintf("%s (%s)", detail.Message, detail.Code)
		}
		return nil, &RemoteError{Kind: KindForStatus(resp.StatusCode), StatusCode: resp.StatusCode, Message: msg}
	}

	var decoded enhanceResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, Transient(resp.StatusCode, "decode response", err)
	}
	if decoded.Code != "" {
		return nil, Rejected(resp.StatusCode, fmt.Sprintf("%s (%s)", decoded.Message, decoded.Code), nil)
	}

	asset := &EnhancedAsset{
		URL:    strings.TrimSpace(decoded.Image.URL),
		MIME:   decoded.Image.MIMEType,
		Width:  decoded.Image.Width,
		Height: decoded.Image.Height,
	}
	switch {
	case decoded.Image.Data != "":
		data, err := base64.StdEncoding.DecodeString(decoded.Image.Data)
		if err != nil {
			return nil, Rejected(resp.StatusCode, "invalid inline image", err)
		}
		asset.Data = data
	case asset.URL != "":
		data, mime, err := c.download(ctx, asset.URL)
		if err != nil {
			return nil, err
		}
		asset.Data = data
		if asset.MIME == "" {
			asset.MIME = mime
		}
	default:
		return nil, Rejected(resp.StatusCode, "empty result image", nil)
	}
	if asset.MIME == "" {
		asset.MIME = http.DetectContentType(asset.Data)
	}
	if asset.Width == 0 || asset.Height == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(asset.Data)); err == nil {
			asset.Width, asset.Height = cfg.Width, cfg.Height
		}
	}
	c.logger.Debug().
		Str("model", model).
		Str("request_id", decoded.RequestID).
		Dur("elapsed", time.Since(start)).
		Int("bytes", len(asset.Data)).
		Msg("enhance: remote call succeeded")
	return asset, nil
}

func (c *HTTPClient) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil || parsed.Scheme == "" {
		return nil, "", Rejected(0, fmt.Sprintf("invalid image url: %s", imageURL), err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", Rejected(0, "build download request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", Transient(0, "download image", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", &RemoteError{Kind: KindForStatus(resp.StatusCode), StatusCode: resp.StatusCode, Message: "download image"}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", Transient(resp.StatusCode, "read image", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

var _ Client = (*HTTPClient)(nil)
