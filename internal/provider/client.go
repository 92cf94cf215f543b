// Package provider wraps the external video processing provider's REST API
// (Mux-compatible: direct uploads, assets, signed webhooks). The client is
// constructed explicitly and injected; there is no package-level instance.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when the provider has no object for the given id.
var ErrNotFound = errors.New("provider: not found")

// Config holds provider client settings.
type Config struct {
	BaseURL          string
	ImageBaseURL     string
	TokenID          string
	TokenSecret      string
	RequestTimeout   time.Duration
	UploadCORSOrigin string
}

// Client calls the provider REST API with basic auth and bounded timeouts.
type Client struct {
	baseURL      string
	imageBaseURL string
	tokenID      string
	tokenSecret  string
	corsOrigin   string
	httpClient   *http.Client
	logger       *zap.Logger
}

// NewClient creates a provider API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		imageBaseURL: cfg.ImageBaseURL,
		tokenID:      cfg.TokenID,
		tokenSecret:  cfg.TokenSecret,
		corsOrigin:   cfg.UploadCORSOrigin,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

// Upload is a provider direct-upload session.
type Upload struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Status  string `json:"status"` // waiting, asset_created, errored, cancelled, timed_out
	AssetID string `json:"asset_id"`
}

// PlaybackID is an asset playback identifier.
type PlaybackID struct {
	ID     string `json:"id"`
	Policy string `json:"policy"`
}

// Asset is a provider-side ingested video.
type Asset struct {
	ID          string       `json:"id"`
	UploadID    string       `json:"upload_id"`
	Status      string       `json:"status"` // preparing, ready, errored
	PlaybackIDs []PlaybackID `json:"playback_ids"`
	Duration    float64      `json:"duration"`
	Errors      *AssetErrors `json:"errors,omitempty"`
}

// AssetErrors describes why an asset failed to process.
type AssetErrors struct {
	Type     string   `json:"type"`
	Messages []string `json:"messages"`
}

type createUploadRequest struct {
	CORSOrigin       string           `json:"cors_origin"`
	NewAssetSettings newAssetSettings `json:"new_asset_settings"`
}

type newAssetSettings struct {
	PlaybackPolicy []string `json:"playback_policy"`
}

// CreateUpload requests a new direct-upload session so the client can transfer
// video bytes straight to the provider.
func (c *Client) CreateUpload(ctx context.Context) (*Upload, error) {
	body := createUploadRequest{
		CORSOrigin:       c.corsOrigin,
		NewAssetSettings: newAssetSettings{PlaybackPolicy: []string{"public"}},
	}
	var out struct {
		Data Upload `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/video/v1/uploads", body, &out); err != nil {
		return nil, fmt.Errorf("create upload: %w", err)
	}
	return &out.Data, nil
}

// GetUpload fetches a direct-upload session by id.
func (c *Client) GetUpload(ctx context.Context, uploadID string) (*Upload, error) {
	var out struct {
		Data Upload `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/video/v1/uploads/"+uploadID, nil, &out); err != nil {
		return nil, fmt.Errorf("get upload %s: %w", uploadID, err)
	}
	return &out.Data, nil
}

// GetAsset fetches an asset by id.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*Asset, error) {
	var out struct {
		Data Asset `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/video/v1/assets/"+assetID, nil, &out); err != nil {
		return nil, fmt.Errorf("get asset %s: %w", assetID, err)
	}
	return &out.Data, nil
}

// GetAssetByUploadID resolves the upload session and, when the provider has
// already created an asset for it, fetches that asset. Returns ErrNotFound
// when the upload is unknown and (upload, nil asset) when no asset exists yet.
func (c *Client) GetAssetByUploadID(ctx context.Context, uploadID string) (*Upload, *Asset, error) {
	up, err := c.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}
	if up.AssetID == "" {
		return up, nil, nil
	}
	asset, err := c.GetAsset(ctx, up.AssetID)
	if err != nil {
		return up, nil, err
	}
	return up, asset, nil
}

// DeleteAsset deletes a provider asset. Deleting an already-deleted asset is
// treated as success.
func (c *Client) DeleteAsset(ctx context.Context, assetID string) error {
	err := c.do(ctx, http.MethodDelete, "/video/v1/assets/"+assetID, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete asset %s: %w", assetID, err)
	}
	return nil
}

// ThumbnailURL derives the default thumbnail location for a playback id.
func (c *Client) ThumbnailURL(playbackID string) string {
	return fmt.Sprintf("%s/%s/thumbnail.jpg", c.imageBaseURL, playbackID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.tokenID, c.tokenSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("provider API error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return fmt.Errorf("provider status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
