// Package faceclient calls the face recognition microservice.
package faceclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lowmax205/eas/internal/domain/scoring"
)

const defaultTimeout = 4 * time.Second

// Client implements scoring.FaceAnalyzer over HTTP.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip reports one face without an embedding and never calls out.
	Skip bool
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTP = hc
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTP.Timeout = d
		}
	}
}

// New creates a client. With skip set, or an empty baseURL, no requests are
// made.
func New(baseURL string, skip bool, opts ...Option) *Client {
	c := &Client{
		BaseURL: baseURL,
		Skip:    skip || baseURL == "",
		HTTP:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type embedResponse struct {
	Embedding     []float32 `json:"embedding"`
	Score         float64   `json:"score"`
	FacesDetected int       `json:"faces_detected"`
}

// Analyze sends img to the embed endpoint and reports the detected faces.
func (c *Client) Analyze(ctx context.Context, img []byte) (scoring.FaceAnalysis, error) {
	if c.Skip {
		return scoring.FaceAnalysis{FacesDetected: 1}, nil
	}
	if len(img) == 0 {
		return scoring.FaceAnalysis{}, eris.New("face service: image required")
	}

	body, err := json.Marshal(embedRequest{ImageBase64: base64.StdEncoding.EncodeToString(img)})
	if err != nil {
		return scoring.FaceAnalysis{}, eris.Wrap(err, "face service: encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return scoring.FaceAnalysis{}, eris.Wrap(err, "face service: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return scoring.FaceAnalysis{}, eris.Wrap(err, "face service request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return scoring.FaceAnalysis{}, eris.Errorf("face service error %s: %s", resp.Status, string(msg))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return scoring.FaceAnalysis{}, eris.Wrap(err, "face service: decode response")
	}
	faces := out.FacesDetected
	if faces == 0 && len(out.Embedding) > 0 {
		faces = 1
	}
	return scoring.FaceAnalysis{FacesDetected: faces, Embedding: out.Embedding}, nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return eris.Wrap(err, "face service: build request")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return eris.Wrap(err, "face service unavailable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return eris.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
