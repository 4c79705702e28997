// Package vision adapts the external weight-inference backend. The backend is
// opaque to the analysis core: it receives image content and returns raw
// readings, and any retry policy belongs to the caller, never to this layer.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"tonnage-service/internal/domain/tonnage"
)

var ErrInference = errors.New("inference failed")

// Client is the external vision capability.
type Client interface {
	Infer(ctx context.Context, imageContent []byte, cfg tonnage.InferenceConfig) ([]tonnage.Reading, error)
}

// HTTPClient calls an inference endpoint that accepts a base64-encoded image
// and answers with weight readings.
type HTTPClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPClient(endpoint, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type inferRequest struct {
	ImageBase64 string `json:"image_base64"`
	Model       string `json:"model"`
	Samples     int    `json:"samples"`
}

type inferResponse struct {
	Readings []struct {
		WeightKg   float64  `json:"weight_kg"`
		Confidence *float64 `json:"confidence,omitempty"`
	} `json:"readings"`
	Error string `json:"error,omitempty"`
}

func (c *HTTPClient) Infer(ctx context.Context, imageContent []byte, cfg tonnage.InferenceConfig) ([]tonnage.Reading, error) {
	payload, err := json.Marshal(inferRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(imageContent),
		Model:       cfg.ModelID,
		Samples:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrInference, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrInference, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrInference, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: backend returned %d: %s", ErrInference, resp.StatusCode, truncate(body, 200))
	}

	var parsed inferResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInference, err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrInference, parsed.Error)
	}
	if len(parsed.Readings) == 0 {
		return nil, fmt.Errorf("%w: backend returned no readings", ErrInference)
	}

	readings := make([]tonnage.Reading, 0, len(parsed.Readings))
	for _, r := range parsed.Readings {
		readings = append(readings, tonnage.Reading{WeightKg: r.WeightKg, Confidence: r.Confidence})
	}
	return readings, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
