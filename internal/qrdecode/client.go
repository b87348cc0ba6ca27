// Package qrdecode calls the QR decode microservice. The decoder is a
// black box to this service: bytes of a raster image in, decoded text out.
package qrdecode

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
)

// ErrNoCode means the image was readable but contained no QR code.
var ErrNoCode = errors.New("no QR code found in the image")

// Client calls the decode service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. skip enables a mock mode for dev and tests where
// no decode service is running.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Decode submits image bytes (jpg/jpeg/png) and returns the first decoded
// payload. Multiple codes in one image: the first wins. No code at all is
// ErrNoCode, distinct from transport failures.
func (c *Client) Decode(ctx context.Context, image []byte) (string, error) {
	if c.Skip {
		return "Name: Test Attendee ID Type: Passport ID Number: P0000000 Pass Type: 28 Oct 24", nil
	}
	if len(image) == 0 {
		return "", fmt.Errorf("image required")
	}

	body, _ := json.Marshal(map[string]string{
		"image": base64.StdEncoding.EncodeToString(image),
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/decode", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("decode service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("decode service error %s: %s", resp.Status, string(b))
	}

	var out struct {
		Payloads []string `json:"payloads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Payloads) == 0 || out.Payloads[0] == "" {
		return "", ErrNoCode
	}
	return out.Payloads[0], nil
}

// Health checks if the decode service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("decode service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("decode service unhealthy: %s", resp.Status)
	}
	return nil
}
