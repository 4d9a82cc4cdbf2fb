package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProvider is an HTTP implementation of the Provider interface. It
// forwards requests to a model sidecar speaking the same request/response
// shapes as this package.
type HTTPProvider struct {
	url    string
	client *http.Client
}

// NewHTTPProvider creates a new HTTPProvider.
func NewHTTPProvider(url string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Send posts the request to the sidecar's /v1/complete endpoint.
func (p *HTTPProvider) Send(ctx context.Context, req Request) (Response, error) {
	requestBody, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/v1/complete", bytes.NewBuffer(requestBody))
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("provider call failed: status code %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("failed to decode response body: %w", err)
	}

	return out, nil
}
