package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"pushrelay/pkg/gateway/types"
)

// GatewayClient talks to the push gateway's HTTP send endpoint.
type GatewayClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(cfg types.ClientConfig) types.Client {
	return &GatewayClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *GatewayClient) Send(ctx context.Context, sendReq *types.SendRequest) (*types.SendResponse, error) {
	jsonData, err := json.Marshal(sendReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	result := &types.SendResponse{HTTPStatus: resp.StatusCode}

	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			result.RetryAfterSeconds = &seconds
		}
	}

	// Overloaded gateways answer with bare 5xx pages; the status code alone
	// drives backoff, so a missing or malformed body is not an error here.
	if resp.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return result, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	return result, nil
}
