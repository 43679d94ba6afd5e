package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"key-release-service/internal/domain"
)

type payloadMetadata struct {
	PayloadID      string `json:"payload_id"`
	Operator       string `json:"operator"`
	ConditionCount int    `json:"condition_count"`
	KeyWrapper     string `json:"key_wrapper"`
	CreatedAt      string `json:"created_at"`
}

type payload struct {
	PayloadID  string                   `json:"payload_id"`
	Ciphertext string                   `json:"ciphertext"`
	Operator   string                   `json:"operator"`
	Conditions []domain.AccessCondition `json:"conditions"`
	CreatedAt  string                   `json:"created_at"`
}

type releaseResponse struct {
	Granted     bool   `json:"granted"`
	Key         string `json:"key"`
	Reason      string `json:"reason"`
	EvaluatedAt string `json:"evaluated_at"`
}

// apiClient はkey-release-serviceのHTTPクライアント。
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{baseURL: strings.TrimRight(apiURL, "/"), http: httpClient}
}

// do はJSONリクエストを送信し、okStatusのいずれかであればレスポンスをoutへデコードする。
func (c *apiClient) do(ctx context.Context, method, path string, in, out interface{}, okStatus ...int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if !slices.Contains(okStatus, resp.StatusCode) {
		return body, handleErrorResponse(resp.StatusCode, body)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return body, fmt.Errorf("parsing response: %w", err)
		}
	}
	return body, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("Error: %s", errResp.Message)
	}
	return fmt.Errorf("Error: server returned status %d", statusCode)
}
