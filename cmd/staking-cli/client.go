package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// apiError is the error body returned by stakingd.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type apiClient struct {
	endpoint string
	token    string
	http     *http.Client
}

func newAPIClient(profile Profile) (*apiClient, error) {
	token, err := profile.bearer()
	if err != nil {
		return nil, err
	}
	return &apiClient{
		endpoint: strings.TrimRight(profile.Endpoint, "/"),
		token:    token,
		http:     &http.Client{Timeout: profile.Timeout.Duration},
	}, nil
}

// call sends body as JSON and returns the raw response payload. Mutations carry
// a fresh Idempotency-Key so a retried command is not applied twice.
func (c *apiClient) call(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if method == http.MethodPost {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: res.StatusCode}
		if json.Unmarshal(payload, apiErr) != nil || apiErr.Code == "" {
			apiErr.Code = "http_error"
			apiErr.Message = strings.TrimSpace(string(payload))
		}
		return nil, apiErr
	}
	return payload, nil
}
