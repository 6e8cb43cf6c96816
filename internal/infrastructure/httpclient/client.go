package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxErrorBody = 4 << 10

// NewHTTPClient returns a client whose transport propagates trace context. Deadlines come from
// the request context.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

type base struct {
	url    string
	client *http.Client
}

func newBase(baseURL string, client *http.Client) base {
	if client == nil {
		client = NewHTTPClient()
	}
	return base{url: strings.TrimRight(baseURL, "/"), client: client}
}

// do sends body as JSON and returns the response status with the body read fully.
// unavailable wraps every transport-level failure.
func (b base) do(ctx context.Context, method, path string, body any, header http.Header, unavailable error) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.url+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %s %s: %w", unavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%w: read response: %w", unavailable, err)
	}
	if resp.StatusCode >= 500 {
		return resp.StatusCode, data, fmt.Errorf("%w: %s %s: status %d", unavailable, method, path, resp.StatusCode)
	}
	return resp.StatusCode, data, nil
}

type problem struct {
	Title     string `json:"title"`
	Detail    string `json:"detail"`
	Reason    string `json:"reason"`
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

func decodeProblem(data []byte) problem {
	var p problem
	_ = json.Unmarshal(data, &p)
	return p
}

func unexpected(status int, data []byte) error {
	p := decodeProblem(data)
	msg := p.Detail
	if msg == "" {
		msg = strings.TrimSpace(string(data[:min(len(data), maxErrorBody)]))
	}
	return fmt.Errorf("unexpected status %d: %s", status, msg)
}

var errDecode = errors.New("decode response")
