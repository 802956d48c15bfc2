package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"tss-coordinator/internal/logger"
)

// maxResponseBytes bounds what we read from a remote party.
const maxResponseBytes = 4 << 20

// Envelope is the response wrapper spoken by key-share nodes and the engine sidecar.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    string          `json:"code,omitempty"`
	Msg     string          `json:"msg,omitempty"`
}

// RemoteError is a {success:false} reply or a non-2xx status from a remote party.
type RemoteError struct {
	URL    string
	Status int
	Code   string
	Msg    string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s returned %d %s: %s", e.URL, e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s returned %d: %s", e.URL, e.Status, e.Msg)
}

// Transport defines the interface for request/response calls to remote parties.
type Transport interface {
	PostJSON(ctx context.Context, url string, in, out any) error
	GetJSON(ctx context.Context, url string, out any) error
}

// HTTPTransport implements the Transport interface over HTTP with JSON envelopes.
// It never retries; deadlines come from the caller's context.
type HTTPTransport struct {
	client  *http.Client
	headers map[string]string
}

// NewHTTPTransport creates a new HTTPTransport. A nil client uses a fresh http.Client.
func NewHTTPTransport(client *http.Client, headers map[string]string) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{
		client:  client,
		headers: headers,
	}
}

// PostJSON marshals in, posts it to url and decodes the envelope data into out.
func (t *HTTPTransport) PostJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request for %s: %v", url, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return t.do(req, out)
}

// GetJSON fetches url and decodes the envelope data into out.
func (t *HTTPTransport) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %v", url, err)
	}
	return t.do(req, out)
}

func (t *HTTPTransport) do(req *http.Request, out any) error {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	url := req.URL.String()

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return &RemoteError{URL: url, Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("failed to decode response from %s: %v", url, err)
	}
	if !env.Success || resp.StatusCode/100 != 2 {
		logger.Log.Debugf("[HTTPTransport] %s failed with status %d code %s", url, resp.StatusCode, env.Code)
		return &RemoteError{URL: url, Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode data from %s: %v", url, err)
	}
	return nil
}
