package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	requestTimeout   = 30 * time.Second
	maxResponseBytes = 4 << 20
)

// APIError is a non-2xx answer from the dashboard.
type APIError struct {
	Status     int
	Message    string
	Details    []string
	RetryAfter int
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Details, ", "))
	}
	if e.RetryAfter > 0 {
		fmt.Fprintf(&b, " (retry after %ds)", e.RetryAfter)
	}
	return b.String()
}

// Client talks JSON to the dashboard API with the saved bearer token.
type Client struct {
	base  string
	token string
	http  *http.Client
}

// newClient builds a Client from the saved config with env overrides applied.
func newClient() (*Client, error) {
	return clientFor(cfg.withEnv(os.Getenv))
}

func clientFor(c CLIConfig) (*Client, error) {
	u, err := url.Parse(c.Address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server address %q", c.Address)
	}

	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.TLSCACert != "" {
		pem, err := os.ReadFile(c.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.TLSCACert)
		}
		tlsCfg.RootCAs = pool
	}

	return &Client{
		base:  strings.TrimRight(u.String(), "/"),
		token: c.Token,
		http: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: tlsCfg,
			},
		},
	}, nil
}

func (c *Client) call(ctx context.Context, method, path string, body any) (map[string]any, error) {
	var rd io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		rd = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp)
}

func (c *Client) get(ctx context.Context, path string) (map[string]any, error) {
	return c.call(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body any) (map[string]any, error) {
	return c.call(ctx, http.MethodPost, path, body)
}

func (c *Client) put(ctx context.Context, path string, body any) (map[string]any, error) {
	return c.call(ctx, http.MethodPut, path, body)
}

// decodeResponse returns the JSON object of a successful response. Any
// status from 400 up becomes an *APIError built from the server's
// {error, details, retryAfter} body, or from the raw body when it is not JSON.
func decodeResponse(resp *http.Response) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 400 {
		var result map[string]any
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("HTTP %d: malformed response: %w", resp.StatusCode, err)
		}
		return result, nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error      string   `json:"error"`
		Details    []string `json:"details"`
		RetryAfter int      `json:"retryAfter"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		apiErr.Message = fmt.Sprintf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		return nil, apiErr
	}
	apiErr.Message = body.Error
	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	apiErr.Details = body.Details
	apiErr.RetryAfter = body.RetryAfter
	if apiErr.RetryAfter == 0 {
		apiErr.RetryAfter, _ = strconv.Atoi(resp.Header.Get("Retry-After"))
	}
	return nil, apiErr
}
