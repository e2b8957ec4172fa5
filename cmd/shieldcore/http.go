package main

// ---------------------------------------------------------------------------
// http.go — HTTP client helpers for API communication
// ---------------------------------------------------------------------------

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to a running shieldcore API.
type apiClient struct {
	base    string
	apiKey  string
	timeout time.Duration
}

func (c apiClient) get(path string) ([]byte, error) {
	return c.do(http.MethodGet, path, nil)
}

func (c apiClient) post(path string, payload []byte) ([]byte, error) {
	return c.do(http.MethodPost, path, payload)
}

func (c apiClient) do(method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	client := &http.Client{Timeout: c.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to shieldcore API at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return data, fmt.Errorf("authentication failed (HTTP %d), provide --api-key or set SHIELDCORE_API_KEY", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return data, fmt.Errorf("API returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// isConnectionError checks if an error is a transient connection issue.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "connection reset") ||
		strings.Contains(s, "EOF") ||
		strings.Contains(s, "connection refused")
}

// remoteFlags are the connection flags shared by every command that talks
// to a running instance.
type remoteFlags struct {
	configPath *string
	host       *string
	port       *int
	apiKey     *string
	timeout    *time.Duration
}

func addRemoteFlags(fs *flag.FlagSet) *remoteFlags {
	return &remoteFlags{
		configPath: fs.String("config", defaultConfigPath, "Config file path"),
		host:       fs.String("host", "", "API host override"),
		port:       fs.Int("port", 0, "API port override"),
		apiKey:     fs.String("api-key", "", "API key for authentication"),
		timeout:    fs.Duration("timeout", 5*time.Second, "Request timeout"),
	}
}

func (r *remoteFlags) client() apiClient {
	path := envConfig(*r.configPath)
	return apiClient{
		base:    apiBase(path, envHost(*r.host), envPort(*r.port)),
		apiKey:  resolveAPIKey(*r.apiKey, path),
		timeout: *r.timeout,
	}
}
