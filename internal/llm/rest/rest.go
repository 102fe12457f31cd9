// Package rest is the JSON-over-HTTP client shared by the vendor adapters.
// It knows nothing about any vendor's schema: adapters supply the auth
// headers and the error-body decoder.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/HerbHall/counsellor/pkg/llm"
)

// maxErrorBody bounds how much of a failed response is read.
const maxErrorBody = 64 << 10

// Config is the per-vendor endpoint configuration read from llm.<vendor>.*.
type Config struct {
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	BaseURL string        `mapstructure:"base_url"`
}

// WithDefaults fills empty fields from def.
func (c Config) WithDefaults(def Config) Config {
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.BaseURL == "" {
		c.BaseURL = strings.TrimRight(def.BaseURL, "/")
	}
	return c
}

// ErrorDecoder extracts the vendor's error type and message from a failed
// response body. Returning an empty message falls back to the HTTP status.
type ErrorDecoder func(body []byte) (typ, message string)

// Client sends authenticated JSON requests to one vendor.
type Client struct {
	provider  llm.ProviderName
	baseURL   string
	http      *http.Client
	auth      func(http.Header)
	decodeErr ErrorDecoder
}

// NewClient returns a client for cfg.BaseURL. auth sets credentials on every
// request.
func NewClient(provider llm.ProviderName, cfg Config, auth func(http.Header), decodeErr ErrorDecoder) *Client {
	return &Client{
		provider:  provider,
		baseURL:   cfg.BaseURL,
		http:      &http.Client{Timeout: cfg.Timeout},
		auth:      auth,
		decodeErr: decodeErr,
	}
}

// Post encodes in as the request body and decodes a 2xx reply into out.
// Non-2xx replies come back as *llm.StatusError; transport failures are
// returned unchanged for the adapter to classify.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), out)
}

// Get decodes the reply of a GET into out. A nil out discards the body.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, http.NoBody, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		c.auth(req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) *llm.StatusError {
	se := &llm.StatusError{Provider: c.provider, StatusCode: resp.StatusCode, Message: resp.Status}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || c.decodeErr == nil {
		return se
	}
	if typ, msg := c.decodeErr(data); msg != "" {
		se.Type, se.Message = typ, msg
	} else {
		se.Type = typ
	}
	return se
}
