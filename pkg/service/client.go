// Package service implements the JSON-RPC 1.1 transport shared by the
// platform service clients.
//
// A Client issues one synchronous HTTP POST per call and maps the platform's
// error shapes onto ServerError (structured 500 responses) and HTTPError
// (everything else). There are no retries.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RPCVersion is the protocol version sent in every request envelope.
const RPCVersion = "1.1"

// DefaultTimeout is the per-request timeout when Config.Timeout is zero.
const DefaultTimeout = 1800 * time.Second

// Config configures a Client.
type Config struct {
	// Endpoint is the service URL (required).
	Endpoint string

	// Service is the namespace prefixed to method names by SimpleCall
	// (e.g., "execution_engine2").
	Service string

	// Token is sent verbatim in the Authorization header. Empty sends no header.
	Token string

	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the default client. Its Timeout is left untouched.
	HTTPClient *http.Client

	// Limiter throttles outgoing requests when set.
	Limiter *rate.Limiter

	// Logger receives debug records for each call. Nil disables logging.
	Logger *zap.Logger
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return &ConfigError{Field: "Endpoint", Message: "endpoint is required"}
	}
	if c.Timeout < 0 {
		return &ConfigError{Field: "Timeout", Message: "timeout must be >= 0"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "service config: " + e.Field + ": " + e.Message
}

// Client is a JSON-RPC 1.1 client bound to one endpoint.
type Client struct {
	endpoint string
	service  string
	token    string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
	log      *zap.Logger
}

// New creates a Client with the given configuration.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		endpoint: cfg.Endpoint,
		service:  cfg.Service,
		token:    cfg.Token,
		timeout:  timeout,
		http:     httpClient,
		limiter:  cfg.Limiter,
		log:      log,
	}, nil
}

// Endpoint returns the configured service URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Service returns the method namespace.
func (c *Client) Service() string { return c.service }

// Token returns the value sent in the Authorization header.
func (c *Client) Token() string { return c.token }

// Timeout returns the effective per-request timeout.
func (c *Client) Timeout() time.Duration { return c.timeout }

type rpcRequest struct {
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	Version string `json:"version"`
	ID      string `json:"id"`
}

// Call performs a raw JSON-RPC call of method against endpoint and returns the
// entire "result" member of the response.
func (c *Client) Call(ctx context.Context, endpoint, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{
		Method:  method,
		Params:  params,
		Version: RPCVersion,
		ID:      uuid.New().String(),
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", method, err)
	}

	c.log.Debug("JSON-RPC call",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode))

	return decodeResponse(resp, raw)
}

// SimpleCall calls "<service>.<method>" on the configured endpoint with params
// as the single positional argument and decodes the first result element into
// out. A nil params sends an empty parameter list; a nil out discards the result.
func (c *Client) SimpleCall(ctx context.Context, method string, params any, out any) error {
	return c.simpleCallAt(ctx, c.endpoint, method, params, out)
}

func (c *Client) simpleCallAt(ctx context.Context, endpoint, method string, params any, out any) error {
	var args []any
	if params != nil {
		args = []any{params}
	}
	result, err := c.Call(ctx, endpoint, c.qualify(method), args...)
	if err != nil {
		return err
	}
	return decodeFirst(result, out)
}

func (c *Client) qualify(method string) string {
	if c.service == "" {
		return method
	}
	return c.service + "." + method
}

// decodeResponse maps an HTTP response onto a result, ServerError, or HTTPError.
func decodeResponse(resp *http.Response, raw []byte) (json.RawMessage, error) {
	text := string(raw)

	if resp.StatusCode == http.StatusInternalServerError && isJSON(resp.Header.Get("Content-Type")) {
		var envelope map[string]any
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, &HTTPError{StatusCode: resp.StatusCode, Body: text}
		}
		return nil, newServerError(envelope["error"], text)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: text}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	result, ok := envelope["result"]
	if !ok {
		return nil, &ServerError{Name: "Unknown", Code: 0, Message: UnknownServerErrorMessage}
	}
	return result, nil
}

// decodeFirst unmarshals result[0] into out.
func decodeFirst(result json.RawMessage, out any) error {
	var items []json.RawMessage
	if err := json.Unmarshal(result, &items); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if len(items) == 0 {
		return &ServerError{Name: "Unknown", Code: 0, Message: UnknownServerErrorMessage}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(items[0], out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json"
}
