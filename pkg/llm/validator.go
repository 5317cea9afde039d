// Package llm validates LLM-provider API keys.
//
// Each provider implements Validator: one authenticated GET against a
// provider-specific probe endpoint, with provider-specific error mapping.
// Providers are selected by Kind, never by inspecting concrete types.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Kind identifies an LLM provider.
type Kind string

const (
	// KindOpenAI is the OpenAI API (and compatible endpoints).
	KindOpenAI Kind = "openai"

	// KindCBORG is the CBORG API gateway.
	KindCBORG Kind = "cborg"
)

// String returns the string representation of the provider kind.
func (k Kind) String() string {
	return string(k)
}

// Default provider endpoints.
const (
	DefaultOpenAIEndpoint = "https://api.openai.com"
	DefaultCBORGEndpoint  = "https://api.cborg.lbl.gov"
)

// DefaultTimeout bounds each probe request.
const DefaultTimeout = 30 * time.Second

// ErrEmptyKey indicates no API key was supplied.
var ErrEmptyKey = errors.New("api key is required")

// ErrUnknownProvider indicates an unsupported Kind.
var ErrUnknownProvider = errors.New("unknown llm provider")

// ProviderError is a rejected key or failed probe.
type ProviderError struct {
	Provider   Kind
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Validator checks API keys for one provider.
type Validator interface {
	// Provider returns the provider kind.
	Provider() Kind

	// ValidateKey returns nil if the provider accepts key.
	ValidateKey(ctx context.Context, key string) error

	// MapError converts a non-200 probe response into a *ProviderError.
	MapError(status int, body []byte) error
}

// Options configure a Validator.
type Options struct {
	// Endpoint is the provider API root. Empty uses the provider default.
	Endpoint string

	// Timeout bounds each request. Zero uses DefaultTimeout.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// New returns the Validator for kind.
func New(kind Kind, opts Options) (Validator, error) {
	base := newProbe(opts)
	switch kind {
	case KindOpenAI:
		if base.endpoint == "" {
			base.endpoint = DefaultOpenAIEndpoint
		}
		return &OpenAI{probe: base}, nil
	case KindCBORG:
		if base.endpoint == "" {
			base.endpoint = DefaultCBORGEndpoint
		}
		return &CBORG{probe: base}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, kind)
	}
}

// ParseKind converts a case-insensitive provider name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindOpenAI:
		return KindOpenAI, nil
	case KindCBORG:
		return KindCBORG, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// probe is the shared GET-with-bearer-key transport.
type probe struct {
	endpoint string
	http     *http.Client
	log      *zap.Logger
}

func newProbe(opts Options) probe {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return probe{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		http:     httpClient,
		log:      log,
	}
}

// get issues the probe and hands non-200 responses to mapErr.
func (p probe) get(ctx context.Context, kind Kind, path, key string, mapErr func(int, []byte) error) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%s: %w", kind, ErrEmptyKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+path, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", kind, err)
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	p.log.Debug("Probed provider key",
		zap.String("provider", kind.String()),
		zap.Int("status", resp.StatusCode))

	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", kind, err)
	}
	return mapErr(resp.StatusCode, body)
}

type errorEnvelope struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Detail any `json:"detail"`
}

func decodeEnvelope(body []byte) (errorEnvelope, bool) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return errorEnvelope{}, false
	}
	return env, true
}

func fallbackMessage(status int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	return text
}
