// Package auth resolves platform auth tokens to user names through the auth
// service REST API.
//
// Successful lookups are cached in a bounded LRU whose entries expire after a
// fixed TTL. A cache hit never touches the network.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/3leaps/kbagent/pkg/platform"
)

// Cache defaults.
const (
	DefaultCacheMaxSize = 10000
	DefaultCacheTTL     = 5 * time.Minute
)

// UnknownDisplayName is reported when the auth server has no display name.
const UnknownDisplayName = "Unknown"

// Options are explicit overrides for New.
type Options struct {
	// Endpoint is the auth service root (e.g., https://kbase.us/services/auth).
	Endpoint string

	// CacheMaxSize bounds the token cache. Zero uses DefaultCacheMaxSize.
	CacheMaxSize int

	// CacheTTL expires cache entries. Zero uses DefaultCacheTTL.
	CacheTTL time.Duration

	// Timeout bounds each request. Zero uses the settings timeout.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client looks up users by token.
//
// Client is safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	cache    *expirable.LRU[string, string]
	log      *zap.Logger
}

// New creates a Client. Endpoint comes from opts when set, else from settings.
func New(settings platform.Settings, opts Options) (*Client, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = settings.ServiceURL(settings.Services.Auth)
	}
	if _, err := url.Parse(endpoint); err != nil || endpoint == "" {
		return nil, fmt.Errorf("auth: invalid endpoint %q", endpoint)
	}
	if opts.CacheMaxSize < 0 || opts.CacheTTL < 0 {
		return nil, fmt.Errorf("auth: cache size and ttl must be >= 0")
	}

	size := opts.CacheMaxSize
	if size == 0 {
		size = DefaultCacheMaxSize
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = settings.Timeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	log := opts.Logger
	if log == nil {
		log = settings.Logger
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     httpClient,
		cache:    expirable.NewLRU[string, string](size, nil, ttl),
		log:      log,
	}, nil
}

// Endpoint returns the auth service root.
func (c *Client) Endpoint() string { return c.endpoint }

// CachedUser returns the cached user for token without any network call.
func (c *Client) CachedUser(token string) (string, bool) {
	return c.cache.Get(token)
}

type tokenInfo struct {
	User string `json:"user"`
}

// GetUser returns the user name that owns token.
func (c *Client) GetUser(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", &AuthError{Kind: ErrInvalidToken, Message: "token is required"}
	}
	if user, ok := c.cache.Get(token); ok {
		return user, nil
	}

	var info tokenInfo
	if err := c.get(ctx, "/api/V2/token", nil, token, &info); err != nil {
		return "", err
	}
	if info.User == "" {
		return "", &IOError{StatusCode: http.StatusOK, Message: "token response has no user"}
	}

	c.cache.Add(token, info.User)
	c.log.Debug("Resolved auth token", zap.String("user", info.User))
	return info.User, nil
}

// UserDisplayName pairs a user name with its display name.
type UserDisplayName struct {
	UserName    string `json:"user_name" yaml:"user_name"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// GetUserDisplayName resolves token to a user and fetches its display name.
func (c *Client) GetUserDisplayName(ctx context.Context, token string) (*UserDisplayName, error) {
	user, err := c.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}

	names := map[string]string{}
	if err := c.get(ctx, "/api/V2/users/", url.Values{"list": {user}}, token, &names); err != nil {
		return nil, err
	}

	display, ok := names[user]
	if !ok || display == "" {
		display = UnknownDisplayName
	}
	return &UserDisplayName{UserName: user, DisplayName: display}, nil
}

type errorBody struct {
	Error *struct {
		AppCode int    `json:"appcode"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) get(ctx context.Context, path string, query url.Values, token string, out any) error {
	target := c.endpoint + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("auth: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return mapError(resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &IOError{StatusCode: resp.StatusCode, Message: "invalid response body: " + err.Error()}
	}
	return nil
}

// mapError converts a non-200 auth server response into an error.
func mapError(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return &IOError{StatusCode: status, Message: fmt.Sprintf("non-JSON response from auth server, status code %d", status)}
	}
	if body.Error == nil {
		return &IOError{StatusCode: status, Message: fmt.Sprintf("unexpected error response from auth server, status code %d", status)}
	}

	switch body.Error.AppCode {
	case AppCodeInvalidToken:
		return &AuthError{Kind: ErrInvalidToken, Message: errorDetail(body.Error.Message)}
	case AppCodeInvalidUser:
		return &AuthError{Kind: ErrInvalidUser, Message: errorDetail(body.Error.Message)}
	default:
		return &IOError{StatusCode: status, Message: body.Error.Message}
	}
}

// errorDetail returns the text after the second ":"-delimited segment of an
// auth server message ("30010 Illegal user name: <detail>").
func errorDetail(message string) string {
	parts := strings.SplitN(message, ":", 3)
	return strings.TrimSpace(parts[len(parts)-1])
}
