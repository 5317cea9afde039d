// Package credentials validates a platform auth token and an LLM-provider API
// key together, reporting every failure rather than stopping at the first.
package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/kbagent/pkg/auth"
	"github.com/3leaps/kbagent/pkg/llm"
)

// Check names.
const (
	CheckToken  = "token"
	CheckAPIKey = "api_key"
)

// TokenResolver resolves a platform token to its owning user.
type TokenResolver interface {
	GetUser(ctx context.Context, token string) (string, error)
}

var _ TokenResolver = (*auth.Client)(nil)

// Checks selects what Validate verifies. A nil Auth skips the token check and
// a nil Validator skips the key check.
type Checks struct {
	Token     string
	Auth      TokenResolver
	APIKey    string
	Validator llm.Validator
}

// Result is the outcome of a single check.
type Result struct {
	Name     string `json:"name" yaml:"name"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	OK       bool   `json:"ok" yaml:"ok"`
	Message  string `json:"message,omitempty" yaml:"message,omitempty"`

	err error
}

// Err returns the failure, or nil if the check passed.
func (r Result) Err() error { return r.err }

// Report collects check results in execution order.
type Report struct {
	Results []Result `json:"results" yaml:"results"`
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	for _, res := range r.Results {
		if !res.OK {
			return false
		}
	}
	return true
}

// Err joins every failure into one error, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.err != nil {
			errs = append(errs, res.err)
		}
	}
	return errors.Join(errs...)
}

// User returns the user resolved by the token check, if it passed.
func (r *Report) User() string {
	for _, res := range r.Results {
		if res.Name == CheckToken && res.OK {
			return res.User
		}
	}
	return ""
}

// Validate runs the selected checks independently. A failing token check does
// not stop the key check.
func Validate(ctx context.Context, c Checks) *Report {
	report := &Report{}

	if c.Auth != nil {
		res := Result{Name: CheckToken}
		user, err := c.Auth.GetUser(ctx, c.Token)
		if err != nil {
			res.err = fmt.Errorf("token: %w", err)
			res.Message = err.Error()
		} else {
			res.OK = true
			res.User = user
		}
		report.Results = append(report.Results, res)
	}

	if c.Validator != nil {
		res := Result{Name: CheckAPIKey, Provider: c.Validator.Provider().String()}
		if err := c.Validator.ValidateKey(ctx, c.APIKey); err != nil {
			res.err = fmt.Errorf("api key: %w", err)
			res.Message = err.Error()
		} else {
			res.OK = true
		}
		report.Results = append(report.Results, res)
	}

	return report
}
