package llm

import (
	"context"
	"encoding/json"
)

// OpenAI validates keys against GET v1/models.
type OpenAI struct {
	probe
}

var _ Validator = (*OpenAI)(nil)

// Provider returns KindOpenAI.
func (o *OpenAI) Provider() Kind { return KindOpenAI }

// ValidateKey probes v1/models with key.
func (o *OpenAI) ValidateKey(ctx context.Context, key string) error {
	return o.get(ctx, KindOpenAI, "/v1/models", key, o.MapError)
}

// MapError reads error.message from an OpenAI error body.
func (o *OpenAI) MapError(status int, body []byte) error {
	msg := fallbackMessage(status, body)
	if env, ok := decodeEnvelope(body); ok && env.Error != nil && env.Error.Message != "" {
		msg = env.Error.Message
	}
	return &ProviderError{Provider: KindOpenAI, StatusCode: status, Message: msg}
}

// CBORG validates keys against GET user/info.
type CBORG struct {
	probe
}

var _ Validator = (*CBORG)(nil)

// Provider returns KindCBORG.
func (c *CBORG) Provider() Kind { return KindCBORG }

// ValidateKey probes user/info with key.
func (c *CBORG) ValidateKey(ctx context.Context, key string) error {
	return c.get(ctx, KindCBORG, "/user/info", key, c.MapError)
}

// MapError reads error.message, falling back to detail, from a CBORG error body.
func (c *CBORG) MapError(status int, body []byte) error {
	msg := fallbackMessage(status, body)
	if env, ok := decodeEnvelope(body); ok {
		switch {
		case env.Error != nil && env.Error.Message != "":
			msg = env.Error.Message
		case env.Detail != nil:
			if s, ok := env.Detail.(string); ok {
				msg = s
			} else if b, err := json.Marshal(env.Detail); err == nil {
				msg = string(b)
			}
		}
	}
	return &ProviderError{Provider: KindCBORG, StatusCode: status, Message: msg}
}
