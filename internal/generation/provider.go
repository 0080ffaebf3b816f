package generation

import (
	"context"
	"fmt"
)

// Request describes one generation call to the external provider.
type Request struct {
	MediaType string
	Prompt    string
}

// Media is the provider's successful output.
type Media struct {
	Data        []byte
	ContentType string
}

// PolicyError is a permanent failure: the provider rejected the prompt and
// no number of retries will change the outcome.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("content policy violation: %s", e.Reason)
}

// TransientError is a failure that may succeed on retry (rate limit,
// timeout, provider outage).
type TransientError struct {
	Reason string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient generation failure: %s", e.Reason)
}

// Provider is the black-box generative-media capability. Errors returned
// from Generate are *PolicyError, *TransientError, or plain errors —
// callers must treat anything that is not a PolicyError as transient.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Media, error)
}
