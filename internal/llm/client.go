// Package llm provides the multimodal model client used for routing,
// localization, planning, intent splitting, guidance interpretation and
// verification diagnostics. The model is a best-effort oracle: callers treat
// errors as degraded confidence, never as run-fatal.
package llm

import (
	"context"
	"errors"
)

// ErrBudgetExhausted is returned when a run exceeds its model-call alert
// threshold and further calls are refused.
var ErrBudgetExhausted = errors.New("model call budget exhausted")

// Request is a single multimodal request: prompt text plus optional inline
// PNG images.
type Request struct {
	Prompt      string
	Images      [][]byte
	Temperature float64
}

// Client is the request-response RPC contract with the model endpoint. It
// returns a single text blob.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}
