package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Variant is one way of expressing a write against a backend whose contract is uncertain,
// for example a different path or a different upload field name.
type Variant struct {
	Method        string `mapstructure:"method"`
	Template      string `mapstructure:"template"`
	Body          string `mapstructure:"body"`
	Authenticated bool   `mapstructure:"authenticated"`
}

// MutationResult is the reply of the variant that succeeded.
type MutationResult struct {
	StatusCode int
	Body       []byte
	Endpoint   string
	Attempt    int
}

// Executor runs write variants through the same ordered probe as reads.
type Executor struct {
	transport Fetcher
	logger    *zap.Logger
}

// NewExecutor validates its collaborators.
func NewExecutor(transport Fetcher, logger *zap.Logger) (*Executor, error) {
	if transport == nil {
		return nil, errMissingTransport
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{transport: transport, logger: logger}, nil
}

// Execute tries variants in order until one is accepted. action labels log lines.
func (e *Executor) Execute(ctx context.Context, action string, variants []Variant, values map[string]string) (MutationResult, error) {
	try := func(ctx context.Context, variant Variant) (MutationResult, error) {
		path, err := ExpandPath(variant.Template, values)
		if err != nil {
			return MutationResult{}, err
		}
		var body []byte
		if strings.TrimSpace(variant.Body) != "" {
			expanded, err := ExpandJSON(variant.Body, values)
			if err != nil {
				return MutationResult{}, err
			}
			body = []byte(expanded)
		}
		method := strings.ToUpper(strings.TrimSpace(variant.Method))
		if method == "" {
			method = http.MethodPost
		}
		response, err := e.transport.Do(ctx, Request{
			Method:        method,
			Path:          path,
			Body:          body,
			Authenticated: variant.Authenticated,
		})
		if err != nil {
			return MutationResult{}, err
		}
		return MutationResult{StatusCode: response.StatusCode, Body: response.Body, Endpoint: method + " " + path}, nil
	}
	onFailure := func(index int, variant Variant, err error) {
		e.logger.Debug("mutation variant rejected",
			zap.String("action", action),
			zap.String("candidate", variant.Template),
			zap.Int("attempt", index),
			zap.Error(err))
	}

	result, index, err := Probe(ctx, variants, try, onFailure)
	if err != nil {
		if errors.Is(err, ErrNoCandidates) {
			return MutationResult{}, fmt.Errorf("%s: %w", action, err)
		}
		return MutationResult{}, err
	}
	result.Attempt = index
	return result, nil
}
