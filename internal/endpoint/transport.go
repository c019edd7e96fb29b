package endpoint

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultRequestTimeout  = 8 * time.Second
	defaultInitialInterval = time.Second
	defaultMaxInterval     = 4 * time.Second
	defaultMaxAttempts     = 3
	maxResponseBytes       = 4 << 20

	headerAuthorization = "Authorization"
	headerRequestID     = "X-Request-ID"
	contentTypeJSON     = "application/json"
)

var (
	errMissingBaseURL     = errors.New("endpoint: base url required")
	errMissingCredentials = errors.New("endpoint: credential source required for authenticated request")
)

// CredentialSource supplies bearer headers and receives authoritative auth failures.
type CredentialSource interface {
	Authorization(ctx context.Context) (string, error)
	ReportStatus(ctx context.Context, statusCode int) bool
}

// Doer is the subset of *http.Client used by the transport.
type Doer interface {
	Do(request *http.Request) (*http.Response, error)
}

// RetryPolicy bounds retries of network-level failures.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint
}

// DefaultRetryPolicy waits 1s, 2s, 4s between attempts and stops after three attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
		MaxAttempts:     defaultMaxAttempts,
	}
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	// Authenticated reports whether the call carried a bearer credential.
	Authenticated bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("endpoint: %s %s returned %d", e.Method, e.Path, e.StatusCode)
}

// Unwrap maps the status onto the error taxonomy.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Authenticated && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden):
		return content.ErrAuthExpired
	case e.StatusCode == http.StatusNotFound:
		return content.ErrNotFound
	case isTransientStatus(e.StatusCode):
		return content.ErrTransientNetwork
	default:
		return nil
	}
}

func isTransientStatus(code int) bool {
	return code == http.StatusBadGateway || code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

// Request is one backend call relative to the base URL.
type Request struct {
	Method        string
	Path          string
	Body          []byte
	Authenticated bool
}

// Response is a successful backend reply.
type Response struct {
	StatusCode int
	Body       []byte
}

// TransportConfig describes how backend calls are issued.
type TransportConfig struct {
	BaseURL     string
	HTTPClient  Doer
	Timeout     time.Duration
	Retry       RetryPolicy
	Credentials CredentialSource
	Logger      *zap.Logger
}

// Transport issues JSON calls with per-attempt timeouts and capped exponential retries.
type Transport struct {
	baseURL     string
	client      Doer
	timeout     time.Duration
	retry       RetryPolicy
	credentials CredentialSource
	logger      *zap.Logger
}

// NewTransport validates cfg and applies defaults.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	retry := cfg.Retry
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = defaultInitialInterval
	}
	if retry.MaxInterval < retry.InitialInterval {
		retry.MaxInterval = retry.InitialInterval
	}
	if retry.MaxAttempts == 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		baseURL:     baseURL,
		client:      client,
		timeout:     timeout,
		retry:       retry,
		credentials: cfg.Credentials,
		logger:      logger,
	}, nil
}

// Do issues request, retrying only network-level failures.
func (t *Transport) Do(ctx context.Context, request Request) (Response, error) {
	if request.Method == "" {
		request.Method = http.MethodGet
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.retry.InitialInterval
	policy.MaxInterval = t.retry.MaxInterval
	policy.Multiplier = 2
	policy.RandomizationFactor = 0

	operation := func() (Response, error) {
		return t.attempt(ctx, request)
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(t.retry.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			t.logger.Debug("retrying backend call",
				zap.String("method", request.Method),
				zap.String("path", request.Path),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
}

func (t *Transport) attempt(ctx context.Context, request Request) (Response, error) {
	var authorization string
	if request.Authenticated {
		if t.credentials == nil {
			return Response{}, backoff.Permanent(fmt.Errorf("%w: %v", content.ErrAuthExpired, errMissingCredentials))
		}
		header, err := t.credentials.Authorization(ctx)
		if err != nil {
			return Response{}, backoff.Permanent(err)
		}
		authorization = header
	}

	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var body io.Reader = http.NoBody
	if len(request.Body) > 0 {
		body = bytes.NewReader(request.Body)
	}
	httpRequest, err := http.NewRequestWithContext(attemptCtx, request.Method, t.urlFor(request.Path), body)
	if err != nil {
		return Response{}, backoff.Permanent(err)
	}
	httpRequest.Header.Set("Accept", contentTypeJSON)
	httpRequest.Header.Set(headerRequestID, uuid.NewString())
	if len(request.Body) > 0 {
		httpRequest.Header.Set("Content-Type", contentTypeJSON)
	}
	if authorization != "" {
		httpRequest.Header.Set(headerAuthorization, authorization)
	}

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, backoff.Permanent(ctx.Err())
		}
		return Response{}, fmt.Errorf("%w: %v", content.ErrTransientNetwork, err)
	}
	defer httpResponse.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read body: %v", content.ErrTransientNetwork, err)
	}

	if httpResponse.StatusCode >= 200 && httpResponse.StatusCode < 300 {
		return Response{StatusCode: httpResponse.StatusCode, Body: payload}, nil
	}

	statusErr := &StatusError{
		Method:        request.Method,
		Path:          request.Path,
		StatusCode:    httpResponse.StatusCode,
		Authenticated: request.Authenticated,
	}
	if request.Authenticated && t.credentials != nil {
		t.credentials.ReportStatus(ctx, httpResponse.StatusCode)
	}
	if isTransientStatus(httpResponse.StatusCode) {
		return Response{}, statusErr
	}
	return Response{}, backoff.Permanent(statusErr)
}

func (t *Transport) urlFor(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return t.baseURL + "/" + strings.TrimLeft(path, "/")
}
