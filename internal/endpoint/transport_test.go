package endpoint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/stretchr/testify/require"
)

type stubCredentials struct {
	mu       sync.Mutex
	header   string
	err      error
	reported []int
}

func (s *stubCredentials) Authorization(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.header, s.err
}

func (s *stubCredentials) ReportStatus(_ context.Context, statusCode int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reported = append(s.reported, statusCode)
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}

func fastRetry() RetryPolicy {
	return RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: 4 * time.Millisecond, MaxAttempts: 3}
}

func newTestTransport(t *testing.T, serverURL string, credentials CredentialSource) *Transport {
	t.Helper()
	transport, err := NewTransport(TransportConfig{
		BaseURL:     serverURL,
		Timeout:     time.Second,
		Retry:       fastRetry(),
		Credentials: credentials,
	})
	require.NoError(t, err)
	return transport
}

func TestTransportRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	response, err := newTestTransport(t, server.URL, nil).Do(context.Background(), Request{Path: "/news/1"})
	require.NoError(t, err)
	require.Equal(t, `{"id":1}`, string(response.Body))
	require.Equal(t, int32(3), calls.Load())
}

func TestTransportStopsAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestTransport(t, server.URL, nil).Do(context.Background(), Request{Path: "/news/1"})
	require.ErrorIs(t, err, content.ErrTransientNetwork)
	require.Equal(t, int32(3), calls.Load())
}

func TestTransportNeverRetriesClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestTransport(t, server.URL, nil).Do(context.Background(), Request{Path: "/news/1"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "expected status error, got %v", err)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.ErrorIs(t, err, content.ErrNotFound)
	require.Equal(t, int32(1), calls.Load())
}

func TestTransportSendsBearerAndReportsUnauthorized(t *testing.T) {
	var seenAuthorization atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuthorization.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	credentials := &stubCredentials{header: "Bearer abc"}
	_, err := newTestTransport(t, server.URL, credentials).Do(context.Background(), Request{
		Method:        http.MethodPost,
		Path:          "/news/1/like",
		Authenticated: true,
	})
	require.ErrorIs(t, err, content.ErrAuthExpired)
	require.Equal(t, "Bearer abc", seenAuthorization.Load())
	require.Equal(t, []int{http.StatusUnauthorized}, credentials.reported)
}

func TestTransportRefusesAuthenticatedCallWithoutCredential(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	credentials := &stubCredentials{err: content.ErrAuthExpired}
	_, err := newTestTransport(t, server.URL, credentials).Do(context.Background(), Request{Path: "/x", Authenticated: true})
	require.ErrorIs(t, err, content.ErrAuthExpired)
	require.Zero(t, calls.Load(), "no request may leave without a credential")
}

func TestTransportUnauthenticatedForbiddenIsNotExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	_, err := newTestTransport(t, server.URL, nil).Do(context.Background(), Request{Path: "/x"})
	require.Error(t, err)
	require.NotErrorIs(t, err, content.ErrAuthExpired)
}

func TestExpandTemplates(t *testing.T) {
	path, err := ExpandPath("/news/{id}/comments", map[string]string{"id": "a b/c"})
	require.NoError(t, err)
	require.Equal(t, "/news/a%20b%2Fc/comments", path)

	body, err := ExpandJSON(`{"postId":"{id}","text":"{text}"}`, map[string]string{"id": "5", "text": `say "hi"`})
	require.NoError(t, err)
	require.JSONEq(t, `{"postId":"5","text":"say \"hi\""}`, body)

	_, err = ExpandPath("/news/{slug}", map[string]string{"id": "5"})
	require.ErrorIs(t, err, ErrUnresolvedPlaceholder)
}
