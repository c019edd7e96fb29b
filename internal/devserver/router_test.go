package devserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T) (*Server, *TokenIssuer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("test-secret")})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	server, err := NewServer(Dependencies{Tokens: tokens, Articles: NewArticles(SampleArticles()...)})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server, tokens
}

func serve(server http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	server.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func TestServerServesInconsistentShapes(t *testing.T) {
	server, _ := newTestServer(t)

	if recorder := serve(server, http.MethodGet, "/news/5", "", ""); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected legacy path to 404, got %d", recorder.Code)
	}

	recorder := serve(server, http.MethodGet, "/news/by-id/5", "", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	data, ok := decodeBody(t, recorder)["data"].(map[string]any)
	if !ok || data["title"] != "Night market returns" {
		t.Fatalf("unexpected data envelope %s", recorder.Body.String())
	}

	blanked := decodeBody(t, serve(server, http.MethodGet, "/posts/5", "", ""))
	if blanked["image"] != nil || strings.TrimSpace(blanked["body"].(string)) != "" {
		t.Fatalf("expected blanked fields, got %v", blanked)
	}

	listing := decodeBody(t, serve(server, http.MethodGet, "/posts", "", ""))
	if posts, ok := listing["posts"].([]any); !ok || len(posts) != 3 {
		t.Fatalf("unexpected posts listing %v", listing)
	}

	if recorder := serve(server, http.MethodGet, "/videos", "", ""); strings.TrimSpace(recorder.Body.String()) != "[]" {
		t.Fatalf("expected empty array, got %s", recorder.Body.String())
	}
}

func TestServerProtectsMutations(t *testing.T) {
	server, tokens := newTestServer(t)

	if recorder := serve(server, http.MethodPost, "/posts/1/likes", "", ""); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", recorder.Code)
	}
	if recorder := serve(server, http.MethodPost, "/posts/1/likes", "", "garbage"); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with invalid bearer, got %d", recorder.Code)
	}

	token, _, err := tokens.Issue("reader-1")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	first := decodeBody(t, serve(server, http.MethodPost, "/posts/1/likes", "", token))
	second := decodeBody(t, serve(server, http.MethodPost, "/posts/1/likes", "", token))
	if first["likeCount"] != float64(13) || second["likeCount"] != float64(13) {
		t.Fatalf("expected one like per subject, got %v then %v", first, second)
	}

	unliked := decodeBody(t, serve(server, http.MethodPost, "/news/1/unlike", "", token))
	if unliked["data"].(map[string]any)["likesCount"] != float64(12) {
		t.Fatalf("unexpected unlike response %v", unliked)
	}

	recorder := serve(server, http.MethodPost, "/news/2/comments", `{"text":"great"}`, token)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", recorder.Code)
	}
	if decodeBody(t, recorder)["commentsCount"] != float64(1) {
		t.Fatalf("unexpected comment response %s", recorder.Body.String())
	}
}

func TestServerViewHasNoBodyAndOutageReturns503(t *testing.T) {
	server, _ := newTestServer(t)

	recorder := serve(server, http.MethodPost, "/news/2/view", "", "")
	if recorder.Code != http.StatusNoContent || recorder.Body.Len() != 0 {
		t.Fatalf("expected empty 204, got %d %q", recorder.Code, recorder.Body.String())
	}

	server.SetOutage(true)
	if recorder := serve(server, http.MethodGet, "/news/by-id/2", "", ""); recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during outage, got %d", recorder.Code)
	}
	if recorder := serve(server, http.MethodPost, "/auth/token", `{"subject":"x"}`, ""); recorder.Code != http.StatusOK {
		t.Fatalf("token minting must stay available, got %d", recorder.Code)
	}
}

func TestTokenIssuerRejectsExpiredTokens(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	tokens, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s"), TokenTTL: time.Minute, Clock: clock})
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	token, expiresIn, err := tokens.Issue("reader")
	if err != nil || expiresIn != 60 {
		t.Fatalf("unexpected issue result %d %v", expiresIn, err)
	}
	if subject, err := tokens.ValidateToken(token); err != nil || subject != "reader" {
		t.Fatalf("expected valid token, got %q %v", subject, err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := tokens.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
	if _, err := NewTokenIssuer(TokenIssuerConfig{}); err == nil {
		t.Fatalf("expected missing secret to be rejected")
	}
}
