package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/events"
	"github.com/MarcoPoloResearchLab/driftwood/internal/kvstore"
	"github.com/golang-jwt/jwt/v5"
)

const testSessionSigningSecret = "secret"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMonitor(t *testing.T) (*Monitor, *kvstore.MemoryStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
	store := kvstore.NewMemoryStore()
	monitor, err := NewMonitor(MonitorConfig{
		Store:      store,
		Dispatcher: events.NewDispatcher(),
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct monitor: %v", err)
	}
	return monitor, store, clock
}

func TestCheckExpiryFailsClosedWithoutCredential(t *testing.T) {
	monitor, _, _ := newTestMonitor(t)
	if status := monitor.CheckExpiry(context.Background()); status != StatusExpired {
		t.Fatalf("expected expired without credential, got %s", status)
	}
	if _, err := monitor.Authorization(context.Background()); !errors.Is(err, content.ErrAuthExpired) {
		t.Fatalf("expected auth expired error, got %v", err)
	}
}

func TestCheckExpiryUsesMaxAge(t *testing.T) {
	monitor, _, clock := newTestMonitor(t)
	ctx := context.Background()

	if _, err := monitor.Login(ctx, "opaque-token", clock.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if status := monitor.CheckExpiry(ctx); status != StatusValid {
		t.Fatalf("expected valid session, got %s", status)
	}
	header, err := monitor.Authorization(ctx)
	if err != nil {
		t.Fatalf("authorization failed: %v", err)
	}
	if header != "Bearer opaque-token" {
		t.Fatalf("unexpected header %q", header)
	}

	clock.Advance(23*time.Hour + time.Minute)
	if status := monitor.CheckExpiry(ctx); status != StatusExpired {
		t.Fatalf("expected expiry after max age, got %s", status)
	}
}

func TestExpiryBroadcastsOnceAndClearsCredential(t *testing.T) {
	monitor, store, clock := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := monitor.Subscribe(ctx)
	defer cleanup()

	if _, err := monitor.Login(ctx, "opaque-token", clock.Now()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := store.Set(ctx, kvstore.CacheKey("article"), `{"1":{}}`); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	if !monitor.ReportStatus(ctx, http.StatusUnauthorized) {
		t.Fatalf("expected 401 to expire the session")
	}
	monitor.ReportStatus(ctx, http.StatusForbidden)
	monitor.CheckExpiry(ctx)

	select {
	case event := <-stream:
		if event.Topic != events.TopicSessionExpired {
			t.Fatalf("unexpected topic %s", event.Topic)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected expiry broadcast")
	}
	select {
	case <-stream:
		t.Fatal("expiry must be broadcast exactly once")
	case <-time.After(100 * time.Millisecond):
	}

	if _, ok, _ := store.Get(ctx, kvstore.SessionKey()); ok {
		t.Fatalf("expected credential to be cleared")
	}
	if _, ok, _ := store.Get(ctx, kvstore.CacheKey("article")); !ok {
		t.Fatalf("cached content must survive expiry")
	}
}

func TestReportStatusIgnoresOtherCodes(t *testing.T) {
	monitor, _, clock := newTestMonitor(t)
	ctx := context.Background()
	if _, err := monitor.Login(ctx, "opaque-token", clock.Now()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	for _, code := range []int{http.StatusNotFound, http.StatusInternalServerError, http.StatusOK} {
		if monitor.ReportStatus(ctx, code) {
			t.Fatalf("status %d must not expire the session", code)
		}
	}
	if monitor.Status() != StatusValid {
		t.Fatalf("expected session to stay valid, got %s", monitor.Status())
	}
}

func TestExpiredIsTerminalUntilLogin(t *testing.T) {
	monitor, store, clock := newTestMonitor(t)
	ctx := context.Background()

	monitor.CheckExpiry(ctx)
	encoded, _ := json.Marshal(Credential{Token: "sneaky", IssuedAt: clock.Now()})
	if err := store.Set(ctx, kvstore.SessionKey(), string(encoded)); err != nil {
		t.Fatalf("failed to write credential: %v", err)
	}
	if status := monitor.CheckExpiry(ctx); status != StatusExpired {
		t.Fatalf("expired must be terminal without login, got %s", status)
	}

	if _, err := monitor.Login(ctx, "fresh", clock.Now()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if monitor.Status() != StatusValid {
		t.Fatalf("expected login to restore a valid session, got %s", monitor.Status())
	}
}

func TestLoginReadsIssuedAtFromJWT(t *testing.T) {
	monitor, _, clock := newTestMonitor(t)
	issuedAt := clock.Now().Add(-25 * time.Hour)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  "user-123",
		IssuedAt: jwt.NewNumericDate(issuedAt),
	})
	signed, err := token.SignedString([]byte(testSessionSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	credential, err := monitor.Login(context.Background(), signed, time.Time{})
	if !errors.Is(err, content.ErrAuthExpired) {
		t.Fatalf("expected stale token to be rejected, got %v", err)
	}
	if !credential.IssuedAt.Equal(issuedAt.Truncate(time.Second)) {
		t.Fatalf("expected issued at from claims, got %s", credential.IssuedAt)
	}
}

func TestLogoutDoesNotBroadcast(t *testing.T) {
	monitor, _, clock := newTestMonitor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := monitor.Subscribe(ctx)
	defer cleanup()

	if _, err := monitor.Login(ctx, "opaque-token", clock.Now()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := monitor.Logout(ctx); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if monitor.CheckExpiry(ctx) != StatusExpired {
		t.Fatalf("expected expired after logout")
	}
	select {
	case <-stream:
		t.Fatal("explicit logout must not raise the expiry broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRunChecksOnMountAndTicker(t *testing.T) {
	clock := &testClock{now: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)}
	monitor, err := NewMonitor(MonitorConfig{
		Store:         kvstore.NewMemoryStore(),
		Clock:         clock.Now,
		CheckInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct monitor: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := monitor.Login(ctx, "opaque-token", clock.Now()); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	stream, cleanup := monitor.Subscribe(ctx)
	defer cleanup()

	go monitor.Run(ctx)
	clock.Advance(25 * time.Hour)

	select {
	case <-stream:
	case <-time.After(time.Second):
		t.Fatal("expected the ticker to detect expiry")
	}
}
