// Package session tracks the bearer credential and decides when it has expired.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/events"
	"github.com/MarcoPoloResearchLab/driftwood/internal/kvstore"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultMaxAge        = 24 * time.Hour
	defaultCheckInterval = 5 * time.Minute

	reasonNoCredential = "no stored credential"
	reasonAged         = "credential exceeded max age"
	reasonUnauthorized = "server rejected credential"
)

var (
	ErrMissingSessionStore = errors.New("session monitor: store required")
	ErrMissingSessionToken = errors.New("session monitor: token required")
)

// Status is the monitor state. Expired is terminal until the next Login.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusValid   Status = "valid"
	StatusExpired Status = "expired"
)

// Credential is the persisted bearer token and the moment it was issued.
type Credential struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issuedAt"`
}

// MonitorConfig describes the monitor's collaborators and timing.
type MonitorConfig struct {
	Store         kvstore.Store
	Dispatcher    *events.Dispatcher
	MaxAge        time.Duration
	CheckInterval time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Monitor owns the session credential and broadcasts expiry.
type Monitor struct {
	store      kvstore.Store
	dispatcher *events.Dispatcher
	maxAge     time.Duration
	interval   time.Duration
	clock      func() time.Time
	logger     *zap.Logger

	mu         sync.Mutex
	status     Status
	credential *Credential
}

// NewMonitor constructs a monitor in the Unknown state.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if cfg.Store == nil {
		return nil, ErrMissingSessionStore
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewDispatcher()
	}
	return &Monitor{
		store:      cfg.Store,
		dispatcher: dispatcher,
		maxAge:     maxAge,
		interval:   interval,
		clock:      clock,
		logger:     logger,
		status:     StatusUnknown,
	}, nil
}

// Status returns the state concluded by the most recent check.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe streams session-expired events.
func (m *Monitor) Subscribe(ctx context.Context) (<-chan events.Event, func()) {
	return m.dispatcher.Subscribe(ctx, events.TopicSessionExpired)
}

// Login stores a fresh credential and resets the monitor to Valid.
// A zero issuedAt is taken from the token's iat claim, else from the clock.
func (m *Monitor) Login(ctx context.Context, token string, issuedAt time.Time) (Credential, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Credential{}, ErrMissingSessionToken
	}
	if issuedAt.IsZero() {
		if fromToken, ok := IssuedAtFromToken(trimmed); ok {
			issuedAt = fromToken
		} else {
			issuedAt = m.clock()
		}
	}
	credential := Credential{Token: trimmed, IssuedAt: issuedAt.UTC()}
	encoded, err := json.Marshal(credential)
	if err != nil {
		return Credential{}, err
	}
	if err := m.store.Set(ctx, kvstore.SessionKey(), string(encoded)); err != nil {
		return Credential{}, fmt.Errorf("session monitor: persist credential: %w", err)
	}

	m.mu.Lock()
	m.credential = &credential
	m.status = StatusUnknown
	m.mu.Unlock()

	if m.CheckExpiry(ctx) != StatusValid {
		return credential, content.ErrAuthExpired
	}
	m.logger.Info("session credential stored", zap.Time("issued_at", credential.IssuedAt))
	return credential, nil
}

// Logout clears the credential without broadcasting an expiry.
func (m *Monitor) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.credential = nil
	m.status = StatusExpired
	m.mu.Unlock()
	return m.store.Remove(ctx, kvstore.SessionKey())
}

// CheckExpiry re-reads the stored credential and evaluates its age.
// A missing or unreadable credential is expired.
func (m *Monitor) CheckExpiry(ctx context.Context) Status {
	if m.Status() == StatusExpired {
		return StatusExpired
	}
	credential, err := m.loadCredential(ctx)
	if err != nil {
		m.logger.Warn("session credential unreadable", zap.Error(err))
		m.expire(ctx, reasonNoCredential)
		return StatusExpired
	}
	if credential == nil {
		m.expire(ctx, reasonNoCredential)
		return StatusExpired
	}
	if credential.IssuedAt.IsZero() || m.clock().Sub(credential.IssuedAt) > m.maxAge {
		m.expire(ctx, reasonAged)
		return StatusExpired
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusExpired {
		return StatusExpired
	}
	m.credential = credential
	m.status = StatusValid
	return StatusValid
}

// ReportStatus treats a 401 or 403 response as authoritative expiry.
// It reports whether the status code expired the session.
func (m *Monitor) ReportStatus(ctx context.Context, statusCode int) bool {
	if statusCode != http.StatusUnauthorized && statusCode != http.StatusForbidden {
		return false
	}
	m.expire(ctx, reasonUnauthorized)
	return true
}

// Authorization returns the bearer header value for authenticated calls.
// It consults the last concluded state and only re-checks when the state is Unknown.
func (m *Monitor) Authorization(ctx context.Context) (string, error) {
	status := m.Status()
	if status == StatusUnknown {
		status = m.CheckExpiry(ctx)
	}
	if status != StatusValid {
		return "", content.ErrAuthExpired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil || m.status != StatusValid {
		return "", content.ErrAuthExpired
	}
	return "Bearer " + m.credential.Token, nil
}

// Run checks immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.CheckExpiry(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckExpiry(ctx)
		}
	}
}

func (m *Monitor) loadCredential(ctx context.Context) (*Credential, error) {
	raw, ok, err := m.store.Get(ctx, kvstore.SessionKey())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var credential Credential
	if err := json.Unmarshal([]byte(raw), &credential); err != nil {
		return nil, err
	}
	if strings.TrimSpace(credential.Token) == "" {
		return nil, nil
	}
	return &credential, nil
}

// expire performs the transition into Expired once and broadcasts it.
func (m *Monitor) expire(ctx context.Context, reason string) {
	m.mu.Lock()
	if m.status == StatusExpired {
		m.mu.Unlock()
		return
	}
	previous := m.status
	m.status = StatusExpired
	m.credential = nil
	m.mu.Unlock()

	if err := m.store.Remove(ctx, kvstore.SessionKey()); err != nil {
		m.logger.Warn("session credential removal failed", zap.Error(err))
	}
	m.logger.Info("session expired",
		zap.String("previous_status", string(previous)),
		zap.String("reason", reason))
	m.dispatcher.Publish(events.Event{
		Topic:     events.TopicSessionExpired,
		Message:   reason,
		Timestamp: m.clock().UTC(),
	})
}

// IssuedAtFromToken reads the iat claim of a JWT without verifying its signature.
func IssuedAtFromToken(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.IssuedAt == nil {
		return time.Time{}, false
	}
	return claims.IssuedAt.Time, true
}
