// Package client wires the resolver, reconciliation store, mutation controller and
// session monitor into the data-access facade presentation code talks to.
package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/config"
	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/endpoint"
	"github.com/MarcoPoloResearchLab/driftwood/internal/events"
	"github.com/MarcoPoloResearchLab/driftwood/internal/interaction"
	"github.com/MarcoPoloResearchLab/driftwood/internal/kvstore"
	"github.com/MarcoPoloResearchLab/driftwood/internal/reconcile"
	"github.com/MarcoPoloResearchLab/driftwood/internal/session"
	"go.uber.org/zap"
)

// Config describes how the client is assembled. Store and HTTPClient are optional;
// without a Store the driver named in App is opened.
type Config struct {
	App        config.AppConfig
	Store      kvstore.Store
	HTTPClient endpoint.Doer
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Client is the data-access facade.
type Client struct {
	kv         kvstore.Store
	ownsKV     bool
	dispatcher *events.Dispatcher
	monitor    *session.Monitor
	records    *reconcile.Store
	controller *interaction.Controller
	logger     *zap.Logger

	mu    sync.Mutex
	kinds map[content.ResourceID]content.Kind
}

// New assembles a client from cfg.
func New(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	kv := cfg.Store
	ownsKV := false
	if kv == nil {
		opened, err := kvstore.Open(cfg.App.StoreDriver, cfg.App.StorePath, logger)
		if err != nil {
			return nil, err
		}
		kv = opened
		ownsKV = true
	}

	dispatcher := events.NewDispatcher()
	monitor, err := session.NewMonitor(session.MonitorConfig{
		Store:         kv,
		Dispatcher:    dispatcher,
		MaxAge:        cfg.App.SessionMaxAge,
		CheckInterval: cfg.App.CheckInterval,
		Clock:         clock,
		Logger:        logger.Named("session"),
	})
	if err != nil {
		return nil, err
	}

	transport, err := endpoint.NewTransport(endpoint.TransportConfig{
		BaseURL:     cfg.App.BaseURL,
		HTTPClient:  cfg.HTTPClient,
		Timeout:     cfg.App.RequestTimeout,
		Retry:       cfg.App.Retry,
		Credentials: monitor,
		Logger:      logger.Named("transport"),
	})
	if err != nil {
		return nil, err
	}
	resolver, err := endpoint.NewResolver(endpoint.ResolverConfig{
		Transport: transport,
		Catalog:   cfg.App.Endpoints,
		Logger:    logger.Named("resolver"),
	})
	if err != nil {
		return nil, err
	}
	executor, err := endpoint.NewExecutor(transport, logger.Named("mutations"))
	if err != nil {
		return nil, err
	}

	records, err := reconcile.NewStore(reconcile.StoreConfig{
		KV:                kv,
		Resolver:          resolver,
		Dispatcher:        dispatcher,
		Defaults:          cfg.App.RecordDefaults,
		RefreshAfter:      cfg.App.RefreshAfter,
		ForceRefreshAfter: cfg.App.ForceRefreshAfter,
		Clock:             clock,
		Logger:            logger.Named("reconcile"),
	})
	if err != nil {
		return nil, err
	}
	client := &Client{
		kv:         kv,
		ownsKV:     ownsKV,
		dispatcher: dispatcher,
		monitor:    monitor,
		records:    records,
		logger:     logger,
		kinds:      make(map[content.ResourceID]content.Kind),
	}
	client.controller, err = interaction.NewController(interaction.ControllerConfig{
		Executor:    executor,
		Variants:    cfg.App.Mutations,
		Session:     monitor,
		Dispatcher:  dispatcher,
		AllowUnlike: cfg.App.AllowUnlike,
		Commit:      client.commitInteraction,
		Logger:      logger.Named("interaction"),
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Fetch returns the canonical record for id and seeds its interaction counters.
// When the record exists nowhere a labeled placeholder is returned with content.ErrNotFound.
func (c *Client) Fetch(ctx context.Context, kind content.Kind, id content.ResourceID, params map[string]string) (content.CanonicalRecord, error) {
	record, err := c.records.Load(ctx, kind, id, params)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			return placeholder(kind, id), err
		}
		return content.CanonicalRecord{}, err
	}
	c.seed(record)
	return record, nil
}

// Refresh bypasses the cache tiers and fetches id now. When the fetch fails the
// cached copy, marked stale, is returned alongside the error.
func (c *Client) Refresh(ctx context.Context, kind content.Kind, id content.ResourceID, params map[string]string) (content.CanonicalRecord, error) {
	record, err := c.records.Refresh(ctx, kind, id, params)
	if err == nil {
		c.seed(record)
		return record, nil
	}
	cached, found, cacheErr := c.records.Cached(ctx, kind, id)
	if cacheErr == nil && found {
		c.logger.Warn("refresh failed; serving cached copy",
			zap.String("kind", kind.String()),
			zap.String("resource_id", id.String()),
			zap.Error(err))
		cached.Stale = true
		c.seed(cached)
		return cached, err
	}
	if errors.Is(err, content.ErrNotFound) {
		return placeholder(kind, id), err
	}
	return content.CanonicalRecord{}, err
}

// Revalidate refreshes id in the background when its cached copy is stale.
func (c *Client) Revalidate(ctx context.Context, kind content.Kind, id content.ResourceID, params map[string]string) bool {
	return c.records.Revalidate(ctx, kind, id, params)
}

// Like likes id optimistically.
func (c *Client) Like(ctx context.Context, id content.ResourceID) (*interaction.Ticket, error) {
	return c.controller.Submit(ctx, id, interaction.ActionLike, nil)
}

// Unlike withdraws a like optimistically. It is a no-op unless unliking is allowed.
func (c *Client) Unlike(ctx context.Context, id content.ResourceID) (*interaction.Ticket, error) {
	return c.controller.Submit(ctx, id, interaction.ActionUnlike, nil)
}

// ToggleLike likes or unlikes id depending on its current state.
func (c *Client) ToggleLike(ctx context.Context, id content.ResourceID) (*interaction.Ticket, error) {
	if c.controller.State(id, interaction.KindLike).LocallyLiked {
		return c.Unlike(ctx, id)
	}
	return c.Like(ctx, id)
}

// RecordView counts a view of id optimistically.
func (c *Client) RecordView(ctx context.Context, id content.ResourceID) (*interaction.Ticket, error) {
	return c.controller.Submit(ctx, id, interaction.ActionView, nil)
}

// Comment posts text on id optimistically.
func (c *Client) Comment(ctx context.Context, id content.ResourceID, text string) (*interaction.Ticket, error) {
	return c.controller.Submit(ctx, id, interaction.ActionComment, map[string]string{"text": text})
}

// Interaction returns the optimistic counter state of (id, kind).
func (c *Client) Interaction(id content.ResourceID, kind interaction.Kind) interaction.State {
	return c.controller.State(id, kind)
}

// SaveEdit stores a local edit that overlays every later read of id.
func (c *Client) SaveEdit(ctx context.Context, id content.ResourceID, fields content.Record) (reconcile.LocalEdit, error) {
	return c.records.SaveEdit(ctx, id, fields)
}

// DiscardEdit drops the local edit of id.
func (c *Client) DiscardEdit(ctx context.Context, id content.ResourceID) error {
	return c.records.DiscardEdit(ctx, id)
}

// Login stores a credential. A zero issuedAt is read from the token.
func (c *Client) Login(ctx context.Context, token string, issuedAt time.Time) (session.Credential, error) {
	return c.monitor.Login(ctx, token, issuedAt)
}

// Logout clears the credential. Cached content is kept.
func (c *Client) Logout(ctx context.Context) error {
	return c.monitor.Logout(ctx)
}

// SessionStatus re-evaluates the stored credential.
func (c *Client) SessionStatus(ctx context.Context) session.Status {
	return c.monitor.CheckExpiry(ctx)
}

// Subscribe streams events of topic until ctx is done or cleanup is called.
func (c *Client) Subscribe(ctx context.Context, topic events.Topic) (<-chan events.Event, func()) {
	return c.dispatcher.Subscribe(ctx, topic)
}

// Run drives the session monitor until ctx is done.
func (c *Client) Run(ctx context.Context) {
	c.monitor.Run(ctx)
}

// Wait blocks until background refreshes and queued mutations have settled.
func (c *Client) Wait() {
	c.controller.Wait()
	c.records.Wait()
}

// Close waits for background work and releases a store the client opened itself.
func (c *Client) Close() error {
	c.Wait()
	if closer, ok := c.kv.(io.Closer); ok && c.ownsKV {
		return closer.Close()
	}
	return nil
}

func (c *Client) seed(record content.CanonicalRecord) {
	c.mu.Lock()
	c.kinds[record.ID] = record.Kind
	c.mu.Unlock()
	c.controller.Seed(record)
}

// commitInteraction writes confirmed counters into the cached copy so later reads
// agree with the server's answer.
func (c *Client) commitInteraction(ctx context.Context, id content.ResourceID, fields content.Record) error {
	c.mu.Lock()
	kind, known := c.kinds[id]
	c.mu.Unlock()
	if !known {
		return nil
	}
	_, err := c.records.PatchCached(ctx, kind, id, fields)
	return err
}

func placeholder(kind content.Kind, id content.ResourceID) content.CanonicalRecord {
	fields := content.Placeholder(id)
	sources := make(map[string]content.FieldSource, len(fields))
	for name := range fields {
		sources[name] = content.SourceDefault
	}
	sources[content.FieldID] = content.SourceRequested
	return content.CanonicalRecord{
		ID:          id,
		Kind:        kind,
		Fields:      fields,
		Sources:     sources,
		Placeholder: true,
	}
}
