package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/endpoint"
	"github.com/MarcoPoloResearchLab/driftwood/internal/events"
	"github.com/MarcoPoloResearchLab/driftwood/internal/kvstore"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRefreshAfter      = 2 * time.Minute
	defaultForceRefreshAfter = 5 * time.Minute
)

var (
	errMissingKV       = errors.New("kv store is required")
	errMissingResolver = errors.New("resolver is required")
	errEmptyEdit       = errors.New("edit carries no fields")
)

// StoreError reports an operational failure with an operation.reason code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew    = "reconcile.store.new"
	opLoad        = "reconcile.load"
	opRefresh     = "reconcile.refresh"
	opSaveEdit    = "reconcile.save_edit"
	opDiscardEdit = "reconcile.discard_edit"
	opPatchCached = "reconcile.patch_cached"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Resolver fetches the remote copy of a record.
type Resolver interface {
	Resolve(ctx context.Context, kind content.Kind, id content.ResourceID, params map[string]string) (endpoint.Resolution, error)
}

// StoreConfig describes the store's collaborators and staleness tiers.
type StoreConfig struct {
	KV                kvstore.Store
	Resolver          Resolver
	Dispatcher        *events.Dispatcher
	Defaults          map[content.Kind]content.Record
	RefreshAfter      time.Duration
	ForceRefreshAfter time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// Store serves canonical records from the cache and keeps the cache current.
type Store struct {
	kv                kvstore.Store
	resolver          Resolver
	dispatcher        *events.Dispatcher
	defaults          map[content.Kind]content.Record
	refreshAfter      time.Duration
	forceRefreshAfter time.Duration
	clock             func() time.Time
	logger            *zap.Logger

	mu        sync.Mutex
	sequences map[string]uint64
	refreshes singleflight.Group
	pending   sync.WaitGroup
}

// NewStore validates cfg and applies defaults.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.KV == nil {
		return nil, newStoreError(opStoreNew, "missing_kv", errMissingKV)
	}
	if cfg.Resolver == nil {
		return nil, newStoreError(opStoreNew, "missing_resolver", errMissingResolver)
	}
	refreshAfter := cfg.RefreshAfter
	if refreshAfter <= 0 {
		refreshAfter = defaultRefreshAfter
	}
	forceRefreshAfter := cfg.ForceRefreshAfter
	if forceRefreshAfter <= 0 {
		forceRefreshAfter = defaultForceRefreshAfter
	}
	if forceRefreshAfter < refreshAfter {
		forceRefreshAfter = refreshAfter
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := make(map[content.Kind]content.Record, len(cfg.Defaults))
	for kind, record := range cfg.Defaults {
		defaults[kind] = record.Clone()
	}
	return &Store{
		kv:                cfg.KV,
		resolver:          cfg.Resolver,
		dispatcher:        cfg.Dispatcher,
		defaults:          defaults,
		refreshAfter:      refreshAfter,
		forceRefreshAfter: forceRefreshAfter,
		clock:             clock,
		logger:            logger,
		sequences:         make(map[string]uint64),
	}, nil
}

// Load returns the canonical record for id. A cached copy is served immediately,
// and a background refresh is scheduled once it is older than the force-refresh tier.
// Without a cached copy the remote record is fetched synchronously.
func (s *Store) Load(ctx context.Context, kind content.Kind, id content.ResourceID, params map[string]string) (content.CanonicalRecord, error) {
	cached, found, err := s.cachedRecord(ctx, kind, id)
	if err != nil {
		s.logError(opLoad, "cache_read_failed", err, kind, id)
		return content.CanonicalRecord{}, newStoreError(opLoad, "cache_read_failed", err)
	}
	if !found {
		record, err := s.Refresh(ctx, kind, id, params)
		if errors.Is(err, content.ErrSupersededResponse) {
			if record, ok, _ := s.Cached(ctx, kind, id); ok {
				return record, nil
			}
		}
		return record, err
	}

	record, err := s.compose(ctx, kind, id, cached)
	if err != nil {
		return content.CanonicalRecord{}, err
	}
	if s.clock().Sub(cached.CapturedAt) > s.forceRefreshAfter {
		s.scheduleRefresh(ctx, kind, id, params)
	}
	return record, nil
}

// Revalidate schedules a background refresh when the cached copy is older than the
// opportunistic tier or missing. It reports whether a refresh was scheduled.
func (s *Store) Revalidate(ctx context.Context, kind content.Kind, id content.ResourceID, params map[string]string) bool {
	cached, found, err := s.cachedRecord(ctx, kind, id)
	if err != nil {
		s.logError(opLoad, "cache_read_failed", err, kind, id)
	}
	if found && s.clock().Sub(cached.CapturedAt) <= s.refreshAfter {
		return false
	}
	s.scheduleRefresh(ctx, kind, id, params)
	return true
}

// Cached returns the canonical record built from the cache and the local edit only.
func (s *Store) Cached(ctx context.Context, kind content.Kind, id content.ResourceID) (content.CanonicalRecord, bool, error) {
	cached, found, err := s.cachedRecord(ctx, kind, id)
	if err != nil || !found {
		return content.CanonicalRecord{}, false, err
	}
	record, err := s.compose(ctx, kind, id, cached)
	return record, err == nil, err
}

// Refresh fetches the remote copy, merges it with the cache and writes the merge back.
// A response overtaken by a newer fetch for the same id is discarded.
func (s *Store) Refresh(ctx context.Context, kind content.Kind, id content.ResourceID, params map[string]string) (content.CanonicalRecord, error) {
	key := sequenceKey(kind, id)
	sequence := s.issueSequence(key)

	resolution, err := s.resolver.Resolve(ctx, kind, id, params)
	if !s.isLatest(key, sequence) {
		s.logger.Debug("discarding superseded response",
			zap.String("kind", kind.String()),
			zap.String("resource_id", id.String()),
			zap.Uint64("sequence", sequence))
		return content.CanonicalRecord{}, content.ErrSupersededResponse
	}
	if err != nil {
		return content.CanonicalRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sequences[key] != sequence {
		return content.CanonicalRecord{}, content.ErrSupersededResponse
	}

	entries, err := s.readCollection(ctx, kind)
	if err != nil {
		s.logError(opRefresh, "cache_read_failed", err, kind, id)
		return content.CanonicalRecord{}, newStoreError(opRefresh, "cache_read_failed", err)
	}
	var cachedFields content.Record
	if previous, ok := entries[id.String()]; ok {
		cachedFields = previous.Fields
	}
	server := Reconcile(id, Layers{
		Remote:   resolution.Record,
		Cached:   cachedFields,
		Defaults: s.defaults[kind],
	})
	capturedAt := s.clock().UTC()
	entries[id.String()] = CachedRecord{Fields: server.Fields, CapturedAt: capturedAt}
	if err := s.writeCollection(ctx, kind, entries); err != nil {
		s.logError(opRefresh, "cache_write_failed", err, kind, id)
		return content.CanonicalRecord{}, newStoreError(opRefresh, "cache_write_failed", err)
	}

	edit, _, err := s.localEdit(ctx, id)
	if err != nil {
		s.logError(opRefresh, "edit_read_failed", err, kind, id)
	}
	record := Reconcile(id, Layers{
		Remote:   resolution.Record,
		Cached:   cachedFields,
		Local:    edit.Fields,
		Defaults: s.defaults[kind],
	})
	record.Kind = kind
	record.CapturedAt = capturedAt
	return record, nil
}

// Wait blocks until every scheduled background refresh has finished.
func (s *Store) Wait() {
	s.pending.Wait()
}

// SaveEdit stores fields as the local edit for id, superseding any earlier edit.
// Nil values are dropped.
func (s *Store) SaveEdit(ctx context.Context, id content.ResourceID, fields content.Record) (LocalEdit, error) {
	stripped := StripNulls(fields)
	delete(stripped, content.FieldID)
	if len(stripped) == 0 {
		return LocalEdit{}, newStoreError(opSaveEdit, "empty_edit", errEmptyEdit)
	}
	edit := LocalEdit{Fields: stripped, EditedAt: s.clock().UTC()}
	encoded, err := json.Marshal(edit)
	if err != nil {
		return LocalEdit{}, newStoreError(opSaveEdit, "encode_failed", err)
	}
	if err := s.kv.Set(ctx, kvstore.EditKey(id.String()), string(encoded)); err != nil {
		s.logError(opSaveEdit, "edit_write_failed", err, "", id)
		return LocalEdit{}, newStoreError(opSaveEdit, "edit_write_failed", err)
	}
	return edit, nil
}

// LocalEdit returns the stored edit for id.
func (s *Store) LocalEdit(ctx context.Context, id content.ResourceID) (LocalEdit, bool, error) {
	return s.localEdit(ctx, id)
}

// DiscardEdit destroys the local edit for id.
func (s *Store) DiscardEdit(ctx context.Context, id content.ResourceID) error {
	if err := s.kv.Remove(ctx, kvstore.EditKey(id.String())); err != nil {
		s.logError(opDiscardEdit, "edit_remove_failed", err, "", id)
		return newStoreError(opDiscardEdit, "edit_remove_failed", err)
	}
	return nil
}

// PatchCached overwrites fields of the cached copy of id with values the server has
// confirmed outside a fetch, such as a mutation's counter. Fetches already in flight
// for id are superseded. Without a cached copy PatchCached reports false.
func (s *Store) PatchCached(ctx context.Context, kind content.Kind, id content.ResourceID, fields content.Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readCollection(ctx, kind)
	if err != nil {
		s.logError(opPatchCached, "cache_read_failed", err, kind, id)
		return false, newStoreError(opPatchCached, "cache_read_failed", err)
	}
	cached, ok := entries[id.String()]
	if !ok {
		return false, nil
	}
	patched := cached.Fields.Clone()
	if patched == nil {
		patched = make(content.Record, len(fields))
	}
	for name, value := range StripNulls(fields) {
		if name != content.FieldID {
			patched[name] = value
		}
	}
	entries[id.String()] = CachedRecord{Fields: patched, CapturedAt: cached.CapturedAt}
	if err := s.writeCollection(ctx, kind, entries); err != nil {
		s.logError(opPatchCached, "cache_write_failed", err, kind, id)
		return false, newStoreError(opPatchCached, "cache_write_failed", err)
	}
	s.sequences[sequenceKey(kind, id)]++
	return true, nil
}

func (s *Store) compose(ctx context.Context, kind content.Kind, id content.ResourceID, cached CachedRecord) (content.CanonicalRecord, error) {
	edit, _, err := s.localEdit(ctx, id)
	if err != nil {
		s.logError(opLoad, "edit_read_failed", err, kind, id)
		return content.CanonicalRecord{}, newStoreError(opLoad, "edit_read_failed", err)
	}
	record := Reconcile(id, Layers{
		Cached:   cached.Fields,
		Local:    edit.Fields,
		Defaults: s.defaults[kind],
	})
	record.Kind = kind
	record.CapturedAt = cached.CapturedAt
	record.Stale = s.clock().Sub(cached.CapturedAt) > s.refreshAfter
	return record, nil
}

func (s *Store) scheduleRefresh(ctx context.Context, kind content.Kind, id content.ResourceID, params map[string]string) {
	background := context.WithoutCancel(ctx)
	key := sequenceKey(kind, id)
	s.pending.Add(1)
	results := s.refreshes.DoChan(key, func() (any, error) {
		record, err := s.Refresh(background, kind, id, params)
		if err != nil {
			s.logger.Warn("background refresh failed; serving cached copy",
				zap.String("kind", kind.String()),
				zap.String("resource_id", id.String()),
				zap.Error(err))
			return nil, err
		}
		s.dispatcher.Publish(events.Event{
			Topic:      events.TopicRecordRefreshed,
			ResourceID: id.String(),
			Payload:    record,
		})
		return record, nil
	})
	go func() {
		defer s.pending.Done()
		<-results
	}()
}

func (s *Store) issueSequence(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequences[key]++
	return s.sequences[key]
}

func (s *Store) isLatest(key string, sequence uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sequences[key] == sequence
}

func (s *Store) cachedRecord(ctx context.Context, kind content.Kind, id content.ResourceID) (CachedRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.readCollection(ctx, kind)
	if err != nil {
		return CachedRecord{}, false, err
	}
	cached, ok := entries[id.String()]
	return cached, ok, nil
}

// readCollection decodes the cache blob of kind. Callers hold s.mu.
func (s *Store) readCollection(ctx context.Context, kind content.Kind) (map[string]CachedRecord, error) {
	raw, ok, err := s.kv.Get(ctx, kvstore.CacheKey(kind.String()))
	if err != nil {
		return nil, err
	}
	entries := make(map[string]CachedRecord)
	if !ok || raw == "" {
		return entries, nil
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("decode cache collection %s: %w", kind, err)
	}
	return entries, nil
}

// writeCollection encodes and stores the cache blob of kind. Callers hold s.mu.
func (s *Store) writeCollection(ctx context.Context, kind content.Kind, entries map[string]CachedRecord) error {
	encoded, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, kvstore.CacheKey(kind.String()), string(encoded))
}

func (s *Store) localEdit(ctx context.Context, id content.ResourceID) (LocalEdit, bool, error) {
	raw, ok, err := s.kv.Get(ctx, kvstore.EditKey(id.String()))
	if err != nil || !ok {
		return LocalEdit{}, false, err
	}
	var edit LocalEdit
	if err := json.Unmarshal([]byte(raw), &edit); err != nil {
		return LocalEdit{}, false, fmt.Errorf("decode local edit %s: %w", id, err)
	}
	return edit, true, nil
}

func (s *Store) logError(operation, reason string, err error, kind content.Kind, id content.ResourceID) {
	if s.logger == nil || err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("resource_id", id.String()),
		zap.Error(err),
	}
	if kind != "" {
		fields = append(fields, zap.String("kind", kind.String()))
	}
	s.logger.Error("reconcile store failure", fields...)
}

func sequenceKey(kind content.Kind, id content.ResourceID) string {
	return kind.String() + "/" + id.String()
}
