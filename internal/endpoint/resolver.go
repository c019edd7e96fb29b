package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/payload"
	"go.uber.org/zap"
)

var (
	errMissingTransport = errors.New("endpoint: transport required")
	errNoMatchInListing = errors.New("endpoint: listing has no matching record")
	errNoIdentity       = errors.New("endpoint: record has neither identifier nor title")
	errIdentifierDiffer = errors.New("endpoint: record identifier differs from request")
)

// Fetcher issues one backend call.
type Fetcher interface {
	Do(ctx context.Context, request Request) (Response, error)
}

// Catalog maps a resource kind to its ordered candidate path templates,
// most specific first and broad listing scans last.
type Catalog map[content.Kind][]string

// ResolverConfig describes the resolver's collaborators.
type ResolverConfig struct {
	Transport Fetcher
	Catalog   Catalog
	Logger    *zap.Logger
}

// Resolver finds the first candidate endpoint that yields a valid record.
type Resolver struct {
	transport Fetcher
	catalog   Catalog
	logger    *zap.Logger
}

// Resolution is an accepted record and the endpoint that served it.
type Resolution struct {
	Record   content.Record
	Endpoint string
	Shape    payload.Shape
	Attempt  int
}

// NewResolver validates cfg.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	catalog := make(Catalog, len(cfg.Catalog))
	for kind, templates := range cfg.Catalog {
		catalog[kind] = append([]string(nil), templates...)
	}
	return &Resolver{transport: cfg.Transport, catalog: catalog, logger: logger}, nil
}

// Candidates returns the configured templates for kind.
func (r *Resolver) Candidates(kind content.Kind) []string {
	return append([]string(nil), r.catalog[kind]...)
}

// Resolve probes the candidates for kind in order. Exhaustion is reported as content.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, kind content.Kind, id content.ResourceID, params map[string]string) (Resolution, error) {
	values := make(map[string]string, len(params)+1)
	for key, value := range params {
		values[key] = value
	}
	values[PlaceholderID] = id.String()

	try := func(ctx context.Context, template string) (Resolution, error) {
		return r.probeCandidate(ctx, id, template, values)
	}
	onFailure := func(index int, template string, err error) {
		r.logger.Debug("candidate endpoint rejected",
			zap.String("kind", kind.String()),
			zap.String("resource_id", id.String()),
			zap.String("candidate", template),
			zap.Int("attempt", index),
			zap.Error(err))
	}

	resolution, index, err := Probe(ctx, r.catalog[kind], try, onFailure)
	if err != nil {
		if errors.Is(err, ErrCandidatesExhausted) || errors.Is(err, ErrNoCandidates) {
			r.logger.Warn("resource not found on any candidate",
				zap.String("kind", kind.String()),
				zap.String("resource_id", id.String()),
				zap.Int("candidates", len(r.catalog[kind])))
			return Resolution{}, fmt.Errorf("%w: %s %s: %w", content.ErrNotFound, kind, id, err)
		}
		return Resolution{}, err
	}
	resolution.Attempt = index
	return resolution, nil
}

func (r *Resolver) probeCandidate(ctx context.Context, id content.ResourceID, template string, values map[string]string) (Resolution, error) {
	path, err := ExpandPath(template, values)
	if err != nil {
		return Resolution{}, err
	}
	response, err := r.transport.Do(ctx, Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return Resolution{}, err
	}
	envelope, err := payload.Normalize(response.Body)
	if err != nil {
		return Resolution{}, err
	}

	if envelope.List {
		record, ok := envelope.Select(func(candidate content.Record) bool {
			return candidate.MatchesID(id)
		})
		if !ok {
			return Resolution{}, fmt.Errorf("%w: %d records scanned", errNoMatchInListing, len(envelope.Records))
		}
		return Resolution{Record: record, Endpoint: path, Shape: envelope.Shape}, nil
	}

	record, _ := envelope.Single()
	if !record.HasIdentity() {
		return Resolution{}, fmt.Errorf("%w: %w", content.ErrMalformedPayload, errNoIdentity)
	}
	if _, hasID := record.ID(); hasID && !record.MatchesID(id) {
		return Resolution{}, errIdentifierDiffer
	}
	return Resolution{Record: record, Endpoint: path, Shape: envelope.Shape}, nil
}
