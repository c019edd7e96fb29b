// Package endpoint discovers which of several candidate backend endpoints serves a request.
package endpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
)

var (
	// ErrCandidatesExhausted indicates that every candidate failed.
	ErrCandidatesExhausted = errors.New("endpoint: all candidates exhausted")
	// ErrNoCandidates indicates an empty candidate list.
	ErrNoCandidates = errors.New("endpoint: no candidates configured")
)

// Probe runs try against attempts strictly in order and returns the first success
// together with its index. Candidate failures are reported to onFailure and swallowed.
// An expired session or a finished context stops the sequence immediately.
func Probe[A any, T any](
	ctx context.Context,
	attempts []A,
	try func(ctx context.Context, attempt A) (T, error),
	onFailure func(index int, attempt A, err error),
) (T, int, error) {
	var zero T
	if len(attempts) == 0 {
		return zero, -1, ErrNoCandidates
	}
	failures := make([]error, 0, len(attempts))
	for index, attempt := range attempts {
		if err := ctx.Err(); err != nil {
			return zero, index, err
		}
		result, err := try(ctx, attempt)
		if err == nil {
			return result, index, nil
		}
		if isFatal(ctx, err) {
			return zero, index, err
		}
		if onFailure != nil {
			onFailure(index, attempt, err)
		}
		failures = append(failures, err)
	}
	return zero, len(attempts) - 1, fmt.Errorf("%w: %w", ErrCandidatesExhausted, errors.Join(failures...))
}

func isFatal(ctx context.Context, err error) bool {
	if errors.Is(err, content.ErrAuthExpired) {
		return true
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return true
	}
	return false
}
