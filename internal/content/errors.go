package content

import "errors"

var (
	// ErrInvalidResourceID indicates an identifier that is empty, too long or of an unsupported type.
	ErrInvalidResourceID = errors.New("content: invalid resource id")
	// ErrInvalidKind indicates an empty resource kind.
	ErrInvalidKind = errors.New("content: invalid resource kind")

	// ErrTransientNetwork marks a network-level failure that may succeed on retry.
	ErrTransientNetwork = errors.New("content: transient network error")
	// ErrNotFound marks exhaustion of every candidate endpoint.
	ErrNotFound = errors.New("content: resource not found")
	// ErrAuthExpired marks a missing, expired or server-rejected session credential.
	ErrAuthExpired = errors.New("content: session expired")
	// ErrMalformedPayload marks a response body with no recognizable envelope.
	ErrMalformedPayload = errors.New("content: malformed payload")
	// ErrMutationConflict marks an optimistic mutation that was rolled back.
	ErrMutationConflict = errors.New("content: mutation rolled back")
	// ErrSupersededResponse marks a response that arrived after a newer request for the same id.
	ErrSupersededResponse = errors.New("content: superseded response")
)
