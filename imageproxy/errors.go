package imageproxy

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Validation failures happen before any network or disk access and map
// to client errors at the HTTP boundary. Everything else is a server
// error, except upstream statuses which pass through unchanged.
var (
	// ErrMissingParam covers an absent or unparsable request parameter.
	ErrMissingParam = errors.New("missing or invalid parameter")

	// ErrDisallowedHost covers a source URL whose host is not covered by
	// the origin allowlist.
	ErrDisallowedHost = errors.New("host not allowed")

	// ErrUpstreamUnreachable covers timeouts and connection failures to
	// the origin. Transient, so logged at reduced severity.
	ErrUpstreamUnreachable = errors.New("upstream unreachable")

	// ErrTransform covers decode, resize or re-encode failures.
	ErrTransform = errors.New("image transform failed")
)

// UpstreamError carries a non-success status code from the origin so
// the boundary can pass it through.
type UpstreamError struct {
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.StatusCode)
}
