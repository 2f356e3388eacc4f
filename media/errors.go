package media

import "errors"

var (
	// ErrMalformedURL indicates a url lacks the path segment a resolver needs.
	// Retrying won't help.
	ErrMalformedURL = errors.New("malformed url")

	// ErrProviderUnavailable indicates a network failure or non-success http
	// status from a provider api. A later run may succeed.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrProviderError indicates a provider responded with something other
	// than the expected schema.
	ErrProviderError = errors.New("unexpected provider response")
)

// ErrorKind returns a short label for the class of err, suitable for logs and
// metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMalformedURL):
		return "malformed_url"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrProviderError):
		return "provider_error"
	default:
		return "other"
	}
}
