package memory

import (
	"errors"
)

// Error kinds returned by the memory system. Test with errors.Is.
var (
	// ErrNotFound means an operation referenced a record id that does not exist.
	ErrNotFound = errors.New("memory record not found")

	// ErrServiceUnavailable means the embedding or completion service failed
	// or timed out.
	ErrServiceUnavailable = errors.New("memory service unavailable")

	// ErrStorage means the underlying vector index failed.
	ErrStorage = errors.New("memory storage error")

	// ErrValidation means the input was rejected before reaching storage.
	ErrValidation = errors.New("memory validation error")
)

// kindError tags a detailed error with one of the kinds above.
type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string   { return e.err.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

// classify marks err as belonging to kind. Errors that already carry
// ErrNotFound keep that classification.
func classify(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &kindError{kind: kind, err: err}
}

// Unavailable marks err as a service failure. Embedder and Summarizer
// implementations may use it so callers can tell outages from bad input.
func Unavailable(err error) error {
	return classify(ErrServiceUnavailable, err)
}
