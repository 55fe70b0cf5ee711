package knowledge

import "fmt"

// The store surfaces three error classes. Callers branch with [errors.As]:
//
//   - ValidationError: the input was rejected before any I/O; fully
//     recoverable by fixing the call.
//   - EmbeddingError: the embedding backend was unavailable or failed after
//     its retry policy; the current call is lost but no partial state was
//     committed.
//   - PersistenceError: disk failure or a corrupt snapshot; a dimension or
//     count mismatch on load is always reported this way, never silently
//     truncated.

// ValidationError reports malformed input rejected before any work started.
type ValidationError struct {
	// Msg describes what was wrong with the input.
	Msg string
}

func (e *ValidationError) Error() string {
	return "knowledge: invalid input: " + e.Msg
}

// EmbeddingError reports a failure of the embedding backend.
type EmbeddingError struct {
	// Backend names the provider that failed ("openai", "ollama", "none").
	Backend string
	// Err is the underlying cause.
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("knowledge: embedding backend %s: %v", e.Backend, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// PersistenceError reports a failed or corrupt on-disk snapshot.
type PersistenceError struct {
	// Op is the operation that failed ("save", "load").
	Op string
	// Path is the store directory or file involved.
	Path string
	// Err is the underlying cause.
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("knowledge: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
