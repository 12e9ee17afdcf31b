// Package errs defines the sentinel error kinds shared across the indexing
// pipeline, wrapped with path/file context at each call site.
package errs

import "errors"

var (
	// ErrInputNotFound indicates the requested root directory does not exist.
	ErrInputNotFound = errors.New("input root not found")

	// ErrIgnoreParse indicates a malformed .gitignore; callers treat this as
	// a no-op filter rather than failing the build.
	ErrIgnoreParse = errors.New("gitignore parse failure")

	// ErrExtractorFailure indicates a single file failed to parse or read;
	// the file is excluded from the current build.
	ErrExtractorFailure = errors.New("extractor failure")

	// ErrEncoderMemory indicates the encoder endpoint reported an
	// out-of-memory-shaped failure; retried with a halved batch and, on
	// persistent failure, a CPU-tagged endpoint before becoming fatal.
	ErrEncoderMemory = errors.New("encoder out of memory")

	// ErrPersistenceCorrupt indicates persisted meta.json failed to load; the
	// builder then discards the persisted state and rebuilds the target.
	ErrPersistenceCorrupt = errors.New("persisted artifact corrupt")

	// ErrModelMismatch indicates the persisted model configuration differs
	// from the current process's, forcing a full rebuild.
	ErrModelMismatch = errors.New("model configuration mismatch")

	// ErrNoIndex indicates a search was requested before any index exists
	// for the target; callers return an empty result, not an error.
	ErrNoIndex = errors.New("no index for target")
)
