package codec

import (
	"errors"
	"fmt"
)

// LoadErrorKind classifies why a persisted store was rejected.
type LoadErrorKind string

const (
	// KindMissing indicates the store file does not exist.
	KindMissing LoadErrorKind = "missing"
	// KindHeader indicates the file does not start with the expected magic.
	KindHeader LoadErrorKind = "bad_header"
	// KindVersion indicates the version field differs from the supported version.
	KindVersion LoadErrorKind = "bad_version"
	// KindSection indicates an unexpected section tag.
	KindSection LoadErrorKind = "bad_section"
	// KindValue indicates an unknown enumerant inside a record.
	KindValue LoadErrorKind = "bad_value"
	// KindTruncated indicates the file ended inside a section.
	KindTruncated LoadErrorKind = "truncated"
	// KindTrailing indicates bytes remain after the last section.
	KindTrailing LoadErrorKind = "trailing_bytes"
	// KindGeneration indicates file ids issued by a different registry generation.
	KindGeneration LoadErrorKind = "wrong_generation"
	// KindCorrupt indicates records that contradict each other, such as duplicate ids.
	KindCorrupt LoadErrorKind = "corrupt"
)

// ErrLoad is wrapped by every LoadError.
var ErrLoad = errors.New("load failed")

// LoadError reports a persisted store that could not be read. Load errors
// are recoverable: callers continue with an empty store.
type LoadError struct {
	Kind  LoadErrorKind
	Store string
	Err   error
}

// Error returns the store name, kind and detail.
func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Store, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrLoad) match any LoadError.
func (e *LoadError) Is(target error) bool {
	return target == ErrLoad
}

// KindOf returns the LoadErrorKind in err's chain, or "" if none.
func KindOf(err error) LoadErrorKind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

func loadErr(store string, kind LoadErrorKind, format string, args ...any) *LoadError {
	return &LoadError{Kind: kind, Store: store, Err: fmt.Errorf(format, args...)}
}
