package jsonfile

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrorKind classifies document store failures.
type ErrorKind int

const (
	// KindIO covers missing files, permissions and failed writes.
	KindIO ErrorKind = iota + 1
	// KindParse covers documents that are not valid JSON or do not fit the
	// target type.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is returned by every Store operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotExist reports whether err means the document was never written.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// IsParse reports whether err is a decode/validation failure.
func IsParse(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindParse
}

// LoadStatus says how a manager obtained its in-memory state.
type LoadStatus int

const (
	// Loaded: the document was read as-is.
	Loaded LoadStatus = iota
	// Initialized: no document existed, defaults were created.
	Initialized
	// Recovered: the document was unreadable or corrupt, defaults were
	// created in its place.
	Recovered
)

func (s LoadStatus) String() string {
	switch s {
	case Loaded:
		return "loaded"
	case Initialized:
		return "initialized"
	case Recovered:
		return "recovered"
	default:
		return "unknown"
	}
}

// LoadResult is returned by the managers' Load methods so callers can tell a
// normal first run from silent data loss.
type LoadResult struct {
	Status LoadStatus
	// Cause is the store error behind a Recovered load, or a failure to
	// persist freshly initialized defaults.
	Cause error
	// SetAside is where a rejected document was copied, if anywhere.
	SetAside string
}
