package bridge

import (
	"errors"
	"fmt"
)

// Kind classifies bridge failures. The numeric values are part of the C
// surface (last_error_code_ios) and must not be renumbered.
type Kind int

const (
	KindNone Kind = iota
	KindNotInitialized
	KindFileNotFound
	KindMalformedModel
	KindOutOfMemory
	KindGenerationFailed
	KindInvalidHandle
	KindNoModel
	KindTooBusy
	KindDependencyUnavailable
	KindInvalidArgument
	KindClosed
)

var kindNames = [...]string{
	KindNone:                  "none",
	KindNotInitialized:        "not_initialized",
	KindFileNotFound:          "file_not_found",
	KindMalformedModel:        "malformed_model",
	KindOutOfMemory:           "out_of_memory",
	KindGenerationFailed:      "generation_failed",
	KindInvalidHandle:         "invalid_handle",
	KindNoModel:               "no_model",
	KindTooBusy:               "too_busy",
	KindDependencyUnavailable: "dependency_unavailable",
	KindInvalidArgument:       "invalid_argument",
	KindClosed:                "closed",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by every Bridge operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

func errorf(op string, kind Kind, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, KindNone for nil and KindGenerationFailed
// for errors that did not originate in the bridge.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindGenerationFailed
}

// IsNotInitialized reports whether err was caused by calling before Initialize.
func IsNotInitialized(err error) bool { return KindOf(err) == KindNotInitialized }

// IsFileNotFound reports whether the model path did not name a readable file.
func IsFileNotFound(err error) bool { return KindOf(err) == KindFileNotFound }

// IsMalformedModel reports whether the model file was rejected.
func IsMalformedModel(err error) bool { return KindOf(err) == KindMalformedModel }

// IsInvalidHandle reports whether a handle was unknown or already released.
func IsInvalidHandle(err error) bool { return KindOf(err) == KindInvalidHandle }

// IsTooBusy reports whether err indicates admission backpressure.
func IsTooBusy(err error) bool { return KindOf(err) == KindTooBusy }

// IsDependencyUnavailable reports whether the inference engine is missing.
func IsDependencyUnavailable(err error) bool { return KindOf(err) == KindDependencyUnavailable }

// IsClosed reports whether the bridge was cleaned up and not re-initialized.
func IsClosed(err error) bool { return KindOf(err) == KindClosed }
