// Package cerrors defines the error-kind taxonomy shared across
// Cortex components: sentinel errors plus a Kind wrapper callers can
// test with IsKind.
package cerrors

import "errors"

// Kind classifies an error into one of Cortex's failure categories.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigMissing
	KindConfigInvalid
	KindStorageReadFailed
	KindStorageWriteFailed
	KindLockTimeout
	KindLockStaleDetected
	KindAdapterUnavailable
	KindAdapterTimeout
	KindAdapterError
	KindEncryptionError
	KindCorruptedLine
)

func (k Kind) String() string {
	switch k {
	case KindConfigMissing:
		return "config_missing"
	case KindConfigInvalid:
		return "config_invalid"
	case KindStorageReadFailed:
		return "storage_read_failed"
	case KindStorageWriteFailed:
		return "storage_write_failed"
	case KindLockTimeout:
		return "lock_timeout"
	case KindLockStaleDetected:
		return "lock_stale_detected"
	case KindAdapterUnavailable:
		return "adapter_unavailable"
	case KindAdapterTimeout:
		return "adapter_timeout"
	case KindAdapterError:
		return "adapter_error"
	case KindEncryptionError:
		return "encryption_error"
	case KindCorruptedLine:
		return "corrupted_line"
	default:
		return "unknown"
	}
}

// kindError pairs an error with its taxonomy kind. Wrapping preserves
// the original error for %w chains while attaching a stable kind other
// packages can switch on without string matching.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.kind.String() + ": " + e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// New wraps err with kind; it returns nil when err is nil.
func New(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// IsKind reports whether err (or anything it wraps) carries kind.
func IsKind(err error, kind Kind) bool {
	var ke *kindError
	for err != nil {
		if errors.As(err, &ke) {
			if ke.kind == kind {
				return true
			}
			err = ke.err
			continue
		}
		break
	}
	return false
}

// Sentinel errors for conditions callers commonly compare with errors.Is.
var (
	ErrLockBusy        = errors.New("cerrors: lock held by another process")
	ErrLockStale       = errors.New("cerrors: lock stale, owner process is dead")
	ErrAdapterDisabled = errors.New("cerrors: adapter disabled")
	ErrBudgetExhausted = errors.New("cerrors: token budget exhausted")
	ErrNotFound        = errors.New("cerrors: record not found")
	ErrReadOnly        = errors.New("cerrors: adapter is read-only")
)
