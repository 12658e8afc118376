package store

import "fmt"

// Kind classifies a StoreError so callers can decide whether to retry.
type Kind string

const (
	KindNotFound  Kind = "notFound"
	KindConflict  Kind = "conflict"
	KindTransient Kind = "transient"
	KindFatal     Kind = "fatal"
)

// StoreError is returned by every Task Store operation per SPEC_FULL §2.C /
// spec.md §4.A's failure semantics.
type StoreError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("store: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("store: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func newErr(op string, kind Kind, err error) *StoreError {
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// IsNotFound reports whether err is a StoreError of KindNotFound.
func IsNotFound(err error) bool {
	se, ok := err.(*StoreError)
	return ok && se.Kind == KindNotFound
}

// IsTransient reports whether err is a StoreError of KindTransient.
func IsTransient(err error) bool {
	se, ok := err.(*StoreError)
	return ok && se.Kind == KindTransient
}
