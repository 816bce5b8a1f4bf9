package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// ValidationError reports malformed or out-of-range input. Nothing is written when it is returned.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s (%s)", e.Message, strings.Join(parts, "; "))
}

// NewFieldError builds a ValidationError for a single field
func NewFieldError(field, msg string) *ValidationError {
	return &ValidationError{
		Message: "validation failed",
		Fields:  map[string]string{field: msg},
	}
}

// NotFoundError reports a lookup that matched nothing
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports a write against a stale version of a record
type ConflictError struct {
	Resource        string
	ID              string
	ExpectedVersion int
	CurrentVersion  int
}

func (e *ConflictError) Error() string {
	if e.CurrentVersion > 0 {
		return fmt.Sprintf("%s %s was modified concurrently (expected version %d, current %d)",
			e.Resource, e.ID, e.ExpectedVersion, e.CurrentVersion)
	}
	return fmt.Sprintf("%s %s was modified concurrently", e.Resource, e.ID)
}

// PersistenceError wraps a storage failure
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// wrapDBError converts a gorm error into the service taxonomy
func wrapDBError(op, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return &PersistenceError{Op: op, Err: err}
}
