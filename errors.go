package skibbadb

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports that a document was rejected by a collection's
// validator, or that a foreign-key-declared field has no matching parent row.
type ValidationError struct {
	Collection string
	Messages   []string

	// Set when the failure is a foreign-key rejection rather than a schema
	// validation failure.
	RefTable string
	RefField string
}

func (e *ValidationError) Error() string {
	if e.RefTable != "" {
		return fmt.Sprintf("skibbadb: validation failed on %q: no row in %s.%s", e.Collection, e.RefTable, e.RefField)
	}
	return fmt.Sprintf("skibbadb: validation failed on %q: %v", e.Collection, e.Messages)
}

// UniqueConstraintError reports that an insert or update would duplicate the
// value of one or more unique columns.
type UniqueConstraintError struct {
	Collection string
	Fields     []string
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("skibbadb: unique constraint violated on %q for field(s) %v", e.Collection, e.Fields)
}

// NotFoundError reports that Put targeted a document that does not exist.
// Delete of a missing id is not an error; it reports false instead.
type NotFoundError struct {
	Collection string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("skibbadb: document %q not found in %q", e.ID, e.Collection)
}

// DatabaseError wraps a driver or SQL failure that isn't otherwise classified.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("skibbadb: %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// wrapDBError mirrors the teacher's wrapDBError convention: nil passes
// through, everything else becomes a DatabaseError carrying the operation
// name that failed.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DatabaseError{Op: op, Err: err}
}

// PluginError reports that a plugin hook failed in strict mode.
type PluginError struct {
	PluginName string
	HookName   string
	Err        error
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("skibbadb: plugin %q failed in hook %q: %v", e.PluginName, e.HookName, e.Err)
}

func (e *PluginError) Unwrap() error { return e.Err }

// PluginTimeoutError reports that a plugin hook exceeded its configured timeout.
type PluginTimeoutError struct {
	PluginName string
	HookName   string
	Timeout    time.Duration
}

func (e *PluginTimeoutError) Error() string {
	return fmt.Sprintf("skibbadb: plugin %q timed out after %s in hook %q", e.PluginName, e.Timeout, e.HookName)
}

// As* helpers let callers classify an error without importing errors.As
// boilerplate at every call site.

func AsValidationError(err error) (*ValidationError, bool) {
	var v *ValidationError
	return v, errors.As(err, &v)
}

func AsUniqueConstraintError(err error) (*UniqueConstraintError, bool) {
	var v *UniqueConstraintError
	return v, errors.As(err, &v)
}

func AsNotFoundError(err error) (*NotFoundError, bool) {
	var v *NotFoundError
	return v, errors.As(err, &v)
}
