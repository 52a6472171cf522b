package storage

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record is absent from the expected folder.
// During concurrent processing it means another worker claimed the record
// first; callers skip the record.
var ErrNotFound = errors.New("record not found")

// ErrExists is returned when creating or moving a record would overwrite
// another record with the same ID.
var ErrExists = errors.New("record already exists")

// ValidationError reports a record that could not be parsed.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record %s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
