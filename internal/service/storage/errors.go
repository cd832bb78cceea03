package storage

import (
	"errors"
	"fmt"
	"strings"
)

// StorageError wraps failures of the local mirror file.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// CorruptRecordsError lists mirror records that could not be decoded.
type CorruptRecordsError struct {
	Keys []string
	Errs []error
}

func (e *CorruptRecordsError) Error() string {
	return fmt.Sprintf("storage error: %d corrupt records: %s", len(e.Keys), strings.Join(e.Keys, ", "))
}

func (e *CorruptRecordsError) Unwrap() error {
	return errors.Join(e.Errs...)
}
