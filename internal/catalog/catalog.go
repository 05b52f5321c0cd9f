// Package catalog abstracts the SAM file catalog behind a small capability
// interface so the declaration pipeline can be exercised without a live
// service.
package catalog

import (
	"context"
	"errors"
	"fmt"
)

// Metadata is a single file's declaration record as accepted by the catalog.
// Keys follow SAM conventions (file_name, file_size, checksum, ...).
type Metadata map[string]any

// FileID is the catalog-assigned identifier returned by a successful declare.
type FileID string

func (id FileID) String() string { return string(id) }

// Error kinds. Callers classify with errors.Is; the concrete *Error wrapper
// carries the operation and detail text.
var (
	// ErrDuplicate means the file is already declared. Not a hard failure.
	ErrDuplicate = errors.New("file already declared")

	// ErrInvalidMetadata means the catalog rejected the record. Never retried.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrTransient covers network and service hiccups. Safe to retry.
	ErrTransient = errors.New("transient catalog error")

	// ErrDefinitionNotFound means a named dataset definition does not exist.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrUnavailable means the catalog client cannot run at all
	// (e.g. the vendor binary is not installed).
	ErrUnavailable = errors.New("catalog unavailable")
)

// Error wraps a catalog failure with its kind and operation.
type Error struct {
	Kind error
	Op   string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.Error())
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind.Error(), e.Msg)
}

func (e *Error) Unwrap() error { return e.Kind }

func errf(kind error, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Catalog is the consumed surface of the SAM service.
//
// Declare is the only operation used by the declaration pipeline; the
// remaining operations exist for the snapshot/diff tooling that shares this
// client.
type Catalog interface {
	// Declare submits one metadata record and returns the catalog-assigned
	// file identifier. Redeclaring an existing file yields ErrDuplicate.
	Declare(ctx context.Context, md Metadata) (FileID, error)

	// ValidateMetadata checks a record without declaring it.
	ValidateMetadata(ctx context.Context, md Metadata) error

	// AddFileLocation registers a storage location for a declared file.
	AddFileLocation(ctx context.Context, fileName, location string) error

	// DescribeDefinition reports whether a dataset definition exists.
	DescribeDefinition(ctx context.Context, name string) (bool, error)

	// TakeSnapshot freezes a definition's file list and returns the snapshot id.
	TakeSnapshot(ctx context.Context, definition string) (int64, error)

	// CountFiles counts files matching a dimensions constraint.
	CountFiles(ctx context.Context, dims string) (int, error)

	// ListFiles lists file names matching a dimensions constraint, sorted.
	ListFiles(ctx context.Context, dims string) ([]string, error)

	// GetFileAccessURL resolves access URLs for a declared file under the
	// given schema (e.g. "file", "root").
	GetFileAccessURL(ctx context.Context, fileName, schema string) ([]string, error)
}
