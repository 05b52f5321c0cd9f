package declare

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput marks a bad top-level path argument. Batch-fatal.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnreadableFile marks a file that vanished or could not be read
	// after enumeration. Per-file, never batch-fatal.
	ErrUnreadableFile = errors.New("unreadable file")

	// ErrSidecarMissing marks a file whose required metadata sidecar was
	// not found. Per-file, never batch-fatal.
	ErrSidecarMissing = errors.New("metadata sidecar not found")
)

// PathError wraps a per-path failure with its kind.
type PathError struct {
	Kind error
	Path string
	Msg  string
}

func (e *PathError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Path)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind.Error(), e.Path, e.Msg)
}

func (e *PathError) Unwrap() error { return e.Kind }

func invalidInputf(path, format string, args ...any) error {
	return &PathError{Kind: ErrInvalidInput, Path: path, Msg: fmt.Sprintf(format, args...)}
}

func unreadablef(path, format string, args ...any) error {
	return &PathError{Kind: ErrUnreadableFile, Path: path, Msg: fmt.Sprintf(format, args...)}
}
