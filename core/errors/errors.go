// Package errors provides standardized error types and helpers for the Folio codebase.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrCorrupted indicates unreadable or malformed book content
	ErrCorrupted = errors.New("corrupted content")
	// ErrConfiguration indicates an invalid configuration value
	ErrConfiguration = errors.New("invalid configuration")
	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnexpected indicates an internal failure with no more specific cause
	ErrUnexpected = errors.New("unexpected error")
)

// ChapterNotFoundError reports a chapter index outside a book's spine.
type ChapterNotFoundError struct {
	Book  string // Book path or identifier
	Index int    // Requested chapter index
	Count int    // Number of chapters in the spine
}

func (e *ChapterNotFoundError) Error() string {
	return fmt.Sprintf("chapter %d not found in %s (book has %d chapters)", e.Index, e.Book, e.Count)
}

func (e *ChapterNotFoundError) Unwrap() error {
	return ErrNotFound
}

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "book", "image", "cover")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// CorruptedContentError reports an unreadable archive entry, malformed
// package document, or an image reference that cannot be resolved.
type CorruptedContentError struct {
	Book     string // Book path or identifier
	Resource string // Archive entry or resource path involved
	Message  string // Human-readable error message
	Err      error  // Underlying error, if any
}

func (e *CorruptedContentError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("corrupted content in %s at %s: %s", e.Book, e.Resource, e.Message)
	}
	return fmt.Sprintf("corrupted content in %s: %s", e.Book, e.Message)
}

func (e *CorruptedContentError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrCorrupted
}

// ConfigError represents an invalid capacity, budget, or setting value.
// Configuration errors are fatal: they are raised at construction time and
// never recovered from.
type ConfigError struct {
	Param   string // Parameter name that failed validation
	Value   string // Value that failed validation
	Message string // Human-readable error message
}

func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid configuration for %s (%s): %s", e.Param, e.Value, e.Message)
	}
	return fmt.Sprintf("invalid configuration for %s: %s", e.Param, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// IOError represents an I/O operation error with context
type IOError struct {
	Operation string // Operation being performed (e.g., "read", "write", "open")
	Path      string // File/resource path involved
	Err       error  // Underlying error
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("failed to %s %s: %v", e.Operation, e.Path, e.Err)
	}
	return fmt.Sprintf("failed to %s: %v", e.Operation, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Helper functions for creating common errors

// NewChapterNotFound creates a ChapterNotFoundError
func NewChapterNotFound(book string, index, count int) *ChapterNotFoundError {
	return &ChapterNotFoundError{
		Book:  book,
		Index: index,
		Count: count,
	}
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewCorrupted creates a CorruptedContentError
func NewCorrupted(book, resource, message string) *CorruptedContentError {
	return &CorruptedContentError{
		Book:     book,
		Resource: resource,
		Message:  message,
	}
}

// NewConfig creates a ConfigError
func NewConfig(param, value, message string) *ConfigError {
	return &ConfigError{
		Param:   param,
		Value:   value,
		Message: message,
	}
}

// NewIO creates an IOError
func NewIO(operation, path string, err error) *IOError {
	return &IOError{
		Operation: operation,
		Path:      path,
		Err:       err,
	}
}

// Classify maps an error to a short machine-classifiable title and a
// human-readable message suitable for an error callback or UI surface.
// Titles: "Chapter Not Found", "Corrupted Content", "Configuration Error",
// "Unexpected Error".
func Classify(err error) (title, message string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, ErrNotFound):
		return "Chapter Not Found", err.Error()
	case errors.Is(err, ErrCorrupted):
		return "Corrupted Content", err.Error()
	case errors.Is(err, ErrConfiguration):
		return "Configuration Error", err.Error()
	default:
		return "Unexpected Error", err.Error()
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
