package types

import (
	"errors"
	"fmt"
)

// MsgNoDataToExport is returned when an export matches zero records
const MsgNoDataToExport = "no data to export"

// ValidationError is a local rejection raised before any network call
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for field
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// QueryError is a transport or server failure of a Query Service call
type QueryError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *QueryError) Error() string {
	return e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ExportError is raised when an export produces no file
type ExportError struct {
	Message string
	Err     error
}

func (e *ExportError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// DisplayMessage converts any operation error to the string shown to the user
func DisplayMessage(err error) string {
	if err == nil {
		return ""
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Error()
	}
	var exportErr *ExportError
	if errors.As(err, &exportErr) {
		return exportErr.Error()
	}
	var queryErr *QueryError
	if errors.As(err, &queryErr) {
		return queryErr.Message
	}
	return err.Error()
}
