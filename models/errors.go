package models

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/consolidation_backend/utils"
)

// Sentinel errors matched with errors.Is.
var (
	// ErrNotFound is shared with utils so callers of either package can test for it.
	ErrNotFound = utils.ErrorRecordNotFound

	ErrValidation      = errors.New("validation failed")
	ErrInvalidFilter   = errors.New("invalid filter")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")
	ErrConfiguration   = errors.New("configuration error")
	ErrStorage         = errors.New("storage error")

	// ErrStoreUnreachable marks storage failures that will not recover within a batch run.
	ErrStoreUnreachable = errors.New("store unreachable")
)

// NotFoundError represents a missing branch, product, document, relation, state or record.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ValidationError is returned before any mutation is attempted.
// Kind narrows the failure to ErrInvalidFilter or ErrInvalidArgument when set.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Kind    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return e.Kind != nil && target == e.Kind
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

func NewInvalidFilterError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message, Kind: ErrInvalidFilter}
}

func NewInvalidArgumentError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message, Kind: ErrInvalidArgument}
}

// ConfigurationError aborts a batch run before any record is touched.
type ConfigurationError struct {
	Component string
	Message   string
}

func (e *ConfigurationError) Error() string {
	if e.Component != "" {
		return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Message)
	}
	return fmt.Sprintf("configuration error: %s", e.Message)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

func NewConfigurationError(component, message string) *ConfigurationError {
	return &ConfigurationError{Component: component, Message: message}
}

// ConflictError reports an existing row for a unique key.
// ExistingID is zero when the conflicting row id is unknown.
type ConflictError struct {
	Resource   string
	Key        string
	ExistingID int
}

func (e *ConflictError) Error() string {
	if e.ExistingID > 0 {
		return fmt.Sprintf("%s %s already exists (id=%d)", e.Resource, e.Key, e.ExistingID)
	}
	return fmt.Sprintf("%s %s already exists", e.Resource, e.Key)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StorageError wraps a store failure. Unreachable is set for connectivity failures.
type StorageError struct {
	Op          string
	Err         error
	Unreachable bool
}

func (e *StorageError) Error() string {
	if e.Unreachable {
		return fmt.Sprintf("storage unreachable during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	if target == ErrStorage {
		return true
	}
	return e.Unreachable && target == ErrStoreUnreachable
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

func IsUnreachable(err error) bool {
	return errors.Is(err, ErrStoreUnreachable)
}
