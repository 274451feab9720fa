// ABOUTME: Error types and utilities for the riff pipeline runner
// ABOUTME: Defines custom error types for different failure scenarios

package types

import (
	"errors"
	"fmt"
	"strings"
)

// ParseError represents an error in parsing project or step manifests
type ParseError struct {
	File    string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	location := ""
	if e.File != "" {
		location = fmt.Sprintf(" in %s", e.File)
	}
	if e.Cause != nil {
		return fmt.Sprintf("parse error%s: %s: %v", location, e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error%s: %s", location, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a new parse error
func NewParseError(file, message string, cause error) *ParseError {
	return &ParseError{File: file, Message: message, Cause: cause}
}

// ValidationError represents an error in project or step validation
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error in field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ConfigError represents an error in the run configuration or its overrides
type ConfigError struct {
	Key     string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		if e.Cause != nil {
			return fmt.Sprintf("config error for key '%s': %s: %v", e.Key, e.Message, e.Cause)
		}
		return fmt.Sprintf("config error for key '%s': %s", e.Key, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new config error
func NewConfigError(key, message string, cause error) *ConfigError {
	return &ConfigError{Key: key, Message: message, Cause: cause}
}

// StepError represents an error that occurred while executing a step
type StepError struct {
	StepID     string
	EntryPoint string
	Message    string
	Cause      error
}

func (e *StepError) Error() string {
	step := e.StepID
	if e.EntryPoint != "" {
		step = fmt.Sprintf("%s (%s)", step, e.EntryPoint)
	}
	if e.Cause != nil {
		return fmt.Sprintf("step '%s': %s: %v", step, e.Message, e.Cause)
	}
	return fmt.Sprintf("step '%s': %s", step, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// NewStepError creates a new step error
func NewStepError(stepID, entryPoint, message string, cause error) *StepError {
	return &StepError{StepID: stepID, EntryPoint: entryPoint, Message: message, Cause: cause}
}

// DependencyError represents an error in step dependencies
type DependencyError struct {
	StepID       string
	Dependencies []string
	Message      string
}

func (e *DependencyError) Error() string {
	if len(e.Dependencies) > 0 {
		deps := strings.Join(e.Dependencies, ", ")
		return fmt.Sprintf("dependency error for step '%s' (depends on: %s): %s", e.StepID, deps, e.Message)
	}
	return fmt.Sprintf("dependency error for step '%s': %s", e.StepID, e.Message)
}

// NewDependencyError creates a new dependency error
func NewDependencyError(stepID string, deps []string, message string) *DependencyError {
	return &DependencyError{StepID: stepID, Dependencies: deps, Message: message}
}

// TemplateError represents an error in template evaluation
type TemplateError struct {
	Template string
	Message  string
	Cause    error
}

func (e *TemplateError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("template error in '%s': %s: %v", e.Template, e.Message, e.Cause)
	}
	return fmt.Sprintf("template error in '%s': %s", e.Template, e.Message)
}

func (e *TemplateError) Unwrap() error {
	return e.Cause
}

// NewTemplateError creates a new template error
func NewTemplateError(template, message string, cause error) *TemplateError {
	return &TemplateError{Template: template, Message: message, Cause: cause}
}

// FetchError represents an error while retrieving a remote project
type FetchError struct {
	URL     string
	Version string
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	target := e.URL
	if e.Version != "" {
		target = fmt.Sprintf("%s@%s", target, e.Version)
	}
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for '%s': %s: %v", target, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for '%s': %s", target, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewFetchError creates a new fetch error
func NewFetchError(url, version, message string, cause error) *FetchError {
	return &FetchError{URL: url, Version: version, Message: message, Cause: cause}
}

// ArtifactError represents an error resolving or publishing an artifact
type ArtifactError struct {
	Ref     string
	Message string
	Cause   error
}

func (e *ArtifactError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("artifact error for '%s': %s: %v", e.Ref, e.Message, e.Cause)
	}
	return fmt.Sprintf("artifact error for '%s': %s", e.Ref, e.Message)
}

func (e *ArtifactError) Unwrap() error {
	return e.Cause
}

// NewArtifactError creates a new artifact error
func NewArtifactError(ref, message string, cause error) *ArtifactError {
	return &ArtifactError{Ref: ref, Message: message, Cause: cause}
}

// RetryableError indicates that an operation can be retried
type RetryableError struct {
	Err       error
	Retryable bool
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) IsRetryable() bool {
	return e.Retryable
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryable bool) *RetryableError {
	return &RetryableError{Err: err, Retryable: retryable}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	if ok := errors.As(err, &retryableErr); ok {
		return retryableErr.IsRetryable()
	}
	return false
}
