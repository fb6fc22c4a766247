// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents user input validation failures.
// Use this for invalid user input, malformed data, or constraint violations.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NotFoundError represents a resource not found error.
// Use this when a requested resource does not exist.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "workflow", "tool", "connector")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ConflictError represents a lost race on a concurrent modification.
// Use this when an UPDATE/DELETE affected zero rows because another
// transaction already changed or removed the row.
type ConflictError struct {
	// Resource is the type of entity that conflicted (e.g., "run_step", "document_uri")
	Resource string

	// ID is the identifier of the conflicting entity
	ID string

	// Reason explains what changed concurrently
	Reason string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("conflict on %s %s: %s", e.Resource, e.ID, e.Reason)
	}
	return fmt.Sprintf("conflict on %s %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *ConflictError) ErrorType() string { return "conflict" }

// IsRetryable implements ErrorClassifier. Callers, not the engine, retry conflicts.
func (e *ConflictError) IsRetryable() bool { return false }

// RetryableError signals a transient handler fault (network timeout, parser
// overloaded). The scheduler moves the step to ERROR and retries it per the
// backoff schedule, up to the step's retry limit.
type RetryableError struct {
	// Reason is a short human-readable description of the transient fault.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("retryable: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("retryable: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *RetryableError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *RetryableError) ErrorType() string { return "retryable" }

// IsRetryable implements ErrorClassifier.
func (e *RetryableError) IsRetryable() bool { return true }

// FatalError signals permanent impossibility (corrupt input, unsupported
// mime type). The scheduler moves the step straight to FAILED regardless of
// remaining retries.
type FatalError struct {
	// Reason is a short human-readable description of the permanent fault.
	Reason string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("fatal: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *FatalError) Unwrap() error { return e.Cause }

// ErrorType implements ErrorClassifier.
func (e *FatalError) ErrorType() string { return "fatal" }

// IsRetryable implements ErrorClassifier.
func (e *FatalError) IsRetryable() bool { return false }

// EngineInvariantError represents an impossible state observed by the
// engine itself (e.g. two RUNNING siblings in one run). The engine refuses
// to advance the affected run and marks it FAILED with this as diagnostic
// metadata; callers should log it at critical severity.
type EngineInvariantError struct {
	// Invariant names the violated invariant (e.g. "at-most-one-running-step").
	Invariant string

	// Detail carries identifying context (run id, step ids observed).
	Detail string
}

// Error implements the error interface.
func (e *EngineInvariantError) Error() string {
	return fmt.Sprintf("engine invariant violated (%s): %s", e.Invariant, e.Detail)
}

// ErrorType implements ErrorClassifier.
func (e *EngineInvariantError) ErrorType() string { return "engine_invariant" }

// IsRetryable implements ErrorClassifier.
func (e *EngineInvariantError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, missing settings, or invalid config values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "api_key", "database.host")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TimeoutError represents operation timeouts.
// Use this when an operation exceeds its configured timeout.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "LLM request", "workflow step")
	Operation string

	// Duration is how long the operation ran before timing out
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s operation timed out after %v", e.Operation, e.Duration)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}
