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

package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	ingestererrors "github.com/soliplex/ingester/pkg/errors"
)

func TestValidationError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *ingestererrors.ValidationError
		wantMsg string
	}{
		{
			name: "with field",
			err: &ingestererrors.ValidationError{
				Field:      "database_url",
				Message:    "required field is missing",
				Suggestion: "Set the database URL in config",
			},
			wantMsg: "validation failed on database_url: required field is missing",
		},
		{
			name: "without field",
			err: &ingestererrors.ValidationError{
				Message:    "invalid format",
				Suggestion: "Check the input format",
			},
			wantMsg: "validation failed: invalid format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ValidationError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestNotFoundError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *ingestererrors.NotFoundError
		wantMsg string
	}{
		{
			name: "workflow not found",
			err: &ingestererrors.NotFoundError{
				Resource: "workflow",
				ID:       "pdf-to-vectors",
			},
			wantMsg: "workflow not found: pdf-to-vectors",
		},
		{
			name: "run group not found",
			err: &ingestererrors.NotFoundError{
				Resource: "run_group",
				ID:       "rg_abc123",
			},
			wantMsg: "run_group not found: rg_abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("NotFoundError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConflictError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *ingestererrors.ConflictError
		wantMsg string
	}{
		{
			name: "with reason",
			err: &ingestererrors.ConflictError{
				Resource: "run_step",
				ID:       "step_42",
				Reason:   "already claimed by another worker",
			},
			wantMsg: "conflict on run_step step_42: already claimed by another worker",
		},
		{
			name: "without reason",
			err: &ingestererrors.ConflictError{
				Resource: "document_uri",
				ID:       "uri_9",
			},
			wantMsg: "conflict on document_uri uri_9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ConflictError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConflictError_Classifier(t *testing.T) {
	err := &ingestererrors.ConflictError{Resource: "run_step", ID: "step_1"}
	if err.ErrorType() != "conflict" {
		t.Errorf("ErrorType() = %q, want %q", err.ErrorType(), "conflict")
	}
	if err.IsRetryable() {
		t.Error("ConflictError.IsRetryable() should be false")
	}
}

func TestRetryableError_Error(t *testing.T) {
	cause := errors.New("connection reset")
	err := &ingestererrors.RetryableError{Reason: "embedding service unavailable", Cause: cause}

	got := err.Error()
	if !strings.Contains(got, "embedding service unavailable") {
		t.Errorf("RetryableError.Error() = %q, want to contain reason", got)
	}
	if !strings.Contains(got, "connection reset") {
		t.Errorf("RetryableError.Error() = %q, want to contain cause", got)
	}
	if err.Unwrap() != cause {
		t.Error("RetryableError.Unwrap() should return cause")
	}
	if !err.IsRetryable() {
		t.Error("RetryableError.IsRetryable() should be true")
	}
	if err.ErrorType() != "retryable" {
		t.Errorf("ErrorType() = %q, want %q", err.ErrorType(), "retryable")
	}
}

func TestFatalError_Error(t *testing.T) {
	err := &ingestererrors.FatalError{Reason: "unsupported mime type"}

	if got := err.Error(); !strings.Contains(got, "unsupported mime type") {
		t.Errorf("FatalError.Error() = %q, want to contain reason", got)
	}
	if err.IsRetryable() {
		t.Error("FatalError.IsRetryable() should be false")
	}
	if err.ErrorType() != "fatal" {
		t.Errorf("ErrorType() = %q, want %q", err.ErrorType(), "fatal")
	}
}

func TestEngineInvariantError_Error(t *testing.T) {
	err := &ingestererrors.EngineInvariantError{
		Invariant: "at-most-one-running-step",
		Detail:    "run run_1 has steps step_2 and step_3 both RUNNING",
	}

	got := err.Error()
	if !strings.Contains(got, "at-most-one-running-step") {
		t.Errorf("EngineInvariantError.Error() = %q, want to contain invariant name", got)
	}
	if !strings.Contains(got, "run_1") {
		t.Errorf("EngineInvariantError.Error() = %q, want to contain detail", got)
	}
	if err.IsRetryable() {
		t.Error("EngineInvariantError.IsRetryable() should be false")
	}
}

func TestConfigError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *ingestererrors.ConfigError
		wantMsg string
	}{
		{
			name: "with key",
			err: &ingestererrors.ConfigError{
				Key:    "database.url",
				Reason: "hostname is invalid",
			},
			wantMsg: "config error at database.url: hostname is invalid",
		},
		{
			name: "without key",
			err: &ingestererrors.ConfigError{
				Reason: "file not found",
			},
			wantMsg: "config error: file not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("ConfigError.Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigError_Unwrap(t *testing.T) {
	cause := errors.New("file read error")
	err := &ingestererrors.ConfigError{
		Key:    "config",
		Reason: "failed to load",
		Cause:  cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("ConfigError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestTimeoutError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *ingestererrors.TimeoutError
		want    []string
		notWant []string
	}{
		{
			name: "handler timeout",
			err: &ingestererrors.TimeoutError{
				Operation: "embed step",
				Duration:  30 * time.Second,
			},
			want:    []string{"embed step", "30s"},
			notWant: []string{},
		},
		{
			name: "claim poll timeout",
			err: &ingestererrors.TimeoutError{
				Operation: "claim query",
				Duration:  2 * time.Minute,
			},
			want:    []string{"claim query", "2m0s"},
			notWant: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("TimeoutError.Error() = %q, want to contain %q", got, want)
				}
			}
			for _, notWant := range tt.notWant {
				if strings.Contains(got, notWant) {
					t.Errorf("TimeoutError.Error() = %q, should not contain %q", got, notWant)
				}
			}
		})
	}
}

func TestTimeoutError_Unwrap(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := &ingestererrors.TimeoutError{
		Operation: "test",
		Duration:  5 * time.Second,
		Cause:     cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("TimeoutError.Unwrap() = %v, want %v", got, cause)
	}
}

// Test error wrapping with fmt.Errorf
func TestErrorWrapping(t *testing.T) {
	t.Run("ValidationError can be wrapped", func(t *testing.T) {
		original := &ingestererrors.ValidationError{
			Field:   "artifact_root",
			Message: "invalid format",
		}
		wrapped := fmt.Errorf("batch validation: %w", original)

		var target *ingestererrors.ValidationError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ValidationError in wrapped error")
		}
		if target.Field != "artifact_root" {
			t.Errorf("unwrapped error Field = %q, want %q", target.Field, "artifact_root")
		}
	})

	t.Run("NotFoundError can be wrapped", func(t *testing.T) {
		original := &ingestererrors.NotFoundError{
			Resource: "workflow",
			ID:       "test",
		}
		wrapped := fmt.Errorf("loading workflow: %w", original)

		var target *ingestererrors.NotFoundError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find NotFoundError in wrapped error")
		}
		if target.Resource != "workflow" {
			t.Errorf("unwrapped error Resource = %q, want %q", target.Resource, "workflow")
		}
	})

	t.Run("RetryableError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("network timeout")
		retryableErr := &ingestererrors.RetryableError{
			Reason: "request failed",
			Cause:  rootCause,
		}
		wrapped := fmt.Errorf("executing handler: %w", retryableErr)

		var target *ingestererrors.RetryableError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find RetryableError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("RetryableError.Unwrap() should return root cause")
		}
	})

	t.Run("ConfigError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("file not found")
		configErr := &ingestererrors.ConfigError{
			Key:    "database_url",
			Reason: "missing required field",
			Cause:  rootCause,
		}
		wrapped := fmt.Errorf("loading config: %w", configErr)

		var target *ingestererrors.ConfigError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find ConfigError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("ConfigError.Unwrap() should return root cause")
		}
	})

	t.Run("TimeoutError preserves cause through wrapping", func(t *testing.T) {
		rootCause := errors.New("context deadline exceeded")
		timeoutErr := &ingestererrors.TimeoutError{
			Operation: "test",
			Duration:  5 * time.Second,
			Cause:     rootCause,
		}
		wrapped := fmt.Errorf("operation timeout: %w", timeoutErr)

		var target *ingestererrors.TimeoutError
		if !errors.As(wrapped, &target) {
			t.Error("errors.As should find TimeoutError in wrapped error")
		}

		if target.Unwrap() != rootCause {
			t.Error("TimeoutError.Unwrap() should return root cause")
		}
	})
}

// Test errors.Is behavior
func TestErrorsIs(t *testing.T) {
	t.Run("errors.Is works with wrapped ValidationError", func(t *testing.T) {
		original := &ingestererrors.ValidationError{Field: "test"}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})

	t.Run("errors.Is works with wrapped NotFoundError", func(t *testing.T) {
		original := &ingestererrors.NotFoundError{Resource: "test", ID: "123"}
		wrapped := fmt.Errorf("wrapper: %w", original)

		if !errors.Is(wrapped, original) {
			t.Error("errors.Is should find original error in chain")
		}
	})
}
