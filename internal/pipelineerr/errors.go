/**
 * Structured error taxonomy for the processing orchestrator.
 *
 * Generalizes the worker's ErrorCode/ProcessingError pair into the five-member
 * taxonomy the pipeline reasons about: UserInput, Transient, Cache, Fatal,
 * Cancelled. Workers never raise into the orchestrator; they return a
 * PipelineError (or nil) and the orchestrator aggregates.
 */

package pipelineerr

import (
	"fmt"
	"time"
)

// Kind classifies a PipelineError for retry and propagation policy.
type Kind string

const (
	UserInput Kind = "user_input"
	Transient Kind = "transient"
	Cache     Kind = "cache"
	Fatal     Kind = "fatal"
	Cancelled Kind = "cancelled"
)

// PipelineError is the single error type workers return. It always carries a
// Kind so callers can branch on retry/propagation policy without parsing
// strings.
type PipelineError struct {
	Kind       Kind
	Message    string
	ArtifactID string
	DocumentID string
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether this error's kind is worth a bounded retry.
func (e *PipelineError) Retryable() bool {
	return e.Kind == Transient || e.Kind == Cache
}

func newErr(kind Kind, msg string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Message: msg, Timestamp: time.Now(), Cause: cause}
}

func NewUserInput(msg string, cause error) *PipelineError {
	return newErr(UserInput, msg, cause)
}

func NewTransient(msg string, cause error) *PipelineError {
	return newErr(Transient, msg, cause)
}

func NewCache(msg string, cause error) *PipelineError {
	return newErr(Cache, msg, cause)
}

func NewFatal(msg string, cause error) *PipelineError {
	return newErr(Fatal, msg, cause)
}

func NewCancelled() *PipelineError {
	return newErr(Cancelled, "cancelled by caller", nil)
}

// WithArtifact attaches artifact/document identifiers for aggregation into
// the terminal SSE event, returning the same error for chaining.
func (e *PipelineError) WithArtifact(artifactID, documentID string) *PipelineError {
	e.ArtifactID = artifactID
	e.DocumentID = documentID
	return e
}

// ToMap renders the error for the interaction log / terminal SSE payload.
func (e *PipelineError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"kind":      string(e.Kind),
		"message":   e.Message,
		"timestamp": e.Timestamp,
	}
	if e.ArtifactID != "" {
		result["artifact_id"] = e.ArtifactID
	}
	if e.DocumentID != "" {
		result["document_id"] = e.DocumentID
	}
	for k, v := range e.Details {
		result[k] = v
	}
	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}
	return result
}
