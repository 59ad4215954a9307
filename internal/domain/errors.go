package domain

import "fmt"

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeAlreadyExists        = "ALREADY_EXISTS"
	ErrCodeConfiguration        = "CONFIGURATION_ERROR"
	ErrCodeProvider             = "PROVIDER_ERROR"
	ErrCodeModelMismatch        = "MODEL_MISMATCH"
	ErrCodeConsistencyViolation = "CONSISTENCY_VIOLATION"
	ErrCodeBuildFailure         = "BUILD_FAILURE"
	ErrCodeKBNotBuilt           = "KB_NOT_BUILT"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeInvalidOperation     = "INVALID_OPERATION"
)

// Validation errors
var (
	ErrInvalidIssueID       = NewDomainError(ErrCodeValidation, "invalid issue id")
	ErrInvalidChunkRange    = NewDomainError(ErrCodeValidation, "invalid chunk line range")
	ErrInvalidTopK          = NewDomainError(ErrCodeValidation, "top_k must be greater than zero")
	ErrEmptyQuery           = NewDomainError(ErrCodeValidation, "query text is empty")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
)

// Configuration errors
var (
	ErrInvalidChunkSize = NewDomainError(ErrCodeConfiguration, "chunk size must be greater than zero")
	ErrInvalidOverlap   = NewDomainError(ErrCodeConfiguration, "overlap must be non-negative and smaller than chunk size")
	ErrInvalidModelID   = NewDomainError(ErrCodeConfiguration, "model id must be of the form provider:name")
	ErrUnknownProvider  = NewDomainError(ErrCodeConfiguration, "no embedding provider registered for model")
)

// Not found errors
var (
	ErrIssueNotFound  = NewDomainError(ErrCodeNotFound, "issue not found")
	ErrRawLogNotFound = NewDomainError(ErrCodeNotFound, "raw log file not found")
)

// Already exists errors
var (
	ErrIssueAlreadyExists  = NewDomainError(ErrCodeAlreadyExists, "issue already exists")
	ErrRawLogAlreadyExists = NewDomainError(ErrCodeAlreadyExists, "raw log file already exists")
)

// Index and build errors
var (
	ErrKnowledgeBaseNotBuilt = NewDomainError(ErrCodeKBNotBuilt, "knowledge base has not been built for this issue")
	ErrModelMismatch         = NewDomainError(ErrCodeModelMismatch, "vector model or dimension does not match the index")
	ErrCacheConflict         = NewDomainError(ErrCodeConsistencyViolation, "cached vector differs for an existing (content_hash, model_id) key")
	ErrBuildInProgress       = NewDomainError(ErrCodeInvalidOperation, "a build is already queued or running for this issue")
)
