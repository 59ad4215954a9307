// Package api defines the JSON envelope shared by every endpoint. Successful
// responses carry their payload under "data"; failures carry "error" plus a
// stable machine-readable "code" when the failure maps to a domain error.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/seerstack/logseer/internal/domain"
	"github.com/seerstack/logseer/internal/pagination"
)

// SuccessResponse is the envelope for 2xx payloads.
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse is the envelope for failures.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes data with the given status. Nil data writes headers only,
// which is how 204 responses go out.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("response encode: %v", err)
	}
}

// Success wraps data in the success envelope.
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes a bare error message without a domain code.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// statusByCode maps domain error codes to HTTP statuses. Codes absent from
// the map surface as internal errors.
var statusByCode = map[string]int{
	domain.ErrCodeValidation:           http.StatusBadRequest,
	domain.ErrCodeConfiguration:        http.StatusBadRequest,
	domain.ErrCodeNotFound:             http.StatusNotFound,
	domain.ErrCodeAlreadyExists:        http.StatusConflict,
	domain.ErrCodeInvalidOperation:     http.StatusConflict,
	domain.ErrCodeKBNotBuilt:           http.StatusConflict,
	domain.ErrCodeModelMismatch:        http.StatusConflict,
	domain.ErrCodeProvider:             http.StatusBadGateway,
	domain.ErrCodeBuildFailure:         http.StatusBadGateway,
	domain.ErrCodeConsistencyViolation: http.StatusInternalServerError,
	domain.ErrCodeInternalError:        http.StatusInternalServerError,
}

// DomainErrorToHTTP resolves the HTTP status for err.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, pagination.ErrInvalidCursor) {
		return http.StatusBadRequest
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		if status, ok := statusByCode[domainErr.Code]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// HandleError writes err with its mapped status. Domain errors carry their
// code in the payload so clients can branch without parsing messages.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		JSON(w, status, ErrorResponse{Error: err.Error(), Code: domainErr.Code})
		return
	}
	Error(w, status, err.Error())
}
