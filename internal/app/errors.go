package app

import (
	"errors"
	"fmt"
	"net/http"

	"taskmark/api/internal/identity"
	"taskmark/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var ErrNotFound = errors.New("note not found")

// mapError translates service failures onto the HTTP surface. Storage
// taxonomy: a local database that cannot open is fatal (503); everything
// else is a transient, user-retryable failure.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Note not found", nil
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Local storage cannot be opened", nil
	case errors.Is(err, store.ErrStorageRead):
		return http.StatusInternalServerError, "STORAGE_READ_FAILED", "Local storage read failed", nil
	case errors.Is(err, store.ErrStorageWrite):
		return http.StatusInternalServerError, "STORAGE_WRITE_FAILED", "Local storage write failed", nil
	case errors.Is(err, store.ErrRemoteUnavailable):
		return http.StatusServiceUnavailable, "REMOTE_UNAVAILABLE", "Remote store unreachable", nil
	case errors.Is(err, store.ErrRemoteWrite):
		return http.StatusBadGateway, "REMOTE_WRITE_FAILED", "Remote write failed", nil
	case errors.Is(err, identity.ErrNoUser):
		return http.StatusUnauthorized, "NO_USER", "No current user for cloud mode", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
