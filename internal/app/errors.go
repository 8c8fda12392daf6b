package app

import (
	"errors"
	"fmt"
	"net/http"

	"tessera/api/internal/docstore"
	"tessera/api/internal/graph"
	"tessera/api/internal/ownership"
)

const (
	CodeValidation = "VALIDATION_ERROR"
	CodePermission = "PERMISSION_DENIED"
	CodeNotFound   = "NOT_FOUND"
	CodeStorage    = "STORAGE_ERROR"
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

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, nil)
}

func permissionError() *DomainError {
	return domainError(http.StatusForbidden, CodePermission, "permission denied", nil)
}

func notFoundError(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func storageError(err error) *DomainError {
	return domainError(http.StatusInternalServerError, CodeStorage, err.Error(), nil)
}

// mapError folds component sentinels into the domain taxonomy. An error that
// already is a DomainError passes through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	switch {
	case errors.Is(err, ownership.ErrMalformed):
		return validationError(err.Error())
	case errors.Is(err, ownership.ErrPermission), errors.Is(err, ownership.ErrLastOwner):
		return permissionError()
	case errors.Is(err, docstore.ErrNotFound):
		return notFoundError("document not found")
	case errors.Is(err, graph.ErrNotAcknowledged), errors.Is(err, ownership.ErrStorage):
		return storageError(err)
	}
	return storageError(err)
}
