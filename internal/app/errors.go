package app

import (
	"errors"
	"fmt"
	"net/http"

	"formledger/api/internal/store"
)

const (
	KindNotFound     = "NOT_FOUND"
	KindConflict     = "CONFLICT"
	KindForbidden    = "FORBIDDEN"
	KindUnauthorized = "UNAUTHORIZED"
	KindBadRequest   = "BAD_REQUEST"
	KindUnavailable  = "UNAVAILABLE"
	KindServerError  = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) error {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}

func notFound(message string) error {
	return domainError(http.StatusNotFound, KindNotFound, message, nil)
}

func conflict(message string) error {
	return domainError(http.StatusConflict, KindConflict, message, nil)
}

func forbidden(message string) error {
	return domainError(http.StatusForbidden, KindForbidden, message, nil)
}

func unauthorized(message string) error {
	return domainError(http.StatusUnauthorized, KindUnauthorized, message, nil)
}

func badRequest(message string) error {
	return domainError(http.StatusBadRequest, KindBadRequest, message, nil)
}

// KindOf classifies err into one of the Kind constants.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	switch {
	case errors.Is(err, store.ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, store.ErrDuplicateKey):
		return KindConflict
	case errors.Is(err, store.ErrNotFound):
		return KindNotFound
	}
	return KindServerError
}

func statusForKind(kind string) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
