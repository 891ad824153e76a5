package app

import (
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation    Kind = "validation"
	KindForbidden     Kind = "forbidden"
	KindNotFound      Kind = "not_found"
	KindUnknownAction Kind = "unknown_action"
	KindRateLimited   Kind = "rate_limited"
	KindInternal      Kind = "internal"
)

// Error codes returned in the "error" field. Clients localise them.
const (
	CodeInvalidCSRFToken      = "error_invalid_csrf_token"
	CodeAccessDenied          = "error_access_denied"
	CodePermissionDenied      = "error_permission_denied"
	CodeMissingFields         = "error_missing_fields"
	CodeThreadIDRequired      = "error_thread_id_required"
	CodeUserUUIDRequired      = "error_user_uuid_required"
	CodeCodeRequired          = "error_code_required"
	CodeInvalidInput          = "error_invalid_input"
	CodeInvalidBody           = "error_invalid_body"
	CodeInvalidIDOrPermission = "error_invalid_id_or_permission"
	CodeThreadNotFound        = "error_thread_not_found"
	CodeNotFound              = "error_not_found"
	CodeInvalidCode           = "error_invalid_code"
	CodeInvalidToken          = "error_invalid_token"
	CodeInvalidAction         = "error_invalid_action"
	CodeCannotRemoveSelf      = "error_cannot_remove_self"
	CodeRateLimited           = "error_rate_limited"
	CodeInternal              = "error_internal_server_error"
)

type DomainError struct {
	Status  int
	Kind    Kind
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return string(e.Kind) + ": " + e.Code
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Code, e.Message)
}

func domainError(status int, kind Kind, code, message string) *DomainError {
	return &DomainError{
		Status:  status,
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

func validationError(code string) *DomainError {
	return domainError(http.StatusBadRequest, KindValidation, code, "")
}

func forbiddenError(code string) *DomainError {
	return domainError(http.StatusForbidden, KindForbidden, code, "")
}

func notFoundError(code string) *DomainError {
	return domainError(http.StatusNotFound, KindNotFound, code, "")
}

func unknownActionError(action string) *DomainError {
	return domainError(http.StatusBadRequest, KindUnknownAction, CodeInvalidAction, action)
}

func rateLimitedError() *DomainError {
	return domainError(http.StatusTooManyRequests, KindRateLimited, CodeRateLimited, "")
}

func internalError() *DomainError {
	return domainError(http.StatusInternalServerError, KindInternal, CodeInternal, "")
}
