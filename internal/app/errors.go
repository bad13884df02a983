package app

import "fmt"

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

// The service normalizes every rejection into one of these categories
// so clients can branch on status and code alone.

func validationError(message string, details any) *DomainError {
	return domainError(422, "VALIDATION_ERROR", message, details)
}

func conflictError(message string, details any) *DomainError {
	return domainError(409, "CONFLICT", message, details)
}

func authorizationError(message string) *DomainError {
	return domainError(403, "FORBIDDEN", message, nil)
}

func notFoundError(message string) *DomainError {
	return domainError(404, "NOT_FOUND", message, nil)
}

func transientStoreError(message string) *DomainError {
	return domainError(503, "STORE_UNAVAILABLE", message, nil)
}
