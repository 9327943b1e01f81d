package app

import (
	"fmt"
	"net/http"
)

// DomainError is the error contract between the service layer and the HTTP
// handlers: handlers map it straight to a status, a machine-readable code
// and a message. Anything else becomes a 500.
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

// validationError rejects malformed or missing input.
func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

// notAuthorized rejects a caller acting outside their role in the team.
func notAuthorized(message string) *DomainError {
	return domainError(http.StatusForbidden, "NOT_AUTHORIZED", message, nil)
}

// preconditionNotMet rejects an operation in the wrong game phase.
func preconditionNotMet(message string) *DomainError {
	return domainError(http.StatusConflict, "PRECONDITION_NOT_MET", message, nil)
}

// invalidTransition rejects a cell state change the lifecycle does not allow.
func invalidTransition(message string, details any) *DomainError {
	return domainError(http.StatusConflict, "INVALID_TRANSITION", message, details)
}
