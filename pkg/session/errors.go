package session

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the session manager.
var (
	// ErrAuthenticationFailed is returned when login hits a terminal status
	// or exhausts its retries.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrTeardownFailed is returned when logout fails. Callers log it and
	// carry on; the run result is already decided by then.
	ErrTeardownFailed = errors.New("session teardown failed")

	// ErrNoSessionCookie is returned when a 200 login response carries no
	// cookie matching the session marker.
	ErrNoSessionCookie = errors.New("no session cookie in login response")
)

// StatusClass represents a classification of auth endpoint responses.
type StatusClass string

const (
	// ClassSuccess represents a 200 response.
	ClassSuccess StatusClass = "success"

	// ClassClient represents 400, 401, 403 and 404: configuration or
	// credential problems that retrying will not fix.
	ClassClient StatusClass = "client"

	// ClassServer represents 5xx server errors.
	ClassServer StatusClass = "server"

	// ClassUnexpected represents any other status.
	ClassUnexpected StatusClass = "unexpected"

	// ClassNetwork represents transport errors.
	ClassNetwork StatusClass = "network"
)

// Classify categorizes an auth endpoint status code.
func Classify(statusCode int) StatusClass {
	switch {
	case statusCode == http.StatusOK:
		return ClassSuccess
	case statusCode == http.StatusBadRequest,
		statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden,
		statusCode == http.StatusNotFound:
		return ClassClient
	case statusCode >= 500:
		return ClassServer
	default:
		return ClassUnexpected
	}
}

// shouldRetry determines if a status class is transient.
func shouldRetry(class StatusClass) bool {
	switch class {
	case ClassClient:
		// bad request, bad credentials, no access, wrong URL
		return false
	case ClassServer, ClassUnexpected, ClassNetwork:
		return true
	default:
		return false
	}
}

// StatusError describes a non-success auth endpoint response.
type StatusError struct {
	StatusCode int
	Class      StatusClass
	Action     string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d (%s): %s", e.Action, e.StatusCode, e.Class, describeStatus(e.StatusCode))
}

func describeStatus(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return "the server could not understand the request"
	case http.StatusUnauthorized:
		return "authentication is required and has failed"
	case http.StatusForbidden:
		return "the client does not have access rights"
	case http.StatusNotFound:
		return "the server can not find the requested resource"
	}
	if statusCode >= 500 {
		return "server error"
	}
	return "unexpected status"
}
