package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies failures at the analysis service boundary
type ErrorKind string

const (
	ErrorValidation ErrorKind = "validation"
	ErrorNetwork    ErrorKind = "network"
	ErrorServer     ErrorKind = "server"
	ErrorClient     ErrorKind = "client"
	ErrorTimeout    ErrorKind = "timeout"
)

// ValidationError is a problem detected locally; nothing was sent
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NetworkError means no response reached us
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServiceError means the analysis service answered with a failure
type ServiceError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: service returned %d: %s", e.Op, e.Status, e.Message)
}

// IsClientError reports a 4xx answer, typically a rejected file
func (e *ServiceError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// TimeoutError means the call exceeded its bound
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response within %s", e.Op, e.After)
}

// ClassifyError returns the kind of a boundary error, "" for nil
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		verr *ValidationError
		serr *ServiceError
		terr *TimeoutError
	)
	switch {
	case errors.As(err, &verr):
		return ErrorValidation
	case errors.As(err, &terr):
		return ErrorTimeout
	case errors.As(err, &serr):
		if serr.IsClientError() {
			return ErrorClient
		}
		return ErrorServer
	default:
		return ErrorNetwork
	}
}

// UserMessage turns any boundary error into text fit for the user
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		verr *ValidationError
		serr *ServiceError
	)
	switch ClassifyError(err) {
	case ErrorValidation:
		errors.As(err, &verr)
		return verr.Message
	case ErrorServer, ErrorClient:
		errors.As(err, &serr)
		return serr.Message
	case ErrorTimeout:
		return "The analysis service took too long to respond. Please try again."
	default:
		return "Network error - please check your connection"
	}
}

// classifyTransport converts an error from http.Client.Do into a boundary error.
// bound is the timeout that was applied to ctx.
func classifyTransport(ctx context.Context, op string, bound time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, After: bound}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &TimeoutError{Op: op, After: bound}
	}
	return &NetworkError{Op: op, Err: err}
}
