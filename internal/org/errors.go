package org

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeNotFound            = "E_NOT_FOUND"
	CodeTimeout             = "E_TIMEOUT"
	CodeBadRequest          = "E_BAD_REQUEST"
	CodeUnknown             = "E_UNKNOWN"
)

// Error wraps org-connection failures with a code and retryability hint.
type Error struct {
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error         { return e.Err }
func (e *Error) CodeValue() string     { return e.Code }
func (e *Error) RetryableStatus() bool { return e.Retryable }

// CodedError exposes error metadata for boundary classification.
type CodedError interface {
	error
	CodeValue() string
	RetryableStatus() bool
}

func wrapError(code string, retryable bool, err error) *Error {
	return &Error{Code: code, Retryable: retryable, Err: err}
}

// Classify converts an arbitrary error into a code and retryability hint.
func Classify(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.CodeValue(), coded.RetryableStatus()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, true
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return CodeTimeout, true
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "auth"):
		return CodeAuthInvalid, false
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") || strings.Contains(msg, "unreachable"):
		return CodeEndpointUnreachable, true
	case strings.Contains(msg, "not found"):
		return CodeNotFound, false
	}
	return CodeUnknown, true
}
