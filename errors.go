// Package tomo structured error types for request failures
package tomo

import (
	"errors"
	"fmt"
)

// ErrorType represents categories of request failures
type ErrorType int

const (
	// Configuration errors: geometry or volume incomplete or inconsistent,
	// detected before any dispatch
	ErrTypeConfig ErrorType = iota
	// Resource errors: the memory budget cannot hold even one row of work
	ErrTypeResource
	// Execution errors: a kernel invocation failed on some partition
	ErrTypeExecution
	// Memory errors: allocation tracking failures
	ErrTypeMemory
	// Invalid argument errors
	ErrTypeInvalidArg
	// Not implemented errors
	ErrTypeNotImplemented
)

// Error is a structured error carrying the failing operation and its category.
type Error struct {
	Type    ErrorType
	Op      string // Operation that failed
	Message string // Human-readable message
	Err     error  // Underlying error if any
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tomo %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("tomo %s error in %s: %s", e.Type.String(), e.Op, e.Message)
}

// Unwrap allows error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeConfig:
		return "Configuration"
	case ErrTypeResource:
		return "Resource"
	case ErrTypeExecution:
		return "Execution"
	case ErrTypeMemory:
		return "Memory"
	case ErrTypeInvalidArg:
		return "InvalidArgument"
	case ErrTypeNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// Common error constructors

func newConfigError(op, message string) error {
	return &Error{Type: ErrTypeConfig, Op: op, Message: message}
}

func wrapConfigError(op string, err error) error {
	return &Error{Type: ErrTypeConfig, Op: op, Message: err.Error(), Err: err}
}

func newResourceError(op, message string) error {
	return &Error{Type: ErrTypeResource, Op: op, Message: message}
}

func newExecutionError(op string, err error) error {
	return &Error{Type: ErrTypeExecution, Op: op, Message: "kernel invocation failed", Err: err}
}

func newMemoryError(op, message string) error {
	return &Error{Type: ErrTypeMemory, Op: op, Message: message}
}

func newInvalidArgError(op, message string) error {
	return &Error{Type: ErrTypeInvalidArg, Op: op, Message: message}
}

// IsType reports whether err is a tomo error of the given category.
func IsType(err error, t ErrorType) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Type == t
	}
	return false
}

// Common sentinel errors
var (
	// ErrDoubleFree indicates memory was freed twice
	ErrDoubleFree = &Error{Type: ErrTypeMemory, Op: "Free", Message: "memory already freed"}
)
