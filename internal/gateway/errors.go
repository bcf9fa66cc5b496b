package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUnreachable covers network failures, timeouts and 5xx answers.
	ErrUnreachable = errors.New("payment gateway unreachable")
	// ErrRejected means the gateway refused to open a session.
	ErrRejected = errors.New("payment gateway rejected request")
	// ErrMalformedResponse means the gateway answered with a body that is not JSON.
	ErrMalformedResponse = errors.New("malformed gateway response")
)

type UnreachableError struct {
	Op  string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrUnreachable, e.Op, e.Err)
}

func (e *UnreachableError) Unwrap() []error { return []error{ErrUnreachable, e.Err} }

type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return ErrRejected.Error()
	}
	return ErrRejected.Error() + ": " + e.Reason
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

type MalformedError struct {
	Op   string
	Body string
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMalformedResponse, e.Op, e.Err)
}

func (e *MalformedError) Unwrap() []error { return []error{ErrMalformedResponse, e.Err} }
