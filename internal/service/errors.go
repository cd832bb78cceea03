package service

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput       = errors.New("message is empty")
	ErrTurnInFlight     = errors.New("a reply is still streaming for this session")
	ErrSessionNotFound  = errors.New("session not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotAuthenticated = errors.New("Please sign in before chatting.")
)

// PreconditionError stops a turn before any network call is made.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string {
	return e.Err.Error()
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// StreamEventError is an error event sent by the backend mid-stream.
type StreamEventError struct {
	Message string
}

func (e *StreamEventError) Error() string {
	return e.Message
}

// StreamReadError is a failure reading the stream body after it opened.
type StreamReadError struct {
	Err error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("stream interrupted: %v", e.Err)
}

func (e *StreamReadError) Unwrap() error {
	return e.Err
}

func errorBubbleText(err error) string {
	var pre *PreconditionError
	if errors.As(err, &pre) {
		return pre.Error()
	}
	return fmt.Sprintf("Error: %v. Please check that the backend is running and you have configured your API key in Settings.", err)
}
