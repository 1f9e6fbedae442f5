package chapterapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/p-n-ai/pai-chapters/internal/progress"
)

const (
	msgUnreachable     = "unable to reach the chapter service"
	msgInvalidResponse = "invalid response from the chapter service"
	msgNotSuccessful   = "the chapter service rejected the request"
)

// Error is a failed round trip to the chapter service. Message is safe to
// show to the learner.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("chapter service (%d): %s: %v", e.Status, e.Message, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("chapter service (%d): %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("chapter service: %s: %v", e.Message, e.Err)
	default:
		return "chapter service: " + e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// statusError builds the error for a non-2xx response. message is the body's
// message field and may be empty.
func statusError(status int, message string) *Error {
	if message == "" {
		message = fallbackMessage(status)
	}
	e := &Error{Status: status, Message: message}
	if status == http.StatusForbidden {
		e.Err = progress.ErrLocked
	}
	return e
}

func fallbackMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "your session has expired, please sign in again"
	case http.StatusForbidden:
		return "You must complete previous chapters first"
	case http.StatusNotFound:
		return "chapter not found"
	default:
		return fmt.Sprintf("request failed with status %d", status)
	}
}

// Message returns the learner-facing message of err, or fallback when err
// does not carry one.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// IsLocked reports whether err means the chapter is locked for the learner.
func IsLocked(err error) bool {
	return errors.Is(err, progress.ErrLocked)
}

// IsNotFound reports whether the service answered 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsUnauthorized reports whether the service answered 401.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}
