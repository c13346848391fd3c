package service

import (
	"errors"
	"fmt"
)

const (
	CodeValidation        = "VALIDATION"
	CodeNotFound          = "NOT_FOUND"
	CodeCookieUnavailable = "COOKIE_UNAVAILABLE"
	CodeDecodeFailure     = "DECODE_FAILURE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// Message returns the text a message-channel client sees for err: the coded
// message when there is one, else the error string.
func Message(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}
