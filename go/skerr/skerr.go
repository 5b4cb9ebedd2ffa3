// Package skerr provides lightweight error wrapping that annotates an
// error with the file and line of the call site, so that a chain of
// wrapped errors reads like a condensed stack trace instead of a bare
// message.
package skerr

import (
	"errors"
	"fmt"
	"runtime"
)

// callerError wraps an underlying error with a message and the
// file:line of whoever constructed it.
type callerError struct {
	cause   error
	message string
	file    string
	line    int
}

func (e *callerError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("%s:%d: %s", e.file, e.line, e.cause.Error())
	}
	return fmt.Sprintf("%s:%d: %s: %s", e.file, e.line, e.message, e.cause.Error())
}

func (e *callerError) Unwrap() error {
	return e.cause
}

func caller(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???", 0
	}
	return file, line
}

// Wrap annotates err with the caller's file and line. Returns nil if err
// is nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	file, line := caller(2)
	return &callerError{cause: err, file: file, line: line}
}

// Wrapf annotates err with the caller's file and line plus a formatted
// message. Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	file, line := caller(2)
	return &callerError{cause: err, message: fmt.Sprintf(format, args...), file: file, line: line}
}

// Fmt builds a new error from a format string, annotated with the
// caller's file and line, the same way Wrapf annotates an existing one.
func Fmt(format string, args ...interface{}) error {
	file, line := caller(2)
	return &callerError{cause: errors.New(fmt.Sprintf(format, args...)), file: file, line: line}
}
