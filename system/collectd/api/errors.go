package api

import (
	"errors"
	"fmt"
)

// Code is a protocol error code. Codes travel in acks and postludes as
// integers.
type Code int64

const (
	OK                  Code = 0
	CommunicationError  Code = 1
	ParseError          Code = 2
	NoSuchView          Code = 3
	NoSuchTransaction   Code = 4
	NoTransactionName   Code = 5
	NoViewName          Code = 6
	NoKey               Code = 7
	BadClassAd          Code = 8
	FatalError          Code = 9
	TransactionExists   Code = 10
	BadTransactionState Code = 11
	NoSuchClassAd       Code = 12
	NoParentView        Code = 13
	BadViewInfo         Code = 14
	NoRepresentative    Code = 15
	ViewPresent         Code = 16
	PartitionExists     Code = 17
	BadPartitionExprs   Code = 18
	BadServerAck        Code = 19
	ClientNotConnected  Code = 20
	FileWriteFailed     Code = 21
	InternalError       Code = 22
)

var codeNames = map[Code]string{
	OK:                  "ok",
	CommunicationError:  "communication_error",
	ParseError:          "parse_error",
	NoSuchView:          "no_such_view",
	NoSuchTransaction:   "no_such_transaction",
	NoTransactionName:   "no_transaction_name",
	NoViewName:          "no_view_name",
	NoKey:               "no_key",
	BadClassAd:          "bad_classad",
	FatalError:          "fatal_error",
	TransactionExists:   "transaction_exists",
	BadTransactionState: "bad_transaction_state",
	NoSuchClassAd:       "no_such_classad",
	NoParentView:        "no_parent_view",
	BadViewInfo:         "bad_view_info",
	NoRepresentative:    "no_representative",
	ViewPresent:         "view_present",
	PartitionExists:     "partition_exists",
	BadPartitionExprs:   "bad_partition_exprs",
	BadServerAck:        "bad_server_ack",
	ClientNotConnected:  "client_not_connected",
	FileWriteFailed:     "file_write_failed",
	InternalError:       "internal_error",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code_%d", int64(c))
}

// Closes reports whether a handler failing with c must end the
// connection.
func (c Code) Closes() bool {
	switch c {
	case CommunicationError, ParseError, FatalError, FileWriteFailed, InternalError:
		return true
	}
	return false
}

// Error is a protocol-visible failure.
type Error struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches by code.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// AsError converts err into an *Error. Errors without a protocol code
// become InternalError; nil stays nil.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(InternalError, err.Error())
}

// CodeOf returns the protocol code of err, OK for nil.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	return AsError(err).Code
}
