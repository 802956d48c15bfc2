// Package errcode defines the error taxonomy returned across the HTTP boundary.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies the kind of failure reported to clients.
type Code string

const (
	Unauthorized             Code = "UNAUTHORIZED"
	InvalidRequest           Code = "INVALID_REQUEST"
	InvalidTssSession        Code = "INVALID_TSS_SESSION"
	InvalidTssStage          Code = "INVALID_TSS_STAGE"
	InvalidTssTriplesResult  Code = "INVALID_TSS_TRIPLES_RESULT"
	InvalidTssPresignResult  Code = "INVALID_TSS_PRESIGN_RESULT"
	InvalidTssSignResult     Code = "INVALID_TSS_SIGN_RESULT"
	WalletAlreadyExists      Code = "WALLET_ALREADY_EXISTS"
	DuplicatePublicKey       Code = "DUPLICATE_PUBLIC_KEY"
	WalletNotFound           Code = "WALLET_NOT_FOUND"
	UserNotFound             Code = "USER_NOT_FOUND"
	KeyshareNodeInsufficient Code = "KEYSHARE_NODE_INSUFFICIENT"
	InsufficientShares       Code = "INSUFFICIENT_SHARES"
	KeyFragmentMismatch      Code = "KEY_FRAGMENT_MISMATCH"
	Unknown                  Code = "UNKNOWN_ERROR"
)

// Error is a classified failure. Msg is safe to show to clients, Err is kept for logs.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. A nil err yields nil.
func Wrap(code Code, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Msg: msg, Err: err}
}

// From returns the classified error inside err, or an UNKNOWN_ERROR wrapping it.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: Unknown, Msg: "internal error", Err: err}
}

// CodeOf reports the code carried by err, UNKNOWN_ERROR if none.
func CodeOf(err error) Code {
	return From(err).Code
}

// HTTPStatus maps a code to the status used in responses.
func HTTPStatus(code Code) int {
	switch code {
	case InvalidRequest, InvalidTssSession, InvalidTssStage:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case WalletNotFound, UserNotFound:
		return http.StatusNotFound
	case WalletAlreadyExists, DuplicatePublicKey:
		return http.StatusConflict
	case InvalidTssTriplesResult, InvalidTssPresignResult, InvalidTssSignResult, KeyFragmentMismatch:
		return http.StatusUnprocessableEntity
	case KeyshareNodeInsufficient, InsufficientShares:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
