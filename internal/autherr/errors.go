// Package autherr defines the typed error taxonomy shared by the authenticators,
// the token store and the facade.
//
// Callers match on the error kind with errors.Is against the exported sentinels:
//
//	if errors.Is(err, autherr.ErrTimeout) { ... }
//
// Transport failures additionally carry a TransportCode and wrap the original
// network error, so errors.Is(err, syscall.ECONNREFUSED) also works.
package autherr

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Code identifies the kind of failure.
type Code string

const (
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInvalidParameter      Code = "INVALID_PARAMETER"
	CodeInvalidValue          Code = "INVALID_VALUE"
	CodeAuthFailed            Code = "AUTH_FAILED"
	CodeInvalidServerResponse Code = "AUTH_INVALID_SERVER_RESPONSE"
	CodeServerError           Code = "AUTH_SERVER_ERROR"
	CodeTimeout               Code = "AUTH_TIMEOUT"
	CodeNetworkError          Code = "AUTH_NETWORK_ERROR"
	CodeInvalidToken          Code = "AUTH_INVALID_TOKEN"
	CodeCancelled             Code = "AUTH_CANCELLED"
	CodeSigningError          Code = "AUTH_SIGNING_ERROR"
)

// Sentinels for errors.Is matching. Only the Code is compared.
var (
	ErrInvalidArgument       = &Error{Code: CodeInvalidArgument}
	ErrInvalidParameter      = &Error{Code: CodeInvalidParameter}
	ErrInvalidValue          = &Error{Code: CodeInvalidValue}
	ErrAuthFailed            = &Error{Code: CodeAuthFailed}
	ErrInvalidServerResponse = &Error{Code: CodeInvalidServerResponse}
	ErrServerError           = &Error{Code: CodeServerError}
	ErrTimeout               = &Error{Code: CodeTimeout}
	ErrNetwork               = &Error{Code: CodeNetworkError}
	ErrInvalidToken          = &Error{Code: CodeInvalidToken}
	ErrCancelled             = &Error{Code: CodeCancelled}
	ErrSigning               = &Error{Code: CodeSigningError}
)

// Error is a classified authentication error.
type Error struct {
	Code    Code
	Message string

	// TransportCode is set for CodeNetworkError (e.g. "ECONNREFUSED").
	TransportCode string

	Err error
}

// Compile-time check that Error implements error
var _ error = (*Error)(nil)

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with a message that wraps err.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidArgument is shorthand for New(CodeInvalidArgument, ...).
func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

// AuthFailed formats the provider rejection message: "Authentication failed: <reason>".
func AuthFailed(reason string) *Error {
	return New(CodeAuthFailed, "Authentication failed: %s", reason)
}

// Network classifies a transport failure reaching url.
func Network(url string, err error) *Error {
	return &Error{
		Code:          CodeNetworkError,
		Message:       fmt.Sprintf("request to %s failed, reason: %v", url, err),
		TransportCode: TransportCode(err),
		Err:           err,
	}
}

// CodeOf returns the Code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// TransportCode maps a network error to a short errno-style code.
// Unknown failures return "EUNKNOWN".
func TransportCode(err error) string {
	var (
		dnsErr   *net.DNSError
		certErr  *tls.CertificateVerificationError
		unknownA x509.UnknownAuthorityError
		hostErr  x509.HostnameError
		recErr   tls.RecordHeaderError
		netErr   net.Error
	)

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return "EHOSTUNREACH"
	case errors.As(err, &dnsErr):
		return "ENOTFOUND"
	case errors.As(err, &certErr), errors.As(err, &unknownA), errors.As(err, &hostErr), errors.As(err, &recErr):
		return "ETLS"
	case errors.Is(err, context.DeadlineExceeded):
		return "ETIMEDOUT"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "ETIMEDOUT"
	default:
		return "EUNKNOWN"
	}
}
