package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Error kinds. Quota waits are never errors; the rate limiter blocks instead.
var (
	ErrTransport         = errors.New("transport error")
	ErrConversionFailure = errors.New("conversion failed")
	ErrResponseFormat    = errors.New("response format error")
	ErrConfiguration     = errors.New("configuration error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// TransportError marks a network or HTTP failure against an external service.
func TransportError(service string, cause error) error {
	return NewAppError("TRANSPORT_ERROR", service, fmt.Errorf("%w: %w", ErrTransport, cause))
}

func TransportErrorf(service, format string, args ...any) error {
	return TransportError(service, fmt.Errorf(format, args...))
}

// ConversionFailure marks a document whose conversion ended in failed or error state.
func ConversionFailure(dataID, message string) error {
	return NewAppError("CONVERSION_FAILED", dataID, fmt.Errorf("%w: %s", ErrConversionFailure, message))
}

func ResponseFormatError(message string, cause error) error {
	if cause == nil {
		cause = ErrResponseFormat
	} else {
		cause = fmt.Errorf("%w: %w", ErrResponseFormat, cause)
	}
	return NewAppError("RESPONSE_FORMAT", message, cause)
}

func ConfigurationError(message string) error {
	return NewAppError("CONFIG_ERROR", message, ErrConfiguration)
}

func InvalidInputError(message string) error {
	return NewAppError("INVALID_INPUT", message, ErrInvalidInput)
}

// CodeOf maps an error onto the gRPC code space so that callers across
// process boundaries get a stable, machine-readable classification.
func CodeOf(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, ErrConfiguration):
		return codes.FailedPrecondition
	case errors.Is(err, ErrInvalidInput):
		return codes.InvalidArgument
	case errors.Is(err, ErrTransport):
		return codes.Unavailable
	case errors.Is(err, ErrConversionFailure):
		return codes.Aborted
	case errors.Is(err, ErrResponseFormat):
		return codes.DataLoss
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}
	return codes.Internal
}

// gRPC error helpers
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(CodeOf(err), err.Error())
}

func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
