package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Prefer these (optionally wrapped in a DomainError) for new code.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrLimitReached  = fmt.Errorf("limit reached")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrSessionNotFound    = fmt.Errorf("session not found")
	ErrInvalidSessionID   = fmt.Errorf("invalid session id")
	ErrImageQuality       = fmt.Errorf("image quality too low")
	ErrInsufficientData   = fmt.Errorf("insufficient data")
	ErrUnexpectedResponse = fmt.Errorf("unexpected model response")
	ErrUnsupportedFormat  = fmt.Errorf("unsupported document format")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")
	ErrEncryption         = fmt.Errorf("encryption operation failed")
	ErrDecryption         = fmt.Errorf("decryption failed")
	ErrAuditWrite         = fmt.Errorf("audit log write failed")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
	ErrCircuitOpen     = fmt.Errorf("circuit breaker open")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "ImageAnalyzer.Process")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen)
}

// ErrorCode is a machine-parseable error category surfaced in API responses
// and result metadata.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeLimitReached       ErrorCode = "LIMIT_REACHED"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodeSessionNotFound    ErrorCode = "SESSION_NOT_FOUND"
	CodeInvalidSessionID   ErrorCode = "INVALID_SESSION_ID"
	CodeImageQuality       ErrorCode = "IMAGE_QUALITY"
	CodeInsufficientData   ErrorCode = "INSUFFICIENT_DATA"
	CodeUnexpectedResponse ErrorCode = "UNEXPECTED_RESPONSE"
	CodeUnsupportedFormat  ErrorCode = "UNSUPPORTED_FORMAT"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeEncryption         ErrorCode = "ENCRYPTION"
	CodeDecryption         ErrorCode = "DECRYPTION"
	CodeAuditWrite         ErrorCode = "AUDIT_WRITE"
	CodeContextOverflow    ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:           CodeNotFound,
	ErrTimeout:            CodeTimeout,
	ErrLimitReached:       CodeLimitReached,
	ErrInvalidInput:       CodeInvalidInput,
	ErrProviderError:      CodeProviderError,
	ErrSessionNotFound:    CodeSessionNotFound,
	ErrInvalidSessionID:   CodeInvalidSessionID,
	ErrImageQuality:       CodeImageQuality,
	ErrInsufficientData:   CodeInsufficientData,
	ErrUnexpectedResponse: CodeUnexpectedResponse,
	ErrUnsupportedFormat:  CodeUnsupportedFormat,
	ErrConfigLoad:         CodeConfigLoad,
	ErrEncryption:         CodeEncryption,
	ErrDecryption:         CodeDecryption,
	ErrAuditWrite:         CodeAuditWrite,
	ErrContextOverflow:    CodeContextOverflow,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrCircuitOpen:        CodeCircuitOpen,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	// Specific sentinels before categories so that a chain wrapping both
	// resolves deterministically.
	for _, sentinel := range codeOrder {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	return CodeUnknown
}

var codeOrder = []error{
	ErrSessionNotFound, ErrInvalidSessionID, ErrImageQuality, ErrInsufficientData,
	ErrUnexpectedResponse, ErrUnsupportedFormat, ErrConfigLoad, ErrEncryption,
	ErrDecryption, ErrAuditWrite, ErrContextOverflow, ErrRateLimit, ErrAuthInvalid,
	ErrCircuitOpen,
	ErrNotFound, ErrTimeout, ErrLimitReached, ErrInvalidInput, ErrProviderError,
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
