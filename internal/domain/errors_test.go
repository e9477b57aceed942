package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("ImageAnalyzer.Process", ErrImageQuality, "score 0.30")
	want := "ImageAnalyzer.Process: score 0.30: image quality too low"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Orchestrator.Process", ErrInsufficientData, "")
	want := "Orchestrator.Process: insufficient data"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("SessionManager.Restore", ErrInvalidSessionID, "../x")
	if !errors.Is(err, ErrInvalidSessionID) {
		t.Error("errors.Is should match ErrInvalidSessionID")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := NewDomainError("Endpoint.Chat", ErrUnexpectedResponse, "number")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "Endpoint.Chat" {
		t.Errorf("Op = %q, want %q", de.Op, "Endpoint.Chat")
	}
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(ErrSessionNotFound))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeCircuitOpen, ErrorCodeOf(ErrCircuitOpen))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Store.Load", ErrSessionNotFound, "01HX")
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(err))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrUnexpectedResponse)
	assert.Equal(t, CodeUnexpectedResponse, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_SpecificBeforeCategory(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrProviderError, ErrRateLimit)
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(err))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Op", fmt.Errorf("custom"), "detail")
	assert.Equal(t, CodeUnknown, err.Code())
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
	assert.Len(t, codeOrder, len(errorCodeMap))
}

func TestWrapOp_Nil(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))
}

func TestWrapOp_Format(t *testing.T) {
	err := WrapOp("Session.Load", ErrSessionNotFound)
	assert.Equal(t, "Session.Load: session not found", err.Error())
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	assert.Equal(t, CodeSessionNotFound, ErrorCodeOf(err))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrRateLimit))
	assert.True(t, IsRetryableError(fmt.Errorf("x: %w", ErrCircuitOpen)))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
	assert.False(t, IsRetryableError(nil))
}
