package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	e := NewError(TypeStorageFailed, "write failed", errors.New("connection refused"))
	assert.Equal(t, "storage_failed: write failed: connection refused", e.Error())

	e = NewInvalidState("unknown state parameter")
	assert.Equal(t, "invalid_state: unknown state parameter", e.Error())
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := NewStorageFailed("write failed", cause)
	require.ErrorIs(t, e, cause)
}

func TestIsType(t *testing.T) {
	e := NewTokenExchangeFailed("upstream returned 400", nil)
	assert.True(t, IsType(e, TypeTokenExchangeFailed))
	assert.False(t, IsType(e, TypeInvalidState))
	assert.False(t, IsType(errors.New("plain"), TypeTokenExchangeFailed))

	// Wrapped errors are still matched.
	wrapped := fmt.Errorf("handler: %w", e)
	assert.True(t, IsType(wrapped, TypeTokenExchangeFailed))
}

func TestDecryptionFailedCarriesNoCause(t *testing.T) {
	e := NewDecryptionFailed()
	assert.Nil(t, e.Cause)
	assert.Equal(t, "decryption_failed: decryption failed", e.Error())
}

func TestInvalidKeyLengthMessage(t *testing.T) {
	e := NewInvalidKeyLength(31)
	assert.Contains(t, e.Error(), "must be 32 bytes, got 31")
}
