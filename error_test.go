package cannode

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRecoverable(t *testing.T) {
	base := errors.New("boom")
	assert.True(t, IsRecoverable(base))
	assert.True(t, IsRecoverable(nil))
	assert.False(t, IsRecoverable(Unrecoverable(base)))
	assert.False(t, IsRecoverable(fmt.Errorf("wrapped: %w", Unrecoverable(base))))
	assert.ErrorIs(t, Unrecoverable(base), base)
	assert.Equal(t, "unrecoverable error", Unrecoverable(nil).Error())
}

func TestTypedErrors(t *testing.T) {
	be := &BusError{Op: "read", Err: ErrNoMessage}
	assert.Equal(t, "bus read: no message pending", be.Error())
	assert.ErrorIs(t, be, ErrNoMessage)

	de := &DisplayError{Op: "flush", Err: ErrClosed}
	assert.Equal(t, "display flush: closed", de.Error())
	assert.ErrorIs(t, de, ErrClosed)

	se := &StartupError{Component: "display", Err: de}
	assert.Equal(t, "startup display: display flush: closed", se.Error())
	var got *DisplayError
	assert.True(t, errors.As(se, &got))

	assert.Equal(t, "identifier 2048 exceeds 11-bit range (max 2047)", (&IdentifierRangeError{Value: 2048}).Error())
}
