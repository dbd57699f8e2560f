package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransientClassification(t *testing.T) {
	base := errors.New("connection reset")

	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsTransient(base))
	assert.False(t, IsTransient(ErrNotFound))
	assert.Nil(t, Transient(nil))
}

func TestTransientPreservesCause(t *testing.T) {
	base := errors.New("dial timeout")
	wrapped := fmt.Errorf("put failed: %w", Transient(base))

	assert.True(t, IsTransient(wrapped))
	assert.ErrorIs(t, wrapped, base)
}
