package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorMessage(t *testing.T) {
	e := New(CodeConfig, "bad value")
	assert.Equal(t, "INVALID_CONFIG: bad value", e.Error())

	w := Wrap(CodeCleanup, "release failed", fmt.Errorf("boom"))
	assert.Equal(t, "CLEANUP_FAILED: release failed (caused by: boom)", w.Error())
}

func TestAppErrorIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("initialize: %w", New(CodeAlreadyInitialized, "hasher stock"))
	assert.True(t, stderrors.Is(err, ErrAlreadyInitialized))
	assert.False(t, stderrors.Is(err, ErrStopped))
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("root")
	w := Wrap(CodeProtocol, "decode", cause)
	assert.True(t, stderrors.Is(w, cause))
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("miner: %w", Wrap(CodeConfig, "invalid pool url", fmt.Errorf("no host")))
	assert.Equal(t, CodeConfig, CodeOf(err))
	assert.Equal(t, "", CodeOf(fmt.Errorf("plain")))
	assert.Equal(t, "", CodeOf(nil))
}
