package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	base := New(CodeRaster, "empty raster window")
	wrapped := fmt.Errorf("failed to read patch: %w", base)

	assert.Equal(t, CodeRaster, CodeOf(wrapped))
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("plain")))
	assert.True(t, HasCode(wrapped, CodeRaster))
	assert.False(t, HasCode(wrapped, CodeSRInference))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("exit status 1")
	err := Wrap(CodeSRInference, cause, "command failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "command failed: exit status 1", err.Error())
}
