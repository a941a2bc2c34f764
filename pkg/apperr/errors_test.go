package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("loading seed: %w", NotFound("product", 42))

	assert.True(t, IsNotFound(err))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsValidation(err))
	assert.Equal(t, "loading seed: product 42 not found", err.Error())
}

func TestValidationErrorCollectsFields(t *testing.T) {
	v := NewValidationError()
	assert.NoError(t, v.OrNil())

	v.Add("limit", "must be between 1 and 50")
	v.Add("limit", "ignored second message")
	v.Add("page", "must be at least 1")

	err := v.OrNil()
	assert.True(t, IsValidation(err))
	assert.Equal(t, "must be between 1 and 50", v.Fields["limit"])
	assert.Equal(t, "validation failed: limit: must be between 1 and 50; page: must be at least 1", err.Error())
}
