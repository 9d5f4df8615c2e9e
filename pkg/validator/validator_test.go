package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seekInput struct {
	Position float64 `json:"position" validate:"gte=0"`
}

type renameInput struct {
	Username string `json:"username" validate:"required,min=1,max=8"`
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	_, ok := v.Validate(seekInput{Position: 12})
	assert.True(t, ok)

	errs, ok := v.Validate(seekInput{Position: -1})
	require.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "position", errs[0].Field)
	assert.Equal(t, "GTE", errs[0].Code)

	errs, ok = v.Validate(renameInput{Username: "a-very-long-name"})
	require.False(t, ok)
	assert.Equal(t, "username must not exceed 8 characters", errs[0].Message)

	errs, ok = v.Validate(renameInput{})
	require.False(t, ok)
	assert.Equal(t, "REQUIRED", errs[0].Code)
}
