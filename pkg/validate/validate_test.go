package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-discovery/backend/pkg/apperr"
)

type sample struct {
	Name   string   `json:"name" validate:"required,max=5"`
	Count  int      `json:"count" validate:"gte=1,lte=10"`
	Kind   string   `json:"kind" validate:"omitempty,oneof=a b"`
	Weight *float64 `json:"weight,omitempty" validate:"omitempty,gt=0"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	w := -1.0
	err := Struct(sample{Name: "toolong", Count: 11, Kind: "c", Weight: &w})

	var v *apperr.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, map[string]string{
		"name":   "must be at most 5 characters",
		"count":  "must be at most 10",
		"kind":   "must be one of: a, b",
		"weight": "must be greater than 0",
	}, v.Fields)
}

func TestStructRequired(t *testing.T) {
	err := Struct(sample{Count: 1})

	var v *apperr.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, "is required", v.Fields["name"])
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(sample{Name: "ok", Count: 3, Kind: "a"}))
}

func TestStructRejectsNonStruct(t *testing.T) {
	err := Struct(42)
	require.Error(t, err)
	assert.False(t, apperr.IsValidation(err))
}
