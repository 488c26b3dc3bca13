package errors_test

import (
	"fmt"
	"io/fs"
	"testing"

	"codeberg.org/mutker/edgegov/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	f := errors.New()

	err := f.New(errors.ErrInvalidMemoryBand)
	assert.Equal(t, "memory_low must be below memory_high", err.Error())

	err = f.WithData(errors.ErrInvalidMemoryBand, "low=6000 high=3000")
	assert.Equal(t, "memory_low must be below memory_high: low=6000 high=3000", err.Error())

	err = f.Wrap(errors.ErrSetGov, fs.ErrPermission)
	assert.Contains(t, err.Error(), "permission denied")
	assert.True(t, errors.Is(err, fs.ErrPermission))
}

func TestUnknownCodeFallsBackToCode(t *testing.T) {
	err := errors.New().New(errors.ErrorCode("custom_code"))
	assert.Equal(t, "custom_code", err.Error())
}

func TestHasCode(t *testing.T) {
	f := errors.New()
	inner := f.Wrap(errors.ErrSetGov, fs.ErrPermission)
	outer := f.Wrap(errors.ErrInitApp, inner)

	assert.True(t, errors.HasCode(outer, errors.ErrInitApp))
	assert.True(t, errors.HasCode(outer, errors.ErrSetGov))
	assert.False(t, errors.HasCode(outer, errors.ErrDropCache))
	assert.True(t, errors.HasCode(fmt.Errorf("ctx: %w", inner), errors.ErrSetGov))
	assert.False(t, errors.HasCode(nil, errors.ErrSetGov))
}
