package errors_test

import (
	stderrors "errors"
	"testing"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrBindFailed)
	assert.Equal(t, "Failed to bind datagram endpoint", err.Error())

	wrapped := errFactory.Wrap(errors.ErrBindFailed, stderrors.New("address in use"))
	assert.Equal(t, "Failed to bind datagram endpoint: address in use", wrapped.Error())

	withData := errFactory.WithData(errors.ErrInvalidProfile, []string{"normal", "burst"})
	assert.Equal(t, "Unknown stress profile: [normal burst]", withData.Error())
	assert.Equal(t, []string{"normal", "burst"}, withData.GetData())

	custom := err.WithMessage("custom")
	assert.Equal(t, "custom", custom.Error())
	assert.Equal(t, errors.ErrBindFailed, custom.Code())
}

func TestCodeOf(t *testing.T) {
	errFactory := errors.New()
	inner := errFactory.New(errors.ErrDecodeFailed)
	outer := errFactory.Wrap(errors.ErrReadFailed, inner)

	assert.Equal(t, errors.ErrReadFailed, errors.CodeOf(outer))
	assert.True(t, errors.HasCode(outer, errors.ErrDecodeFailed))
	assert.False(t, errors.HasCode(outer, errors.ErrSendFailed))
	assert.Equal(t, errors.ErrorCode(""), errors.CodeOf(stderrors.New("plain")))
}

func TestIsMatchesByCode(t *testing.T) {
	errFactory := errors.New()
	err := errFactory.Wrap(errors.ErrInvalidProfile, stderrors.New("bogus"))

	assert.True(t, errors.Is(err, errFactory.New(errors.ErrInvalidProfile)))
	assert.False(t, errors.Is(err, errFactory.New(errors.ErrBindFailed)))
}
