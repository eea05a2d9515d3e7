package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstarscape/starsync/errors"
)

func TestWebRTCBuilder_FailsNotImplemented(t *testing.T) {
	builder := NewWebRTCBuilder(nil)

	sess, err := builder.Build(newCaptureHandler())
	require.Error(t, err)
	assert.Nil(t, sess)
	assert.ErrorIs(t, err, errors.ErrNotImplemented)
	assert.True(t, errors.IsFatal(err))
}

func TestWebRTCBuilder_SingleUse(t *testing.T) {
	builder := NewWebRTCBuilder(nil)

	_, err := builder.Build(newCaptureHandler())
	assert.ErrorIs(t, err, errors.ErrNotImplemented)

	_, err = builder.Build(newCaptureHandler())
	assert.ErrorIs(t, err, errors.ErrBuilderConsumed)
}
