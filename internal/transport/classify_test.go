package transport

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/tillpoint/terminal-core/pkg/errors"
)

func TestClassifyDecline(t *testing.T) {
	err := Classify(&DeclineError{Reason: "insufficient funds"})
	require.NotNil(t, err)
	assert.Equal(t, pkgerrors.CodeDeclined, err.Code())
	assert.False(t, pkgerrors.IsRetryable(err), "declines are terminal")
}

func TestClassifyNetwork(t *testing.T) {
	cases := []error{
		syscall.ECONNREFUSED,
		context.DeadlineExceeded,
		fmt.Errorf("dial tcp: connection refused"),
		fmt.Errorf("read: i/o timeout"),
	}
	for _, cause := range cases {
		err := Classify(cause)
		require.NotNil(t, err, "%v", cause)
		assert.Equal(t, pkgerrors.CodeNetwork, err.Code(), "%v", cause)
		assert.True(t, pkgerrors.IsRetryable(err), "%v", cause)
	}
}

func TestClassifyUnknownIsInternal(t *testing.T) {
	err := Classify(errors.New("corrupted frame"))
	require.NotNil(t, err)
	assert.Equal(t, pkgerrors.CodeInternal, err.Code())
	assert.False(t, pkgerrors.IsRetryable(err))
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	original := pkgerrors.New(pkgerrors.CodeDevice, "pad jammed")
	assert.Equal(t, original, Classify(original))
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}
