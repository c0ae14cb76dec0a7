package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-ci/stagehand/fault"
)

func TestCodeSurvivesWrapping(t *testing.T) {
	inner := fault.New(fault.CodeTimeout, "step took too long")
	wrapped := fmt.Errorf("stage Test: %w", inner)

	assert.Equal(t, fault.CodeTimeout, fault.CodeOf(wrapped))
	assert.True(t, fault.Is(wrapped, fault.CodeTimeout))
	assert.False(t, fault.Is(wrapped, fault.CodeCancelled))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := fault.Wrap(cause, fault.CodeExecutorFault, "starting command")

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "EXECUTOR_FAULT")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, fault.Wrap(nil, fault.CodeUnknown, "ignored"))
}

func TestCodeOfUnclassified(t *testing.T) {
	assert.Equal(t, fault.CodeUnknown, fault.CodeOf(errors.New("plain")))
	assert.Equal(t, fault.Code(""), fault.CodeOf(nil))
}
