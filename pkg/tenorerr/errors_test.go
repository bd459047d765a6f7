package tenorerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riverline-labs/tenor/pkg/tenorerr"
)

func TestKindOfUnwrapsThroughFmtErrorf(t *testing.T) {
	base := tenorerr.New(tenorerr.KindOverflow, "too many digits")
	wrapped := fmt.Errorf("evaluating rule: %w", base)

	kind, ok := tenorerr.KindOf(wrapped)
	require.True(t, ok)
	require.Equal(t, tenorerr.KindOverflow, kind)
}

func TestKindOfFalseForPlainError(t *testing.T) {
	_, ok := tenorerr.KindOf(errors.New("plain"))
	require.False(t, ok)
}

func TestIsMatchesByKindOnly(t *testing.T) {
	a := tenorerr.New(tenorerr.KindOverflow, "first overflow")
	b := tenorerr.New(tenorerr.KindOverflow, "different message, same kind")
	require.True(t, errors.Is(a, b))

	c := tenorerr.New(tenorerr.KindTypeError, "wrong kind")
	require.False(t, errors.Is(a, c))
}

func TestWrapPreservesUnderlyingError(t *testing.T) {
	underlying := errors.New("boom")
	wrapped := tenorerr.Wrap(tenorerr.KindAdapter, underlying, "fetch failed")
	require.ErrorIs(t, wrapped, underlying)
}

func TestWithContextAnnotatesWithoutChangingKind(t *testing.T) {
	err := tenorerr.New(tenorerr.KindFlowError, "step failed").WithFlow("flow-1", "step-2")
	require.Equal(t, "flow-1", err.FlowID)
	require.Equal(t, "step-2", err.StepID)
	kind, ok := tenorerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, tenorerr.KindFlowError, kind)
}

func TestExitCodeClassesBySection7Taxonomy(t *testing.T) {
	require.Equal(t, 2, tenorerr.ExitCode(tenorerr.KindDeserialize))
	require.Equal(t, 3, tenorerr.ExitCode(tenorerr.KindStateMismatch))
	require.Equal(t, 4, tenorerr.ExitCode(tenorerr.KindConcurrentConflict))
	require.Equal(t, 1, tenorerr.ExitCode(tenorerr.KindOverflow))
}
