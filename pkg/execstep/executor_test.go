package execstep

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_SuccessCapturesOutput(t *testing.T) {
	result, err := Run(t.Context(), Spec{
		Name:    "echo",
		Binary:  "sh",
		Args:    []string{"-c", "echo hello; echo world 1>&2"},
		Timeout: time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Contains(t, result.Stdout, "hello")
	require.Contains(t, result.Stderr, "world")
}

func TestRun_NonZeroExitIsStepFailed(t *testing.T) {
	_, err := Run(t.Context(), Spec{
		Name:    "fail",
		Binary:  "sh",
		Args:    []string{"-c", "echo boom 1>&2; exit 7"},
		Timeout: time.Second,
	})
	require.Error(t, err)
	var failed *StepFailed
	require.ErrorAs(t, err, &failed)
	require.Equal(t, 7, failed.ExitCode)
	require.Contains(t, failed.Stderr, "boom")
}

func TestRun_DeadlineExceededIsStepTimeout(t *testing.T) {
	_, err := Run(t.Context(), Spec{
		Name:      "slow",
		Binary:    "sh",
		Args:      []string{"-c", "sleep 5"},
		Timeout:   50 * time.Millisecond,
		KillGrace: 10 * time.Millisecond,
	})
	require.Error(t, err)
	var timeout *StepTimeout
	require.ErrorAs(t, err, &timeout)
	require.True(t, timeout.Temporary())
}

func TestRun_ParentContextCancellationIsStepCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := Run(ctx, Spec{
		Name:      "slow",
		Binary:    "sh",
		Args:      []string{"-c", "sleep 5"},
		Timeout:   time.Minute,
		KillGrace: 10 * time.Millisecond,
	})
	require.Error(t, err)
	var timeout *StepTimeout
	require.False(t, errors.As(err, &timeout), "a caller-cancelled context is not a stage timeout")
	var canceled *StepCanceled
	require.ErrorAs(t, err, &canceled, "a caller-cancelled context must surface as StepCanceled, not StepFailed")
}

func TestOutputCapTruncatesChattyProcess(t *testing.T) {
	result, err := Run(t.Context(), Spec{
		Name:    "chatty",
		Binary:  "sh",
		Args:    []string{"-c", "yes | head -c 200000"},
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	require.LessOrEqual(t, len(result.Stdout), outputCap)
}
