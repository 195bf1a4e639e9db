package subproc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdoutAndStderr(t *testing.T) {
	res, err := Run(context.Background(), 0, "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	require.Equal(t, "out\n", string(res.Stdout))
	require.Equal(t, "err\n", string(res.Stderr))
	require.Equal(t, 0, res.ExitCode)
}

func TestRunNonZeroExit(t *testing.T) {
	_, err := Run(context.Background(), 0, "sh", "-c", "exit 3")
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 3, exitErr.Result.ExitCode)
}

func TestRunTimeout(t *testing.T) {
	_, err := Run(context.Background(), 20*time.Millisecond, "sh", "-c", "sleep 5")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestRunLargeOutputDoesNotDeadlock(t *testing.T) {
	res, err := Run(context.Background(), 2*time.Second, "sh", "-c", "yes x | head -c 2000000")
	require.NoError(t, err)
	require.Len(t, res.Stdout, 2000000)
}
