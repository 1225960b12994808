package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	_ "github.com/ollama/tfbind/native/reference"
	"github.com/ollama/tfbind/tf"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TFBIND_DEBUG", "")

	var out, stderr bytes.Buffer
	cli := NewCLI()
	cli.SetOut(&out)
	cli.SetErr(&stderr)
	cli.SetArgs(append(args, "--native", "reference"))

	err := cli.ExecuteContext(t.Context())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, "tfbind version is")
	require.Contains(t, out, "reference runtime version is")
}

func TestEnv(t *testing.T) {
	t.Setenv("TFBIND_INTRA_OP_THREADS", "3")

	out, err := execute(t, "env")
	require.NoError(t, err)

	var found bool
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "TFBIND_INTRA_OP_THREADS" {
			found = true
			require.Equal(t, "3", fields[1])
		}
	}
	require.True(t, found, "TFBIND_INTRA_OP_THREADS missing in:\n%s", out)
}

func TestSelftest(t *testing.T) {
	out, err := execute(t, "selftest", "--runs", "32", "--parallel", "4", "--handles")
	require.NoError(t, err)
	require.Contains(t, out, "32 runs")
	require.Contains(t, out, "session")
	require.Contains(t, out, "no leaked handles")
}

func TestTrain(t *testing.T) {
	out, err := execute(t, "train", "--steps", "3")
	require.NoError(t, err)

	got := strings.Split(strings.TrimSpace(out), "\n")
	want := []string{
		"step 1: x = 2.4",
		"step 2: x = 1.92",
		"step 3: x = 1.536",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTrainAdadelta(t *testing.T) {
	out, err := execute(t, "train", "--steps", "2", "--optimizer", "adadelta")
	require.NoError(t, err)
	require.Contains(t, out, "step 2: x = 2.9999")
}

func TestTrainUnknownOptimizer(t *testing.T) {
	_, err := execute(t, "train", "--optimizer", "adam")
	require.ErrorContains(t, err, `unknown optimizer "adam"`)
}

func TestExitCode(t *testing.T) {
	cases := map[string]struct {
		err  error
		want int
	}{
		"nil":      {nil, 0},
		"canceled": {fmt.Errorf("step 1: %w", context.Canceled), 124},
		"deadline": {&tf.NativeError{Code: tf.DeadlineExceeded}, 124},
		"other":    {errors.New("boom"), 1},
	}
	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
