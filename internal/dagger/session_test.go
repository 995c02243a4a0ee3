package dagger

import (
	"errors"
	"testing"

	sdk "dagger.io/dagger"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestExecFailure(t *testing.T) {
	execErr := &sdk.ExecError{
		Cmd:      []string{"python", "-m", "pip", "install", "-e", "."},
		ExitCode: 1,
		Stdout:   "Obtaining file:///app\n",
		Stderr:   "ERROR: No matching distribution found for nonexistent-package-xyz\n",
	}

	res, ok := execFailure(errors.Join(errors.New("input: container.from.withWorkdir.withExec.stdout"), execErr))
	require.True(t, ok)
	require.Equal(t, 1, res.ExitCode)
	require.Equal(t, "Obtaining file:///app\n", res.Stdout)
	require.Equal(t, "ERROR: No matching distribution found for nonexistent-package-xyz\n", res.Stderr)
}

func TestExecFailureOutputMentioningExitCode(t *testing.T) {
	execErr := &sdk.ExecError{
		ExitCode: 2,
		Stdout:   "exit code: 0\nStderr:\nnot really\n",
		Stderr:   "mkdir: permission denied",
	}

	res, ok := execFailure(execErr)
	require.True(t, ok)
	require.Equal(t, 2, res.ExitCode)
	require.Equal(t, "exit code: 0\nStderr:\nnot really\n", res.Stdout)
	require.Equal(t, "mkdir: permission denied", res.Stderr)
}

func TestExecFailureUnrelated(t *testing.T) {
	_, ok := execFailure(errors.New("process did not complete successfully: exit code: 1"))
	require.False(t, ok)
}

func TestRefDigest(t *testing.T) {
	d := digest.FromString("python")
	require.Equal(t, d, refDigest("docker.io/library/python:3.11-slim@"+d.String()))
	require.Equal(t, digest.Digest(""), refDigest("docker.io/library/python:3.11-slim"))
	require.Equal(t, digest.Digest(""), refDigest("python@sha256:nothex"))
}

func TestClassifyPull(t *testing.T) {
	err := classifyPull("python:3.99-slim", errors.New("docker.io/library/python:3.99-slim: not found"))
	require.ErrorIs(t, err, pipeline.ErrImageNotFound)

	err = classifyPull("python:3.11-slim", errors.New("dial tcp: lookup registry-1.docker.io: i/o timeout"))
	require.ErrorIs(t, err, pipeline.ErrNetwork)
}
