package protocol

import (
	"errors"
	"testing"

	"github.com/cruciblehq/devimg/internal/config"
	"github.com/cruciblehq/devimg/internal/crex"
	"github.com/cruciblehq/devimg/internal/pipeline"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(CmdBuild, &BuildRequest{Context: "/src/app", Config: config.Default(), NoCache: true})
	require.NoError(t, err)

	env, payload, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, CmdBuild, env.Command)

	req, err := DecodePayload[BuildRequest](payload)
	require.NoError(t, err)
	require.Equal(t, "/src/app", req.Context)
	require.True(t, req.NoCache)
	require.Equal(t, config.DefaultBase, req.Config.Base)
	require.Equal(t, config.Default().Timeouts, req.Config.Timeouts)
}

func TestEncodeNilPayload(t *testing.T) {
	data, err := Encode(CmdShutdown, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"command":"shutdown"}`, string(data))

	_, payload, err := Decode(data)
	require.NoError(t, err)

	v, err := DecodePayload[StatusResult](payload)
	require.NoError(t, err)
	require.Equal(t, &StatusResult{}, v)
}

func TestDecodeRejects(t *testing.T) {
	for _, in := range []string{`not json`, `{}`, `{"payload":{}}`} {
		_, _, err := Decode([]byte(in))
		require.ErrorIs(t, err, ErrProtocol, in)
	}
}

func TestErrorResultRoundTrip(t *testing.T) {
	cause := &pipeline.StepError{
		Step:  pipeline.StepInstall,
		State: pipeline.StateSourceStaged,
		Err:   crex.Wrapf(pipeline.ErrDependencyResolution, "no matching distribution"),
	}

	res := NewErrorResult(cause)
	require.Equal(t, "dependency-resolution", res.Kind)
	require.Equal(t, pipeline.StepInstall, res.Step)
	require.Equal(t, pipeline.StateSourceStaged, res.State)

	err := res.Err()
	require.ErrorIs(t, err, pipeline.ErrDependencyResolution)
	require.Contains(t, err.Error(), "no matching distribution")
}

func TestErrorKindUnknown(t *testing.T) {
	require.Empty(t, ErrorKind(errors.New("boom")))

	err := (&ErrorResult{Message: "boom"}).Err()
	require.EqualError(t, err, "boom")
}
