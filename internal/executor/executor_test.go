package executor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/galaxy-gateway/discord-bot-sub001/internal/plugin"
)

func testExecutor(allowed ...string) *Executor {
	return New(allowed, zap.NewNop())
}

func TestExecute_AllowListGate(t *testing.T) {
	e := testExecutor("echo")

	res, err := e.Execute(context.Background(), &plugin.ExecutionSpec{
		Command: "/bin/rm",
		Args:    []string{"-rf", "/tmp/whatever"},
	}, nil)

	require.Nil(t, res)
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
	assert.Contains(t, secErr.Error(), "not allow-listed")
}

func TestExecute_AllowListMatchesBaseName(t *testing.T) {
	e := testExecutor("echo")
	assert.True(t, e.Allowed("/bin/echo"))
	assert.True(t, e.Allowed("echo"))
	assert.False(t, e.Allowed("/bin/echoes"))
}

func TestExecute_EchoEndToEnd(t *testing.T) {
	e := testExecutor("echo")

	res, err := e.Execute(context.Background(), &plugin.ExecutionSpec{
		Command: "/bin/echo",
		Args:    []string{"${greeting}", "world"},
		Timeout: 10 * time.Second,
	}, map[string]string{"greeting": "hello"})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello world\n", res.Stdout)
	assert.False(t, res.TimedOut)
	assert.False(t, res.Truncated)
}

func TestValidateParams_Denylist(t *testing.T) {
	// Every denied character must be caught individually.
	for _, c := range []string{"|", ";", "$", "`", "(", ")", "{", "}", "<", ">", "\n", "\r", "\x00"} {
		err := ValidateParams(map[string]string{"p": "value" + c})
		var secErr *SecurityError
		require.ErrorAs(t, err, &secErr, "char %q must be denied", c)
		// The rejected value is never echoed back.
		assert.NotContains(t, secErr.Error(), "value")
	}

	assert.NoError(t, ValidateParams(map[string]string{"p": "plain-value_123.txt"}))
	assert.NoError(t, ValidateParams(nil))
}

func TestValidateParams_AmpersandURLException(t *testing.T) {
	assert.NoError(t, ValidateParams(map[string]string{
		"url": "https://example.com/watch?v=abc&t=30",
	}))
	assert.NoError(t, ValidateParams(map[string]string{
		"url": "http://example.com/a?b=1&c=2",
	}))

	// Ampersand outside a well-formed http(s) URL stays forbidden.
	for _, v := range []string{"a && b", "ftp://host/a&b", "just&some&text", "https://?a&b"} {
		assert.Error(t, ValidateParams(map[string]string{"p": v}), "value %q", v)
	}
}

func TestExecute_InjectionAttemptRefused(t *testing.T) {
	e := testExecutor("echo")

	res, err := e.Execute(context.Background(), &plugin.ExecutionSpec{
		Command: "/bin/echo",
		Args:    []string{"${msg}"},
	}, map[string]string{"msg": "hi; rm -rf /"})

	require.Nil(t, res)
	var secErr *SecurityError
	require.ErrorAs(t, err, &secErr)
}

func TestExecute_UnresolvedPlaceholderFailsClosed(t *testing.T) {
	e := testExecutor("echo")

	res, err := e.Execute(context.Background(), &plugin.ExecutionSpec{
		Command: "/bin/echo",
		Args:    []string{"-n", "${target}"},
	}, map[string]string{"other": "x"})

	require.Nil(t, res)
	var subErr *SubstitutionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, "target", subErr.Placeholder)
}

func TestExecute_NonZeroExit(t *testing.T) {
	e := testExecutor("sh")

	res, err := e.Execute(context.Background(), &plugin.ExecutionSpec{
		Command: "/bin/sh",
		Args:    []string{"-c", "echo oops >&2; exit 3"},
		Timeout: 10 * time.Second,
	}, nil)

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Stderr, "oops")
}

func TestExecute_Timeout(t *testing.T) {
	e := testExecutor("sleep")

	res, err := e.Execute(context.Background(), &plugin.ExecutionSpec{
		Command: "/bin/sleep",
		Args:    []string{"30"},
		Timeout: 100 * time.Millisecond,
	}, nil)

	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.TimedOut)
	assert.Equal(t, -1, res.ExitCode)
}

func TestExecute_OutputTruncation(t *testing.T) {
	e := testExecutor("sh")

	res, err := e.Execute(context.Background(), &plugin.ExecutionSpec{
		Command:        "/bin/sh",
		Args:           []string{"-c", "yes x | head -c 4096"},
		Timeout:        10 * time.Second,
		MaxOutputBytes: 512,
	}, nil)

	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.True(t, strings.HasSuffix(res.Stdout, truncationMarker))
	assert.Len(t, res.Stdout, 512+len(truncationMarker))
}

func TestSubstituteArgs(t *testing.T) {
	args, err := substituteArgs(
		[]string{"-i", "${input}", "--rate=${rate}", "fixed"},
		map[string]string{"input": "clip.mp4", "rate": "2"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"-i", "clip.mp4", "--rate=2", "fixed"}, args)
}
