package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_ShellPresetDefaults(t *testing.T) {
	def, err := Resolve(&RawDeclaration{Name: "uptime_check", Script: "uptime"})
	require.NoError(t, err)

	assert.Equal(t, TypeShell, def.Type)
	assert.True(t, def.Enabled)
	assert.Equal(t, "1.0.0", def.Version)
	assert.Equal(t, "/bin/bash", def.Execution.Command)
	assert.Equal(t, []string{"-c", "uptime"}, def.Execution.Args)
	assert.Equal(t, 60*time.Second, def.Execution.Timeout)
	assert.Equal(t, int64(64<<10), def.Execution.MaxOutputBytes)
	assert.Equal(t, 1900, def.Output.InlineLimit)
	assert.False(t, def.Output.Thread)
	// Command surface defaults to the plugin's own name.
	assert.Equal(t, "uptime_check", def.Command.Name)
}

func TestResolve_TypePresets(t *testing.T) {
	api, err := Resolve(&RawDeclaration{Name: "weather", Type: "api"})
	require.NoError(t, err)
	assert.Equal(t, "curl", api.Execution.Command)
	assert.Equal(t, 30*time.Second, api.Execution.Timeout)

	container, err := Resolve(&RawDeclaration{Name: "sandbox", Type: "container"})
	require.NoError(t, err)
	assert.Equal(t, "docker", container.Execution.Command)
	assert.Equal(t, 300*time.Second, container.Execution.Timeout)
	assert.True(t, container.Output.Thread)

	virtual, err := Resolve(&RawDeclaration{Name: "help_menu", Type: "virtual"})
	require.NoError(t, err)
	assert.Empty(t, virtual.Execution.Command)
	assert.False(t, virtual.Executable())
}

func TestResolve_NameCharset(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"backup", true},
		{"_internal", true},
		{"disk_usage_2", true},
		{"Backup", false},
		{"2fast", false},
		{"has-dash", false},
		{"has space", false},
		{"", false},
		{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false}, // 33 chars
	}
	for _, tc := range cases {
		_, err := Resolve(&RawDeclaration{Name: tc.name, Script: "true"})
		if tc.ok {
			assert.NoError(t, err, "name %q should resolve", tc.name)
		} else {
			assert.Error(t, err, "name %q should be rejected", tc.name)
		}
	}
}

func TestResolve_DescriptionTooLong(t *testing.T) {
	long := make([]byte, maxDescriptionLen+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err := Resolve(&RawDeclaration{Name: "verbose", Description: string(long), Script: "true"})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "description", verr.Field)
}

func TestResolve_UnknownType(t *testing.T) {
	_, err := Resolve(&RawDeclaration{Name: "oddball", Type: "lambda"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}

func TestResolve_ScriptSugarExclusivity(t *testing.T) {
	_, err := Resolve(&RawDeclaration{
		Name:      "clash",
		Script:    "echo hi",
		Execution: &RawExecution{Command: "/usr/bin/env"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")

	_, err = Resolve(&RawDeclaration{Name: "wrong_type", Type: "api", Script: "echo hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires type shell")
}

func TestResolve_ExplicitExecutionOverridesPreset(t *testing.T) {
	def, err := Resolve(&RawDeclaration{
		Name: "pinger",
		Execution: &RawExecution{
			Command:        "/usr/bin/ping",
			Args:           []string{"-c", "3", "${host}"},
			Timeout:        "90s",
			MaxOutputBytes: 1024,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/ping", def.Execution.Command)
	assert.Equal(t, 90*time.Second, def.Execution.Timeout)
	assert.Equal(t, int64(1024), def.Execution.MaxOutputBytes)
}

func TestResolve_BadDurations(t *testing.T) {
	_, err := Resolve(&RawDeclaration{
		Name:      "slow",
		Execution: &RawExecution{Command: "/bin/true", Timeout: "soon"},
	})
	assert.Error(t, err)

	_, err = Resolve(&RawDeclaration{
		Name:      "negative",
		Execution: &RawExecution{Command: "/bin/true", Timeout: "-5s"},
	})
	assert.Error(t, err)

	_, err = Resolve(&RawDeclaration{
		Name:     "cooling",
		Script:   "true",
		Security: &RawSecurity{Cooldown: "a while"},
	})
	assert.Error(t, err)
}

func TestResolve_VirtualMustNotDeclareCommand(t *testing.T) {
	_, err := Resolve(&RawDeclaration{
		Name:      "menu",
		Type:      "virtual",
		Execution: &RawExecution{Command: "/bin/true"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "virtual plugins must not declare a command")
}

func TestResolve_OptionValidation(t *testing.T) {
	t.Run("bad pattern rejected at resolve time", func(t *testing.T) {
		_, err := Resolve(&RawDeclaration{
			Name:   "grepper",
			Script: "true",
			Command: &RawCommand{Options: []RawOption{{
				Name:       "query",
				Validation: &RawValidation{Pattern: "["},
			}}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pattern does not compile")
	})

	t.Run("duplicate options rejected", func(t *testing.T) {
		_, err := Resolve(&RawDeclaration{
			Name:   "doubled",
			Script: "true",
			Command: &RawCommand{Options: []RawOption{
				{Name: "target"},
				{Name: "target"},
			}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate option")
	})

	t.Run("default must be a declared choice", func(t *testing.T) {
		_, err := Resolve(&RawDeclaration{
			Name:   "picky",
			Script: "true",
			Command: &RawCommand{Options: []RawOption{{
				Name:    "mode",
				Default: "turbo",
				Choices: []string{"slow", "fast"},
			}}},
		})
		require.Error(t, err)
	})

	t.Run("unknown option type", func(t *testing.T) {
		_, err := Resolve(&RawDeclaration{
			Name:   "typed",
			Script: "true",
			Command: &RawCommand{Options: []RawOption{{
				Name: "weird",
				Type: "timestamp",
			}}},
		})
		require.Error(t, err)
	})
}

func TestResolve_Idempotent(t *testing.T) {
	min, max := 1.0, 10.0
	raw := &RawDeclaration{
		Name:        "transcode",
		Description: "re-encode a clip",
		Type:        "shell",
		Script:      "ffmpeg -i ${input} out.mp4",
		Command: &RawCommand{Options: []RawOption{{
			Name:       "input",
			Type:       "string",
			Required:   true,
			Validation: &RawValidation{Pattern: `^[\w./-]+$`, MinLength: 1, MaxLength: 128},
		}, {
			Name:       "rate",
			Type:       "number",
			Validation: &RawValidation{MinValue: &min, MaxValue: &max},
		}}},
		Security: &RawSecurity{Cooldown: "10s", GuildOnly: true},
		Output:   &RawOutput{InlineLimit: 500, Archive: true},
		Playlist: &RawPlaylist{Enabled: true, MaxItems: 5, ItemDelay: "1s"},
	}

	first, err := Resolve(raw)
	require.NoError(t, err)
	second, err := Resolve(raw)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolve_PlaylistDefaults(t *testing.T) {
	def, err := Resolve(&RawDeclaration{
		Name:     "queue_it",
		Script:   "true",
		Playlist: &RawPlaylist{Enabled: true},
	})
	require.NoError(t, err)
	require.NotNil(t, def.Playlist)
	assert.Equal(t, 25, def.Playlist.MaxItems)
	assert.Equal(t, 2*time.Second, def.Playlist.ItemDelay)
}

func TestResolve_DisabledStaysDisabled(t *testing.T) {
	off := false
	def, err := Resolve(&RawDeclaration{Name: "dormant", Script: "true", Enabled: &off})
	require.NoError(t, err)
	assert.False(t, def.Enabled)
}
