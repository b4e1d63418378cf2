package plugin

import (
	"time"
)

// Type selects the preset a declaration inherits its execution defaults from.
type Type string

const (
	TypeShell     Type = "shell"
	TypeAPI       Type = "api"
	TypeContainer Type = "container"
	TypeVirtual   Type = "virtual"
)

// OptionType is the declared value type of a command option.
type OptionType string

const (
	OptionString  OptionType = "string"
	OptionInteger OptionType = "integer"
	OptionNumber  OptionType = "number"
	OptionBoolean OptionType = "boolean"
)

// PluginDefinition is a fully resolved, validated plugin. Immutable once
// returned by the resolver; loaded at startup and re-resolved only on restart.
type PluginDefinition struct {
	Name        string
	Description string
	Enabled     bool
	Version     string
	Type        Type
	Command     CommandSpec
	Execution   ExecutionSpec
	Security    SecurityPolicy
	Output      OutputPolicy
	Playlist    *PlaylistPolicy
}

// Executable reports whether the definition runs an external process.
// Virtual plugins are resolved for bookkeeping but never reach the executor.
func (d *PluginDefinition) Executable() bool {
	return d.Type != TypeVirtual
}

// CommandSpec is the invocation surface exposed to callers.
type CommandSpec struct {
	Name        string
	Description string
	Options     []CommandOption
}

// Option returns the option with the given name, if declared.
func (c *CommandSpec) Option(name string) (*CommandOption, bool) {
	for i := range c.Options {
		if c.Options[i].Name == name {
			return &c.Options[i], true
		}
	}
	return nil, false
}

// CommandOption is one caller-suppliable parameter.
type CommandOption struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
	Default     string
	Choices     []string
	Validation  *ValidationRule
}

// ValidationRule constrains a caller-supplied option value. Pattern is
// guaranteed to compile by the resolver.
type ValidationRule struct {
	Pattern   string
	MinLength int
	MaxLength int
	MinValue  *float64
	MaxValue  *float64
}

// ExecutionSpec describes how the external process is actually run.
type ExecutionSpec struct {
	Command        string
	Args           []string
	Timeout        time.Duration
	MaxOutputBytes int64
	WorkingDir     string
	Env            map[string]string
	Chunking       *ChunkingSpec
}

// ChunkingSpec splits long-running work into a one-time download followed by
// per-chunk processing at increasing offsets. Chunk argument templates may use
// the derived placeholders ${media_file}, ${chunk_start} and ${chunk_duration}.
type ChunkingSpec struct {
	DownloadCommand string
	DownloadArgs    []string
	ChunkCommand    string
	ChunkArgs       []string
	ChunkDuration   time.Duration
	ChunkTimeout    time.Duration
	MaxChunks       int
}

// SecurityPolicy gates who may invoke the plugin and how often.
type SecurityPolicy struct {
	AllowedUsers []string
	DeniedUsers  []string
	AllowedRoles []string
	DeniedRoles  []string
	Cooldown     time.Duration
	GuildOnly    bool
}

// OutputPolicy controls how captured output is surfaced.
type OutputPolicy struct {
	Thread      bool
	InlineLimit int
	Archive     bool
}

// PlaylistPolicy enables multi-item sequential runs for the plugin.
type PlaylistPolicy struct {
	Enabled   bool
	MaxItems  int
	ItemDelay time.Duration
}
