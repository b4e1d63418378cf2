package plugin

import (
	"fmt"
	"regexp"
	"time"
)

// RawDeclaration mirrors one authored declaration file before resolution.
// Durations are strings ("90s", "5m") parsed at resolve time.
type RawDeclaration struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Type        string        `yaml:"type"`
	Version     string        `yaml:"version"`
	Enabled     *bool         `yaml:"enabled"`
	Script      string        `yaml:"script"`
	Command     *RawCommand   `yaml:"command"`
	Execution   *RawExecution `yaml:"execution"`
	Security    *RawSecurity  `yaml:"security"`
	Output      *RawOutput    `yaml:"output"`
	Playlist    *RawPlaylist  `yaml:"playlist"`
}

type RawCommand struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Options     []RawOption `yaml:"options"`
}

type RawOption struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Type        string         `yaml:"type"`
	Required    bool           `yaml:"required"`
	Default     string         `yaml:"default"`
	Choices     []string       `yaml:"choices"`
	Validation  *RawValidation `yaml:"validation"`
}

type RawValidation struct {
	Pattern   string   `yaml:"pattern"`
	MinLength int      `yaml:"min_length"`
	MaxLength int      `yaml:"max_length"`
	MinValue  *float64 `yaml:"min_value"`
	MaxValue  *float64 `yaml:"max_value"`
}

type RawExecution struct {
	Command        string            `yaml:"command"`
	Args           []string          `yaml:"args"`
	Timeout        string            `yaml:"timeout"`
	MaxOutputBytes int64             `yaml:"max_output_bytes"`
	WorkingDir     string            `yaml:"working_dir"`
	Env            map[string]string `yaml:"env"`
	Chunking       *RawChunking      `yaml:"chunking"`
}

type RawChunking struct {
	DownloadCommand string   `yaml:"download_command"`
	DownloadArgs    []string `yaml:"download_args"`
	ChunkCommand    string   `yaml:"chunk_command"`
	ChunkArgs       []string `yaml:"chunk_args"`
	ChunkDuration   string   `yaml:"chunk_duration"`
	ChunkTimeout    string   `yaml:"chunk_timeout"`
	MaxChunks       int      `yaml:"max_chunks"`
}

type RawSecurity struct {
	AllowedUsers []string `yaml:"allowed_users"`
	DeniedUsers  []string `yaml:"denied_users"`
	AllowedRoles []string `yaml:"allowed_roles"`
	DeniedRoles  []string `yaml:"denied_roles"`
	Cooldown     string   `yaml:"cooldown"`
	GuildOnly    bool     `yaml:"guild_only"`
}

type RawOutput struct {
	Thread      *bool `yaml:"thread"`
	InlineLimit int   `yaml:"inline_limit"`
	Archive     bool  `yaml:"archive"`
}

type RawPlaylist struct {
	Enabled   bool   `yaml:"enabled"`
	MaxItems  int    `yaml:"max_items"`
	ItemDelay string `yaml:"item_delay"`
}

// ValidationError marks a declaration that failed resolve-time validation.
// It never surfaces to end users; the owning plugin is refused at load time.
type ValidationError struct {
	Plugin string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Plugin == "" {
		return fmt.Sprintf("invalid declaration: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid declaration %q: %s: %s", e.Plugin, e.Field, e.Reason)
}

func invalid(plugin, field, format string, args ...interface{}) error {
	return &ValidationError{Plugin: plugin, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// preset holds the per-type defaults a terse declaration inherits.
type preset struct {
	command        string
	timeout        time.Duration
	maxOutputBytes int64
	thread         bool
	inlineLimit    int
}

var presets = map[Type]preset{
	TypeShell:     {command: "/bin/bash", timeout: 60 * time.Second, maxOutputBytes: 64 << 10, thread: false, inlineLimit: 1900},
	TypeAPI:       {command: "curl", timeout: 30 * time.Second, maxOutputBytes: 256 << 10, thread: false, inlineLimit: 1900},
	TypeContainer: {command: "docker", timeout: 300 * time.Second, maxOutputBytes: 1 << 20, thread: true, inlineLimit: 1900},
	TypeVirtual:   {timeout: 30 * time.Second, maxOutputBytes: 64 << 10, thread: false, inlineLimit: 1900},
}

var nameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,31}$`)

const maxDescriptionLen = 100

// Resolve turns a terse declaration plus its type preset into a fully
// populated definition. All validation happens here, not at use time;
// resolving the same declaration twice yields identical definitions.
func Resolve(raw *RawDeclaration) (*PluginDefinition, error) {
	if !nameRe.MatchString(raw.Name) {
		return nil, invalid(raw.Name, "name", "must match %s", nameRe.String())
	}
	if len(raw.Description) > maxDescriptionLen {
		return nil, invalid(raw.Name, "description", "exceeds %d characters", maxDescriptionLen)
	}

	typ := Type(raw.Type)
	if typ == "" {
		typ = TypeShell
	}
	p, ok := presets[typ]
	if !ok {
		return nil, invalid(raw.Name, "type", "unknown type %q", raw.Type)
	}

	def := &PluginDefinition{
		Name:        raw.Name,
		Description: raw.Description,
		Enabled:     raw.Enabled == nil || *raw.Enabled,
		Version:     raw.Version,
		Type:        typ,
	}
	if def.Version == "" {
		def.Version = "1.0.0"
	}

	if err := resolveCommand(def, raw); err != nil {
		return nil, err
	}
	if err := resolveExecution(def, raw, p); err != nil {
		return nil, err
	}
	if err := resolveSecurity(def, raw); err != nil {
		return nil, err
	}
	resolveOutput(def, raw, p)
	if err := resolvePlaylist(def, raw); err != nil {
		return nil, err
	}
	return def, nil
}

func resolveCommand(def *PluginDefinition, raw *RawDeclaration) error {
	cmd := CommandSpec{Name: def.Name, Description: def.Description}
	if raw.Command != nil {
		if raw.Command.Name != "" {
			cmd.Name = raw.Command.Name
		}
		if raw.Command.Description != "" {
			cmd.Description = raw.Command.Description
		}
		for _, ro := range raw.Command.Options {
			opt, err := resolveOption(def.Name, ro)
			if err != nil {
				return err
			}
			if _, dup := cmd.Option(opt.Name); dup {
				return invalid(def.Name, "command.options", "duplicate option %q", opt.Name)
			}
			cmd.Options = append(cmd.Options, opt)
		}
	}
	if !nameRe.MatchString(cmd.Name) {
		return invalid(def.Name, "command.name", "must match %s", nameRe.String())
	}
	if len(cmd.Description) > maxDescriptionLen {
		return invalid(def.Name, "command.description", "exceeds %d characters", maxDescriptionLen)
	}
	def.Command = cmd
	return nil
}

func resolveOption(pluginName string, ro RawOption) (CommandOption, error) {
	opt := CommandOption{
		Name:        ro.Name,
		Description: ro.Description,
		Required:    ro.Required,
		Default:     ro.Default,
		Choices:     ro.Choices,
	}
	field := "command.options." + ro.Name
	if !nameRe.MatchString(ro.Name) {
		return opt, invalid(pluginName, field, "option name must match %s", nameRe.String())
	}
	if len(ro.Description) > maxDescriptionLen {
		return opt, invalid(pluginName, field, "description exceeds %d characters", maxDescriptionLen)
	}
	switch OptionType(ro.Type) {
	case OptionString, OptionInteger, OptionNumber, OptionBoolean:
		opt.Type = OptionType(ro.Type)
	case "":
		opt.Type = OptionString
	default:
		return opt, invalid(pluginName, field, "unknown option type %q", ro.Type)
	}
	if len(opt.Choices) > 0 && opt.Default != "" && !contains(opt.Choices, opt.Default) {
		return opt, invalid(pluginName, field, "default %q is not one of the declared choices", opt.Default)
	}
	if ro.Validation != nil {
		v := &ValidationRule{
			Pattern:   ro.Validation.Pattern,
			MinLength: ro.Validation.MinLength,
			MaxLength: ro.Validation.MaxLength,
			MinValue:  ro.Validation.MinValue,
			MaxValue:  ro.Validation.MaxValue,
		}
		if v.Pattern != "" {
			if _, err := regexp.Compile(v.Pattern); err != nil {
				return opt, invalid(pluginName, field, "pattern does not compile: %v", err)
			}
		}
		if v.MaxLength > 0 && v.MinLength > v.MaxLength {
			return opt, invalid(pluginName, field, "min_length exceeds max_length")
		}
		if v.MinValue != nil && v.MaxValue != nil && *v.MinValue > *v.MaxValue {
			return opt, invalid(pluginName, field, "min_value exceeds max_value")
		}
		opt.Validation = v
	}
	return opt, nil
}

func resolveExecution(def *PluginDefinition, raw *RawDeclaration, p preset) error {
	exec := ExecutionSpec{
		Command:        p.command,
		Timeout:        p.timeout,
		MaxOutputBytes: p.maxOutputBytes,
	}

	// Script sugar expands to "interpreter -c <script>" before any
	// parameter substitution exists; script text is trusted authored
	// content and may freely use shell metacharacters.
	if raw.Script != "" {
		if def.Type != TypeShell {
			return invalid(def.Name, "script", "script sugar requires type shell, got %q", def.Type)
		}
		if raw.Execution != nil && (raw.Execution.Command != "" || len(raw.Execution.Args) > 0) {
			return invalid(def.Name, "script", "script and execution.command/args are mutually exclusive")
		}
		exec.Args = []string{"-c", raw.Script}
	}

	if raw.Execution != nil {
		re := raw.Execution
		if re.Command != "" {
			exec.Command = re.Command
		}
		if len(re.Args) > 0 {
			exec.Args = re.Args
		}
		if re.Timeout != "" {
			d, err := time.ParseDuration(re.Timeout)
			if err != nil || d <= 0 {
				return invalid(def.Name, "execution.timeout", "invalid duration %q", re.Timeout)
			}
			exec.Timeout = d
		}
		if re.MaxOutputBytes > 0 {
			exec.MaxOutputBytes = re.MaxOutputBytes
		}
		exec.WorkingDir = re.WorkingDir
		if len(re.Env) > 0 {
			exec.Env = re.Env
		}
		if re.Chunking != nil {
			ch, err := resolveChunking(def.Name, re.Chunking, exec.Timeout)
			if err != nil {
				return err
			}
			exec.Chunking = ch
		}
	}

	if def.Type == TypeVirtual {
		if exec.Command != "" {
			return invalid(def.Name, "execution.command", "virtual plugins must not declare a command")
		}
	} else if exec.Command == "" {
		return invalid(def.Name, "execution.command", "required")
	}
	def.Execution = exec
	return nil
}

func resolveChunking(pluginName string, rc *RawChunking, fallbackTimeout time.Duration) (*ChunkingSpec, error) {
	if rc.DownloadCommand == "" || rc.ChunkCommand == "" {
		return nil, invalid(pluginName, "execution.chunking", "download_command and chunk_command are required")
	}
	ch := &ChunkingSpec{
		DownloadCommand: rc.DownloadCommand,
		DownloadArgs:    rc.DownloadArgs,
		ChunkCommand:    rc.ChunkCommand,
		ChunkArgs:       rc.ChunkArgs,
		ChunkDuration:   5 * time.Minute,
		ChunkTimeout:    fallbackTimeout,
		MaxChunks:       48,
	}
	if rc.ChunkDuration != "" {
		d, err := time.ParseDuration(rc.ChunkDuration)
		if err != nil || d <= 0 {
			return nil, invalid(pluginName, "execution.chunking.chunk_duration", "invalid duration %q", rc.ChunkDuration)
		}
		ch.ChunkDuration = d
	}
	if rc.ChunkTimeout != "" {
		d, err := time.ParseDuration(rc.ChunkTimeout)
		if err != nil || d <= 0 {
			return nil, invalid(pluginName, "execution.chunking.chunk_timeout", "invalid duration %q", rc.ChunkTimeout)
		}
		ch.ChunkTimeout = d
	}
	if rc.MaxChunks > 0 {
		ch.MaxChunks = rc.MaxChunks
	}
	return ch, nil
}

func resolveSecurity(def *PluginDefinition, raw *RawDeclaration) error {
	if raw.Security == nil {
		return nil
	}
	rs := raw.Security
	sec := SecurityPolicy{
		AllowedUsers: rs.AllowedUsers,
		DeniedUsers:  rs.DeniedUsers,
		AllowedRoles: rs.AllowedRoles,
		DeniedRoles:  rs.DeniedRoles,
		GuildOnly:    rs.GuildOnly,
	}
	if rs.Cooldown != "" {
		d, err := time.ParseDuration(rs.Cooldown)
		if err != nil || d < 0 {
			return invalid(def.Name, "security.cooldown", "invalid duration %q", rs.Cooldown)
		}
		sec.Cooldown = d
	}
	def.Security = sec
	return nil
}

func resolveOutput(def *PluginDefinition, raw *RawDeclaration, p preset) {
	out := OutputPolicy{Thread: p.thread, InlineLimit: p.inlineLimit}
	if raw.Output != nil {
		if raw.Output.Thread != nil {
			out.Thread = *raw.Output.Thread
		}
		if raw.Output.InlineLimit > 0 {
			out.InlineLimit = raw.Output.InlineLimit
		}
		out.Archive = raw.Output.Archive
	}
	def.Output = out
}

func resolvePlaylist(def *PluginDefinition, raw *RawDeclaration) error {
	if raw.Playlist == nil {
		return nil
	}
	pl := &PlaylistPolicy{
		Enabled:   raw.Playlist.Enabled,
		MaxItems:  raw.Playlist.MaxItems,
		ItemDelay: 2 * time.Second,
	}
	if pl.MaxItems <= 0 {
		pl.MaxItems = 25
	}
	if raw.Playlist.ItemDelay != "" {
		d, err := time.ParseDuration(raw.Playlist.ItemDelay)
		if err != nil || d < 0 {
			return invalid(def.Name, "playlist.item_delay", "invalid duration %q", raw.Playlist.ItemDelay)
		}
		pl.ItemDelay = d
	}
	def.Playlist = pl
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
