package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeDecl(t *testing.T, dir, file, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
}

func TestLoad_DirectorySortedAndCollected(t *testing.T) {
	dir := t.TempDir()
	writeDecl(t, dir, "20-beta.yaml", "name: beta\nscript: \"true\"\n")
	writeDecl(t, dir, "10-alpha.yaml", "name: alpha\nscript: \"true\"\n")
	writeDecl(t, dir, "30-broken.yaml", "name: NOPE\nscript: \"true\"\n")
	writeDecl(t, dir, "40-garbage.yaml", "name: [unterminated\n")
	writeDecl(t, dir, "notes.txt", "not a declaration")

	defs, loadErrs, err := NewLoader(zap.NewNop()).Load(dir)
	require.NoError(t, err)

	// Filename order, not declaration order, decides load order.
	require.Len(t, defs, 2)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "beta", defs[1].Name)

	// Both failures are reported; neither aborted the rest.
	require.Len(t, loadErrs, 2)
	assert.Equal(t, "30-broken.yaml", loadErrs[0].File)
	assert.Equal(t, "40-garbage.yaml", loadErrs[1].File)
}

func TestLoad_DirectoryDuplicateName(t *testing.T) {
	dir := t.TempDir()
	writeDecl(t, dir, "a.yaml", "name: dupe\nscript: \"true\"\n")
	writeDecl(t, dir, "b.yaml", "name: dupe\nscript: \"true\"\n")

	defs, loadErrs, err := NewLoader(zap.NewNop()).Load(dir)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Len(t, loadErrs, 1)
	assert.Equal(t, "b.yaml", loadErrs[0].File)
	assert.Contains(t, loadErrs[0].Err.Error(), "already declared in a.yaml")
}

func TestLoad_MonolithicFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.yaml")
	content := `plugins:
  - name: first
    script: "echo one"
  - name: BAD NAME
    script: "echo two"
  - name: third
    type: api
  - name: first
    script: "echo again"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	defs, loadErrs, err := NewLoader(zap.NewNop()).Load(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "first", defs[0].Name)
	assert.Equal(t, "third", defs[1].Name)

	require.Len(t, loadErrs, 2)
	assert.Contains(t, loadErrs[1].Err.Error(), "duplicate plugin")
}

func TestLoad_MonolithicFileEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plugins: []\n"), 0o644))

	_, _, err := NewLoader(zap.NewNop()).Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingPath(t *testing.T) {
	_, _, err := NewLoader(zap.NewNop()).Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestLoad_FullDeclaration(t *testing.T) {
	dir := t.TempDir()
	writeDecl(t, dir, "clip.yaml", `name: clip
description: grab a clip from a stream
type: shell
script: "yt-dlp --max-downloads 1 ${url}"
command:
  name: clip
  description: download one clip
  options:
    - name: url
      type: string
      required: true
      validation:
        pattern: "^https?://"
        max_length: 400
security:
  cooldown: 30s
  guild_only: true
  allowed_roles: ["dj"]
output:
  archive: true
  inline_limit: 800
playlist:
  enabled: true
  max_items: 10
  item_delay: 3s
`)

	defs, loadErrs, err := NewLoader(zap.NewNop()).Load(dir)
	require.NoError(t, err)
	require.Empty(t, loadErrs)
	require.Len(t, defs, 1)

	def := defs[0]
	assert.True(t, def.Security.GuildOnly)
	assert.Equal(t, []string{"dj"}, def.Security.AllowedRoles)
	opt, ok := def.Command.Option("url")
	require.True(t, ok)
	require.NotNil(t, opt.Validation)
	assert.Equal(t, "^https?://", opt.Validation.Pattern)
	require.NotNil(t, def.Playlist)
	assert.Equal(t, 10, def.Playlist.MaxItems)
}
