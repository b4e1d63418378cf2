package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadError records one declaration that was refused at load time.
type LoadError struct {
	File string
	Err  error
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

// Loader reads plugin declarations from disk and resolves them.
type Loader struct {
	logger *zap.Logger
}

// NewLoader creates a new declaration loader.
func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load reads declarations from path, which may be a directory of per-plugin
// files or a single monolithic file. Failed declarations are collected and
// reported per file; they never abort loading of the others and are never
// served.
func (l *Loader) Load(path string) ([]*PluginDefinition, []LoadError, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat plugin path: %w", err)
	}
	if info.IsDir() {
		return l.loadDir(path)
	}
	return l.loadFile(path)
}

// loadDir loads every yaml file in the directory in filename-sorted order,
// one declaration per file, for deterministic startup.
func (l *Loader) loadDir(dir string) ([]*PluginDefinition, []LoadError, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	var (
		defs     []*PluginDefinition
		loadErrs []LoadError
		seen     = map[string]string{}
	)
	for _, name := range files {
		full := filepath.Join(dir, name)
		data, err := os.ReadFile(full)
		if err != nil {
			loadErrs = append(loadErrs, LoadError{File: name, Err: err})
			continue
		}
		var raw RawDeclaration
		if err := yaml.Unmarshal(data, &raw); err != nil {
			loadErrs = append(loadErrs, LoadError{File: name, Err: fmt.Errorf("yaml parse failed: %w", err)})
			continue
		}
		def, err := Resolve(&raw)
		if err != nil {
			loadErrs = append(loadErrs, LoadError{File: name, Err: err})
			continue
		}
		if prev, dup := seen[def.Name]; dup {
			loadErrs = append(loadErrs, LoadError{File: name, Err: fmt.Errorf("plugin %q already declared in %s", def.Name, prev)})
			continue
		}
		seen[def.Name] = name
		defs = append(defs, def)
	}

	for _, le := range loadErrs {
		l.logger.Error("Plugin declaration refused",
			zap.String("file", le.File),
			zap.Error(le.Err),
		)
	}
	l.logger.Info("Plugin declarations loaded",
		zap.String("dir", dir),
		zap.Int("loaded", len(defs)),
		zap.Int("refused", len(loadErrs)),
	)
	return defs, loadErrs, nil
}

// monolithicFile is the shape of a single file carrying many declarations.
type monolithicFile struct {
	Plugins []RawDeclaration `yaml:"plugins"`
}

// loadFile loads a monolithic declaration file with a top-level plugins list.
func (l *Loader) loadFile(path string) ([]*PluginDefinition, []LoadError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read plugin file: %w", err)
	}
	var mono monolithicFile
	if err := yaml.Unmarshal(data, &mono); err != nil {
		return nil, nil, fmt.Errorf("yaml parse failed: %w", err)
	}
	if len(mono.Plugins) == 0 {
		return nil, nil, fmt.Errorf("no plugins declared in %s", path)
	}

	file := filepath.Base(path)
	var (
		defs     []*PluginDefinition
		loadErrs []LoadError
		seen     = map[string]bool{}
	)
	for i := range mono.Plugins {
		raw := &mono.Plugins[i]
		def, err := Resolve(raw)
		if err != nil {
			ref := file
			if raw.Name != "" {
				ref = file + "#" + raw.Name
			}
			loadErrs = append(loadErrs, LoadError{File: ref, Err: err})
			continue
		}
		if seen[def.Name] {
			loadErrs = append(loadErrs, LoadError{File: file + "#" + def.Name, Err: fmt.Errorf("duplicate plugin %q", def.Name)})
			continue
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}

	for _, le := range loadErrs {
		l.logger.Error("Plugin declaration refused",
			zap.String("file", le.File),
			zap.Error(le.Err),
		)
	}
	l.logger.Info("Plugin declarations loaded",
		zap.String("file", path),
		zap.Int("loaded", len(defs)),
		zap.Int("refused", len(loadErrs)),
	)
	return defs, loadErrs, nil
}

// JoinLoadErrors renders collected load errors as one operator-facing string.
func JoinLoadErrors(errs []LoadError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}
