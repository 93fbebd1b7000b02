// Package manifest handles flux.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/flux/compiler"
	"github.com/chazu/flux/vm"
)

// FileName is the name of the manifest file.
const FileName = "flux.toml"

// Manifest represents a flux.toml project configuration. The json tags name
// the fields for schema validation.
type Manifest struct {
	Program  Program  `toml:"program" json:"program"`
	Compiler Compiler `toml:"compiler" json:"compiler"`
	Executor Executor `toml:"executor" json:"executor"`
	History  History  `toml:"history" json:"history"`

	// Dir is the directory containing the flux.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Program names the program and its source file.
type Program struct {
	Name  string `toml:"name" json:"name"`
	Entry string `toml:"entry" json:"entry"`
}

// Compiler configures compilation.
type Compiler struct {
	Mode     string `toml:"mode" json:"mode"`
	Workers  int    `toml:"workers" json:"workers"`
	MaxDepth int    `toml:"max-depth" json:"max-depth"`
	MaxTrace int    `toml:"max-trace" json:"max-trace"`
}

// Executor configures the lanes and the buffer pool.
type Executor struct {
	Lanes       int   `toml:"lanes" json:"lanes"`
	StackDepth  int   `toml:"stack-depth" json:"stack-depth"`
	JumpDepth   int   `toml:"jump-depth" json:"jump-depth"`
	PrimaryLane int   `toml:"primary-lane" json:"primary-lane"`
	Buffers     []int `toml:"buffers" json:"buffers"`
}

// History configures the run history database. An empty path disables it.
type History struct {
	Path string `toml:"path" json:"path"`
}

// Default returns the manifest used when no flux.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults(toml.MetaData{})
	return m
}

// applyDefaults fills unset fields. Zero means unset except where md shows
// the key was written out: jump-depth = 0 is a valid inline-only setting.
func (m *Manifest) applyDefaults(md toml.MetaData) {
	if m.Program.Entry == "" {
		m.Program.Entry = "main.fx"
	}
	if m.Compiler.Mode == "" {
		m.Compiler.Mode = compiler.ModeInline.String()
	}
	if m.Compiler.Workers == 0 {
		m.Compiler.Workers = 1
	}
	if m.Compiler.MaxDepth == 0 {
		m.Compiler.MaxDepth = compiler.DefaultMaxDepth
	}
	if m.Compiler.MaxTrace == 0 {
		m.Compiler.MaxTrace = compiler.DefaultMaxTrace
	}
	if m.Executor.Lanes == 0 {
		m.Executor.Lanes = 1
	}
	if m.Executor.StackDepth == 0 {
		m.Executor.StackDepth = vm.DefaultStackDepth
	}
	if m.Executor.JumpDepth == 0 && !md.IsDefined("executor", "jump-depth") {
		m.Executor.JumpDepth = vm.DefaultJumpDepth
	}
	if m.Executor.Buffers == nil {
		m.Executor.Buffers = []int{}
	}
}

// Decode parses manifest text, applies defaults and validates the result.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	m.applyDefaults(md)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load parses a flux.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a flux.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// EntryPath returns the absolute path of the program source.
func (m *Manifest) EntryPath() string {
	if filepath.IsAbs(m.Program.Entry) {
		return m.Program.Entry
	}
	return filepath.Join(m.Dir, m.Program.Entry)
}

// HistoryPath returns the absolute path of the history database, or "" when
// history is disabled.
func (m *Manifest) HistoryPath() string {
	if m.History.Path == "" || filepath.IsAbs(m.History.Path) {
		return m.History.Path
	}
	return filepath.Join(m.Dir, m.History.Path)
}

// CompilerOptions converts the [compiler] table.
func (m *Manifest) CompilerOptions() (compiler.Options, error) {
	mode, err := compiler.ParseMode(m.Compiler.Mode)
	if err != nil {
		return compiler.Options{}, err
	}
	return compiler.Options{
		Mode:     mode,
		Workers:  m.Compiler.Workers,
		MaxDepth: m.Compiler.MaxDepth,
		MaxTrace: m.Compiler.MaxTrace,
	}, nil
}

// VMConfig converts the [executor] table.
func (m *Manifest) VMConfig() vm.Config {
	return vm.Config{
		Lanes:      m.Executor.Lanes,
		StackDepth: m.Executor.StackDepth,
		JumpDepth:  m.Executor.JumpDepth,
		Primary:    m.Executor.PrimaryLane,
		Buffers:    append([]int(nil), m.Executor.Buffers...),
	}
}
