// Package config loads the run manifest: which registry and ledger files to
// read, how each one is encoded, and where results go.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/assad-lz/ansetl/internal/classify"
	"github.com/assad-lz/ansetl/internal/source"
)

// Manifest is the decoded run manifest.
type Manifest struct {
	Registry RegistrySpec `yaml:"registry"`
	Sources  []SourceSpec `yaml:"sources"`
	Keywords []string     `yaml:"keywords"`
	Output   OutputSpec   `yaml:"output"`
	Store    StoreSpec    `yaml:"store"`
}

// RegistrySpec locates the operator registry file.
type RegistrySpec struct {
	Path     string        `yaml:"path"`
	Dialects []DialectSpec `yaml:"dialects"`
}

// SourceSpec locates one or more ledger files. Path may be a glob.
type SourceSpec struct {
	Path         string        `yaml:"path"`
	NumberFormat string        `yaml:"number_format"`
	Dialects     []DialectSpec `yaml:"dialects"`
}

// DialectSpec is one encoding and delimiter pair to try.
type DialectSpec struct {
	Encoding  string `yaml:"encoding"`
	Delimiter string `yaml:"delimiter"`
}

// OutputSpec says where artifacts are written.
type OutputSpec struct {
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"`
}

// StoreSpec names the optional databases reloaded after a run.
type StoreSpec struct {
	SQLite      string `yaml:"sqlite"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ResolvedSource is a single ledger file with its declared read settings.
type ResolvedSource struct {
	Path     string
	Format   classify.NumberFormat
	Dialects []source.Dialect
}

// Load reads, validates and decodes a manifest. Relative paths in the
// manifest resolve against the manifest's directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	m.resolve(filepath.Dir(path))
	return m, nil
}

// Parse validates data against the manifest schema and decodes it.
// Unknown keys are rejected.
func Parse(filename string, data []byte) (*Manifest, error) {
	if err := Validate(filename, data); err != nil {
		return nil, err
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

func (m *Manifest) resolve(dir string) {
	join := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	m.Registry.Path = join(m.Registry.Path)
	for i := range m.Sources {
		m.Sources[i].Path = join(m.Sources[i].Path)
	}
	m.Output.Dir = join(m.Output.Dir)
	m.Store.SQLite = join(m.Store.SQLite)
}

// RegistryDialects returns the registry dialect list, or the defaults.
func (m *Manifest) RegistryDialects() ([]source.Dialect, error) {
	return dialects(m.Registry.Dialects)
}

// ResolveSources expands globs into individual files, in manifest order then
// lexical order within a glob. A path matched twice is kept once. A literal
// path that does not exist is kept so the run can report it as skipped.
func (m *Manifest) ResolveSources() ([]ResolvedSource, error) {
	var out []ResolvedSource
	seen := make(map[string]struct{})
	for _, s := range m.Sources {
		format, err := classify.ParseNumberFormat(s.NumberFormat)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", s.Path, err)
		}
		ds, err := dialects(s.Dialects)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", s.Path, err)
		}

		paths := []string{s.Path}
		if hasMeta(s.Path) {
			paths, err = filepath.Glob(s.Path)
			if err != nil {
				return nil, fmt.Errorf("expand %s: %w", s.Path, err)
			}
		}
		for _, p := range paths {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, ResolvedSource{Path: p, Format: format, Dialects: ds})
		}
	}
	return out, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, `*?[`)
}

func dialects(specs []DialectSpec) ([]source.Dialect, error) {
	if len(specs) == 0 {
		return source.DefaultDialects, nil
	}
	out := make([]source.Dialect, 0, len(specs))
	for _, d := range specs {
		enc := source.Encoding(strings.ToLower(d.Encoding))
		if enc != source.UTF8 && enc != source.Latin1 {
			return nil, fmt.Errorf("unknown encoding %q", d.Encoding)
		}
		r, size := utf8.DecodeRuneInString(d.Delimiter)
		if size == 0 || size != len(d.Delimiter) {
			return nil, fmt.Errorf("delimiter must be one character, got %q", d.Delimiter)
		}
		out = append(out, source.Dialect{Encoding: enc, Delimiter: r})
	}
	return out, nil
}
