package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
)

//go:embed manifest.cue
var manifestSchema string

// ValidationError lists every schema violation found in a manifest.
type ValidationError struct {
	File     string
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", e.File, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems, first: %s", e.File, len(e.Problems), e.Problems[0])
}

// Validate checks YAML manifest data against the embedded CUE schema.
func Validate(filename string, data []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(manifestSchema, cue.Filename("manifest.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}

	file, err := cueyaml.Extract(filename, data)
	if err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	doc := ctx.BuildFile(file)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Manifest"))
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		ve := &ValidationError{File: filename}
		for _, e := range cueerrors.Errors(err) {
			ve.Problems = append(ve.Problems, e.Error())
		}
		if len(ve.Problems) == 0 {
			ve.Problems = []string{err.Error()}
		}
		return ve
	}
	return nil
}
