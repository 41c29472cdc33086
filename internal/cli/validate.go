package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/assad-lz/ansetl/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool          `json:"valid"`
	Problems []string      `json:"problems,omitempty"`
	Registry string        `json:"registry,omitempty"`
	Sources  []SourceCheck `json:"sources,omitempty"`
}

// SourceCheck reports one resolved ledger file.
type SourceCheck struct {
	Path         string   `json:"path"`
	NumberFormat string   `json:"number_format"`
	Dialects     []string `json:"dialects"`
	Exists       bool     `json:"exists"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a run manifest without running it",
		Long: `Validate a run manifest against its schema and list the ledger files
it resolves to.

Missing files are reported but do not fail validation: a run skips them.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	man, err := config.Load(path)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return outputValidationErrors(formatter, verr.Problems)
		}
		if errors.Is(err, os.ErrNotExist) {
			return outputValidateError(formatter, ErrCodeGeneric, fmt.Sprintf("manifest not found: %s", path))
		}
		return outputValidationErrors(formatter, []string{err.Error()})
	}

	if _, err := man.RegistryDialects(); err != nil {
		return outputValidationErrors(formatter, []string{"registry: " + err.Error()})
	}
	resolved, err := man.ResolveSources()
	if err != nil {
		return outputValidationErrors(formatter, []string{err.Error()})
	}

	result := ValidationResult{Valid: true, Registry: man.Registry.Path}
	for _, rs := range resolved {
		check := SourceCheck{Path: rs.Path, NumberFormat: rs.Format.String()}
		for _, d := range rs.Dialects {
			check.Dialects = append(check.Dialects, d.String())
		}
		if _, err := os.Stat(rs.Path); err == nil {
			check.Exists = true
		} else {
			formatter.VerboseLog("%s: %v", rs.Path, err)
		}
		result.Sources = append(result.Sources, check)
	}

	return outputValidateSuccess(formatter, result)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintln(formatter.Writer, "✓ Manifest valid")
	fmt.Fprintf(formatter.Writer, "  registry: %s\n", result.Registry)
	for _, s := range result.Sources {
		mark := "ok"
		if !s.Exists {
			mark = "missing"
		}
		fmt.Fprintf(formatter.Writer, "  source:   %s (%s, %s)\n", s.Path, s.NumberFormat, mark)
	}
	return nil
}

// outputValidateError outputs an error that prevented validation.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	// Unreadable input is a command-level error (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every schema problem found.
func outputValidationErrors(formatter *OutputFormatter, problems []string) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Problems: problems},
			Error: &CLIError{
				Code:    ErrCodeInvalidManifest,
				Message: problems[0],
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d problem(s)", len(problems)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, p := range problems {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", ErrCodeInvalidManifest, p)
	}

	// Validation failures = exit code 1
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d problem(s)", len(problems)))
}
