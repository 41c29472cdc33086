package harness

import "github.com/assad-lz/ansetl/internal/pipeline"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall scenario success.
	// True if the run ended as expected and every assertion held.
	Pass bool `json:"pass"`

	// Run is the pipeline result. It is partial when the run failed.
	Run *pipeline.Result `json:"-"`

	// RunErr is the error the pipeline returned, if any.
	RunErr error `json:"-"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
