package harness

import "github.com/roach88/undertow/internal/jval"

// TraceEvent records one executed step and, when the step names a ref,
// the record's status right after it.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Op     string `json:"op"`
	Ref    string `json:"ref,omitempty"`
	Status string `json:"status,omitempty"`
}

// FinalRecord is the terminal state of one ref-bound record.
type FinalRecord struct {
	Status string      `json:"status"`
	Data   jval.Object `json:"data"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every step with post-step record status, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion failure messages. Empty when Pass is true.
	Errors []string `json:"errors,omitempty"`

	// SourceLog is the source's call log, one line per call.
	SourceLog []string `json:"source_log"`

	// Final maps each ref to its record's terminal status and data.
	Final map[string]FinalRecord `json:"final"`
}

// NewResult creates an empty passing result.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Final: make(map[string]FinalRecord),
	}
}

// AddError records an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
