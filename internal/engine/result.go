package engine

import "github.com/jrgochan/labctl/internal/state"

// Action is what the engine did to one module during an operation.
type Action string

const (
	ActionApplied    Action = "applied"
	ActionUnchanged  Action = "unchanged"
	ActionPlanned    Action = "planned"
	ActionFailed     Action = "failed"
	ActionRolledBack Action = "rolled-back"
	ActionSkipped    Action = "skipped"
	ActionRemoved    Action = "removed"
	ActionAbsent     Action = "absent"
)

// ModuleOutcome records what happened to one module of the plan.
type ModuleOutcome struct {
	Module   string       `json:"module"`
	Action   Action       `json:"action"`
	Status   state.Status `json:"status"`
	Revision int64        `json:"revision"`
	Detail   string       `json:"detail,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Result reports an operation over every module of its plan, in plan
// order. A failed operation still lists the modules that were never
// attempted, so callers can show the whole picture.
type Result struct {
	Operation string          `json:"operation"`
	Plan      []string        `json:"plan"`
	Outcomes  []ModuleOutcome `json:"outcomes"`

	failure *ModuleError
}

func newResult(operation string, plan []string) *Result {
	return &Result{Operation: operation, Plan: plan}
}

func (r *Result) record(o ModuleOutcome) {
	r.Outcomes = append(r.Outcomes, o)
}

func (r *Result) update(module string, fn func(*ModuleOutcome)) {
	for i := range r.Outcomes {
		if r.Outcomes[i].Module == module {
			fn(&r.Outcomes[i])
			return
		}
	}
}

// Failure returns the error that stopped the operation, or nil.
func (r *Result) Failure() *ModuleError { return r.failure }

// Err returns the failure as a plain error, avoiding a typed-nil
// interface when the operation succeeded.
func (r *Result) Err() error {
	if r.failure == nil {
		return nil
	}
	return r.failure
}
