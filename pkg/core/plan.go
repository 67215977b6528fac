package core

// ResultRef marks a task parameter whose value comes from an earlier task's
// result. Field selects a key of a map result; empty means the whole value.
type ResultRef struct {
	TaskID string `json:"$task"`
	Field  string `json:"$field,omitempty"`
}

// ExecutionPlan is the ordered collection of tasks produced for one request.
type ExecutionPlan struct {
	RunID  string  `json:"run_id,omitempty"`
	Intent *Intent `json:"intent,omitempty"`
	Tasks  []*Task `json:"tasks"`
}

// NewExecutionPlan builds a plan over tasks in the given order.
func NewExecutionPlan(runID string, intent *Intent, tasks ...*Task) *ExecutionPlan {
	return &ExecutionPlan{RunID: runID, Intent: intent, Tasks: tasks}
}

// Len returns the number of tasks.
func (p *ExecutionPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Tasks)
}

// Task returns the task with id.
func (p *ExecutionPlan) Task(id string) (*Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// Terminal reports whether every task reached a terminal state.
func (p *ExecutionPlan) Terminal() bool {
	for _, t := range p.Tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// Counts returns the number of completed and failed tasks.
func (p *ExecutionPlan) Counts() (completed, failed int) {
	for _, t := range p.Tasks {
		switch t.Status {
		case TaskStatusCompleted:
			completed++
		case TaskStatusFailed:
			failed++
		}
	}
	return completed, failed
}

// HasDependencies reports whether any task reads another task's result.
func (p *ExecutionPlan) HasDependencies() bool {
	for _, t := range p.Tasks {
		if len(t.DependsOn) > 0 {
			return true
		}
	}
	return false
}
