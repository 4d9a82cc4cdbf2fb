package models

// StepKind tags one entry in a node invocation's step log.
type StepKind string

const (
	StepPrepare   StepKind = "prepare"
	StepTool      StepKind = "tool"
	StepText      StepKind = "text"
	StepReasoning StepKind = "reasoning"
	StepPlan      StepKind = "plan"
	StepError     StepKind = "error"
	StepLearning  StepKind = "learning"
	StepTerminate StepKind = "terminate"
	StepDebug     StepKind = "debug"
)

// ToolStep carries the name, arguments and return value of one tool call.
type ToolStep struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result"`
}

// TerminateStep carries the final summary and return value of an invocation.
type TerminateStep struct {
	Summary     string `json:"summary"`
	ReturnValue string `json:"return_value"`
}

// StepEntry is one round of a node invocation. Exactly one of Tool and Final
// is set, depending on Kind; every other kind carries only Text.
type StepEntry struct {
	Kind  StepKind       `json:"kind"`
	Text  string         `json:"text,omitempty"`
	Tool  *ToolStep      `json:"tool,omitempty"`
	Final *TerminateStep `json:"final,omitempty"`
}

// StepLog is the ordered, immutable record of one node invocation. It is the
// only input to memory extraction and fitness attribution.
type StepLog []StepEntry

// HasActionable reports whether the log contains at least one entry that
// represents work done, as opposed to bookkeeping or failures.
func (l StepLog) HasActionable() bool {
	for _, e := range l {
		switch e.Kind {
		case StepTool, StepText, StepReasoning:
			return true
		}
	}
	return false
}

// Errors returns the error entries of the log.
func (l StepLog) Errors() []StepEntry {
	var out []StepEntry
	for _, e := range l {
		if e.Kind == StepError {
			out = append(out, e)
		}
	}
	return out
}
