package model

// RuleKind tags a transition rule as a deterministic field predicate or a
// semantic condition delegated to the reasoner. Deterministic rules are
// cheap and evaluated first; at most one semantic check runs per turn.
type RuleKind string

const (
	RuleFieldSet    RuleKind = "when_field_set"
	RuleFieldsSet   RuleKind = "when_fields_set"
	RuleFieldEquals RuleKind = "when_field_equals"
	RuleSemantic    RuleKind = "semantic"
)

// Deterministic reports whether the rule is a pure predicate over the
// field map.
func (k RuleKind) Deterministic() bool {
	return k == RuleFieldSet || k == RuleFieldsSet || k == RuleFieldEquals
}

// TransitionRule is one declarative edge out of a goal. Exactly one of
// the predicate fields is used depending on Kind.
type TransitionRule struct {
	Kind          RuleKind `yaml:"kind" json:"kind"`
	Field         string   `yaml:"field,omitempty" json:"field,omitempty"`
	Fields        []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Equals        string   `yaml:"equals,omitempty" json:"equals,omitempty"`
	Condition     string   `yaml:"condition,omitempty" json:"condition,omitempty"`
	MinConfidence float64  `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
	Target        string   `yaml:"target" json:"target"`
}

// AdvanceMode controls whether the orchestrator keeps processing after a
// transition into the goal (auto) or waits for the next user message (step).
type AdvanceMode string

const (
	AdvanceAuto AdvanceMode = "auto"
	AdvanceStep AdvanceMode = "step"
)

// ConditionalField is mandatory only while another field holds a given value.
type ConditionalField struct {
	Field     string `yaml:"field" json:"field"`
	WhenField string `yaml:"when_field" json:"when_field"`
	Equals    string `yaml:"equals" json:"equals"`
}

// ActionBinding declares the business tool to invoke when the goal is
// entered, with argument names bound to field paths.
type ActionBinding struct {
	Tool string            `yaml:"tool" json:"tool"`
	Args map[string]string `yaml:"args" json:"args"` // arg name -> field path
}

// GoalDefinition is one named conversation phase. Loaded once from
// configuration and never mutated at runtime.
type GoalDefinition struct {
	ID                string             `yaml:"id" json:"id"`
	Description       string             `yaml:"description" json:"description"`
	Tactics           string             `yaml:"tactics,omitempty" json:"tactics,omitempty"`
	Advance           AdvanceMode        `yaml:"advance,omitempty" json:"advance,omitempty"`
	MandatoryFields   []string           `yaml:"mandatory_fields,omitempty" json:"mandatory_fields,omitempty"`
	ConditionalFields []ConditionalField `yaml:"conditional_fields,omitempty" json:"conditional_fields,omitempty"`
	Rules             []TransitionRule   `yaml:"transitions,omitempty" json:"transitions,omitempty"`
	MaxTurns          int                `yaml:"max_turns,omitempty" json:"max_turns,omitempty"`
	Fallback          string             `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Terminal          bool               `yaml:"terminal,omitempty" json:"terminal,omitempty"`
	Action            *ActionBinding     `yaml:"action,omitempty" json:"action,omitempty"`
}

// RequiredFields resolves the mandatory field paths for the goal given
// the current field map, including conditional requirements whose
// trigger currently holds.
func (g *GoalDefinition) RequiredFields(fields FieldMap) []string {
	out := make([]string, 0, len(g.MandatoryFields)+len(g.ConditionalFields))
	out = append(out, g.MandatoryFields...)
	for _, c := range g.ConditionalFields {
		if fields.Get(c.WhenField) == c.Equals {
			out = append(out, c.Field)
		}
	}
	return out
}

// AutoAdvance reports whether the orchestrator should continue processing
// after entering this goal without waiting for user input.
func (g *GoalDefinition) AutoAdvance() bool {
	return g.Advance == AdvanceAuto
}

// TransitionDecision is the ephemeral per-turn outcome of the evaluator.
// It is logged for audit and not persisted.
type TransitionDecision struct {
	Transition bool
	Target     string
	Reason     string
	Missing    []string
	Forced     bool // loop guard fired
}
