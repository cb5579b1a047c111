// Package goals loads the declarative goal configuration and validates it
// at startup. The registry is immutable after load and safe for
// unsynchronized concurrent reads.
package goals

import (
	_ "embed"
	"os"
	"strings"

	"github.com/pmo-platform/chatcore/internal/agent/model"
	errx "github.com/pmo-platform/chatcore/internal/core/error"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
	"gopkg.in/yaml.v3"
)

//go:embed config/default_goals.yaml
var defaultGoalsYAML []byte

// DefaultSemanticConfidence applies to semantic rules that do not declare
// their own threshold.
const DefaultSemanticConfidence = 0.6

type fileConfig struct {
	DefaultGoal string                 `yaml:"default_goal"`
	Goals       []model.GoalDefinition `yaml:"goals"`
}

// Registry is the validated, immutable goal table.
type Registry struct {
	goals       map[string]*model.GoalDefinition
	order       []string
	defaultGoal string
}

// Load reads a goal configuration from path, or the embedded default
// schema when path is empty.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultGoalsYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errx.InvalidConfig("read goal config %s: %v", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML goal configuration, failing fast
// with ErrInvalidConfig naming any dangling reference.
func Parse(data []byte) (*Registry, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errx.InvalidConfig("parse goal config: %v", err)
	}
	if len(cfg.Goals) == 0 {
		return nil, errx.InvalidConfig("no goals defined")
	}

	r := &Registry{
		goals:       make(map[string]*model.GoalDefinition, len(cfg.Goals)),
		defaultGoal: cfg.DefaultGoal,
	}

	for i := range cfg.Goals {
		g := cfg.Goals[i]
		if strings.TrimSpace(g.ID) == "" {
			return nil, errx.InvalidConfig("goal at index %d has no id", i)
		}
		if _, dup := r.goals[g.ID]; dup {
			return nil, errx.InvalidConfig("duplicate goal id %q", g.ID)
		}
		if g.Advance == "" {
			g.Advance = model.AdvanceStep
		}
		if g.Advance != model.AdvanceAuto && g.Advance != model.AdvanceStep {
			return nil, errx.InvalidConfig("goal %q: unknown advance mode %q", g.ID, g.Advance)
		}
		r.goals[g.ID] = &g
		r.order = append(r.order, g.ID)
	}

	if r.defaultGoal == "" {
		r.defaultGoal = r.order[0]
	}
	if _, ok := r.goals[r.defaultGoal]; !ok {
		return nil, errx.InvalidConfig("default goal %q is not defined", r.defaultGoal)
	}

	for _, id := range r.order {
		if err := r.validateGoal(r.goals[id]); err != nil {
			return nil, err
		}
	}

	logx.Debug().Int("goals", len(r.order)).Str("default_goal", r.defaultGoal).Msg("goal registry loaded")
	return r, nil
}

func (r *Registry) validateGoal(g *model.GoalDefinition) error {
	if g.Terminal {
		if len(g.Rules) > 0 {
			return errx.InvalidConfig("terminal goal %q must not declare transitions", g.ID)
		}
	}
	if g.MaxTurns > 0 {
		if g.Fallback == "" {
			return errx.InvalidConfig("goal %q declares max_turns but no fallback", g.ID)
		}
		if _, ok := r.goals[g.Fallback]; !ok {
			return errx.InvalidConfig("goal %q: fallback %q is not defined", g.ID, g.Fallback)
		}
	}
	for i := range g.Rules {
		rule := &g.Rules[i]
		if _, ok := r.goals[rule.Target]; !ok {
			return errx.InvalidConfig("goal %q: transition %d targets undefined goal %q", g.ID, i, rule.Target)
		}
		switch rule.Kind {
		case model.RuleFieldSet:
			if strings.TrimSpace(rule.Field) == "" {
				return errx.InvalidConfig("goal %q: transition %d (%s) requires a field", g.ID, i, rule.Kind)
			}
		case model.RuleFieldsSet:
			if len(rule.Fields) == 0 {
				return errx.InvalidConfig("goal %q: transition %d (%s) requires fields", g.ID, i, rule.Kind)
			}
		case model.RuleFieldEquals:
			if strings.TrimSpace(rule.Field) == "" {
				return errx.InvalidConfig("goal %q: transition %d (%s) requires a field", g.ID, i, rule.Kind)
			}
		case model.RuleSemantic:
			if strings.TrimSpace(rule.Condition) == "" {
				return errx.InvalidConfig("goal %q: transition %d (semantic) requires a condition", g.ID, i)
			}
			if rule.MinConfidence <= 0 {
				rule.MinConfidence = DefaultSemanticConfidence
			}
		default:
			return errx.InvalidConfig("goal %q: transition %d has unknown kind %q", g.ID, i, rule.Kind)
		}
	}
	return nil
}

// Get returns the goal definition, failing with ErrNotFound for unknown ids.
func (r *Registry) Get(goalID string) (*model.GoalDefinition, error) {
	g, ok := r.goals[goalID]
	if !ok {
		return nil, errx.NotFound("goal", goalID)
	}
	return g, nil
}

// DefaultGoal is where new sessions start.
func (r *Registry) DefaultGoal() string {
	return r.defaultGoal
}

// IDs returns goal ids in declared order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// KnownFieldPaths returns every field path referenced by any goal, in
// declared order without duplicates. The extraction agent advertises
// these to the model as the harvestable schema.
func (r *Registry) KnownFieldPaths() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, id := range r.order {
		g := r.goals[id]
		for _, p := range g.MandatoryFields {
			add(p)
		}
		for _, c := range g.ConditionalFields {
			add(c.Field)
			add(c.WhenField)
		}
		for _, rule := range g.Rules {
			add(rule.Field)
			for _, p := range rule.Fields {
				add(p)
			}
		}
		if g.Action != nil {
			for _, p := range g.Action.Args {
				add(p)
			}
		}
	}
	return out
}
