// Package extract is the passive data-extraction agent. It harvests
// volunteered field values from the current exchange and never decides
// what to ask the user next.
package extract

import (
	"context"

	"github.com/cloudwego/eino/schema"
	"github.com/pmo-platform/chatcore/internal/agent/model"
	"github.com/pmo-platform/chatcore/internal/agent/prompts"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

type Extractor struct {
	reasoner      model.Reasoner
	knownPaths    []string
	known         map[string]bool
	minConfidence float64
}

func NewExtractor(reasoner model.Reasoner, knownPaths []string, minConfidence float64) *Extractor {
	known := make(map[string]bool, len(knownPaths))
	for _, p := range knownPaths {
		known[p] = true
	}
	return &Extractor{
		reasoner:      reasoner,
		knownPaths:    knownPaths,
		known:         known,
		minConfidence: minConfidence,
	}
}

// Extract runs one extraction pass over the analysis input (current
// exchange plus recent window) and returns a partial field map holding
// only known-path, non-empty, confident values. An empty map means "no
// new information".
func (x *Extractor) Extract(ctx context.Context, analysisInput *schema.Message) (model.FieldMap, error) {
	systemPrompt, err := prompts.RenderExtractionSystem(ctx, x.knownPaths)
	if err != nil {
		return nil, err
	}

	out, err := x.reasoner.Generate(ctx, []*schema.Message{
		schema.SystemMessage(systemPrompt),
		analysisInput,
	})
	if err != nil {
		return nil, err
	}

	harvest, err := ParseHarvest(out)
	if err != nil {
		return nil, err
	}
	if len(harvest.ParseErrs) > 0 {
		logx.Warn().
			Int("parse_errors", len(harvest.ParseErrs)).
			Strs("errors", harvest.ParseErrs).
			Msg("extraction output partially malformed")
	}

	fields := model.FieldMap{}
	for path, v := range harvest.Fields {
		if !x.known[path] {
			logx.Debug().Str("path", path).Msg("dropping unknown field path from extraction")
			continue
		}
		if v.Confidence < x.minConfidence {
			logx.Debug().Str("path", path).Float64("confidence", v.Confidence).Msg("dropping low-confidence extraction")
			continue
		}
		fields[path] = v.Value
	}

	return fields, nil
}
