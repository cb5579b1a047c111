// Package toolexec invokes external business actions (booking, customer
// creation) with arguments derived from the field map and folds results
// back into session state through the same non-destructive merge.
package toolexec

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pmo-platform/chatcore/internal/agent/model"
	errx "github.com/pmo-platform/chatcore/internal/core/error"
	logx "github.com/pmo-platform/chatcore/pkg/logger"
)

type Executor struct {
	invoker     model.ToolInvoker
	maxAttempts int
	backoff     time.Duration
}

func NewExecutor(invoker model.ToolInvoker, maxAttempts int, backoff time.Duration) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Executor{
		invoker:     invoker,
		maxAttempts: maxAttempts,
		backoff:     backoff,
	}
}

// Run executes the goal's bound action and returns the result as a
// partial field map under operations.*. Transient failures are retried
// within the attempt budget with doubling backoff; a final failure
// surfaces as ErrExternalCall and never clears existing fields.
func (e *Executor) Run(ctx context.Context, action *model.ActionBinding, fields model.FieldMap) (model.FieldMap, error) {
	if action == nil {
		return nil, nil
	}

	args := make(map[string]any, len(action.Args))
	for name, path := range action.Args {
		if v := fields.Get(path); v != "" {
			args[name] = v
		}
	}

	var (
		result map[string]any
		err    error
	)
	backoff := e.backoff
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result, err = e.invoker.Invoke(ctx, action.Tool, args)
		if err == nil {
			break
		}
		logx.Warn().
			Err(err).
			Str("tool", action.Tool).
			Int("attempt", attempt).
			Int("max_attempts", e.maxAttempts).
			Msg("tool invocation failed")
		if attempt == e.maxAttempts {
			return nil, errx.ExternalCall(fmt.Errorf("tool %s after %d attempts: %w", action.Tool, e.maxAttempts, err))
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, errx.ExternalCall(ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	out := model.FieldMap{}
	for key, val := range result {
		s := stringify(val)
		if s == "" {
			continue
		}
		out["operations."+key] = s
	}
	logx.Debug().Str("tool", action.Tool).Int("result_fields", len(out)).Msg("tool invocation succeeded")
	return out, nil
}

// stringify flattens scalar tool results into field values. Nested
// structures are skipped rather than guessed at.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}
