package toolexec

import (
	"context"
	"errors"
	"testing"

	"github.com/pmo-platform/chatcore/internal/agent/model"
	errx "github.com/pmo-platform/chatcore/internal/core/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvoker struct {
	failures int
	calls    int
	lastTool string
	lastArgs map[string]any
	result   map[string]any
}

func (f *fakeInvoker) Invoke(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	f.calls++
	f.lastTool = tool
	f.lastArgs = args
	if f.calls <= f.failures {
		return nil, errors.New("upstream timeout")
	}
	return f.result, nil
}

func bookingAction() *model.ActionBinding {
	return &model.ActionBinding{
		Tool: ToolBookAppointment,
		Args: map[string]string{
			"customer_name":  "customer.name",
			"phone":          "customer.phone",
			"preferred_date": "service.preferred_date",
		},
	}
}

func TestRunNilActionIsNoop(t *testing.T) {
	e := NewExecutor(&fakeInvoker{}, 3, 0)
	out, err := e.Run(context.Background(), nil, model.FieldMap{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestRunBindsArgsFromFields(t *testing.T) {
	inv := &fakeInvoker{result: map[string]any{"booking_id": "BK-1042"}}
	e := NewExecutor(inv, 3, 0)

	fields := model.FieldMap{
		"customer.name":           "Dana Reyes",
		"customer.phone":          "416-555-0142",
		"service.preferred_date":  "Friday",
		"service.primary_request": "roof leak",
	}
	out, err := e.Run(context.Background(), bookingAction(), fields)
	require.NoError(t, err)

	assert.Equal(t, ToolBookAppointment, inv.lastTool)
	assert.Equal(t, map[string]any{
		"customer_name":  "Dana Reyes",
		"phone":          "416-555-0142",
		"preferred_date": "Friday",
	}, inv.lastArgs)
	assert.Equal(t, model.FieldMap{"operations.booking_id": "BK-1042"}, out)
}

func TestRunOmitsUnsetArgFields(t *testing.T) {
	inv := &fakeInvoker{result: map[string]any{}}
	e := NewExecutor(inv, 3, 0)

	_, err := e.Run(context.Background(), bookingAction(), model.FieldMap{"customer.name": "Dana"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"customer_name": "Dana"}, inv.lastArgs)
}

func TestRunRetriesWithinBudget(t *testing.T) {
	inv := &fakeInvoker{failures: 2, result: map[string]any{"booking_id": "BK-7"}}
	e := NewExecutor(inv, 3, 0)

	out, err := e.Run(context.Background(), bookingAction(), model.FieldMap{})
	require.NoError(t, err)
	assert.Equal(t, 3, inv.calls)
	assert.Equal(t, "BK-7", out.Get("operations.booking_id"))
}

func TestRunExhaustedBudgetSurfacesExternalCall(t *testing.T) {
	inv := &fakeInvoker{failures: 5}
	e := NewExecutor(inv, 3, 0)

	out, err := e.Run(context.Background(), bookingAction(), model.FieldMap{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errx.ErrExternalCall))
	assert.True(t, errx.IsRetryable(err))
	assert.Nil(t, out)
	assert.Equal(t, 3, inv.calls)
}

func TestRunFlattensScalarResultsOnly(t *testing.T) {
	inv := &fakeInvoker{result: map[string]any{
		"booking_id": "BK-9",
		"confirmed":  true,
		"slot":       float64(14),
		"price":      float64(89.5),
		"nested":     map[string]any{"ignored": true},
	}}
	e := NewExecutor(inv, 1, 0)

	out, err := e.Run(context.Background(), bookingAction(), model.FieldMap{})
	require.NoError(t, err)
	assert.Equal(t, model.FieldMap{
		"operations.booking_id": "BK-9",
		"operations.confirmed":  "true",
		"operations.slot":       "14",
		"operations.price":      "89.5",
	}, out)
}
