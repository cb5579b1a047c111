package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldMapMergeIsNonDestructive(t *testing.T) {
	tests := []struct {
		name    string
		base    FieldMap
		partial FieldMap
		want    FieldMap
		applied int
	}{
		{
			name:    "new fields are added",
			base:    FieldMap{},
			partial: FieldMap{"customer.name": "Dana"},
			want:    FieldMap{"customer.name": "Dana"},
			applied: 1,
		},
		{
			name:    "empty value never clears a set field",
			base:    FieldMap{"customer.name": "Dana"},
			partial: FieldMap{"customer.name": ""},
			want:    FieldMap{"customer.name": "Dana"},
			applied: 0,
		},
		{
			name:    "whitespace value treated as empty",
			base:    FieldMap{"customer.phone": "416-555-0142"},
			partial: FieldMap{"customer.phone": "   "},
			want:    FieldMap{"customer.phone": "416-555-0142"},
			applied: 0,
		},
		{
			name:    "non-empty value may update a set field",
			base:    FieldMap{"service.preferred_date": "Friday"},
			partial: FieldMap{"service.preferred_date": "Saturday"},
			want:    FieldMap{"service.preferred_date": "Saturday"},
			applied: 1,
		},
		{
			name:    "identical value counts as no-op",
			base:    FieldMap{"customer.name": "Dana"},
			partial: FieldMap{"customer.name": "Dana"},
			want:    FieldMap{"customer.name": "Dana"},
			applied: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, applied := tt.base.Merge(tt.partial)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.applied, applied)
		})
	}
}

func TestFieldMapMergeRoundTrip(t *testing.T) {
	m := FieldMap{}
	m, _ = m.Merge(FieldMap{"a": "1"})
	m, _ = m.Merge(FieldMap{})
	m, _ = m.Merge(FieldMap{"b": "2"})
	assert.Equal(t, FieldMap{"a": "1", "b": "2"}, m)
}

func TestFieldMapMergeDoesNotMutateReceiver(t *testing.T) {
	base := FieldMap{"a": "1"}
	got, _ := base.Merge(FieldMap{"b": "2"})
	assert.Equal(t, FieldMap{"a": "1"}, base)
	assert.Equal(t, FieldMap{"a": "1", "b": "2"}, got)
}

func TestFieldMapMissing(t *testing.T) {
	m := FieldMap{"customer.name": "Dana", "customer.phone": ""}
	missing := m.Missing([]string{"customer.name", "customer.phone", "service.primary_request"})
	assert.Equal(t, []string{"customer.phone", "service.primary_request"}, missing)
}

func TestGoalRequiredFieldsIncludesConditional(t *testing.T) {
	g := &GoalDefinition{
		ID:              "GATHER_REQUIREMENTS",
		MandatoryFields: []string{"customer.phone"},
		ConditionalFields: []ConditionalField{
			{Field: "service.property_access", WhenField: "service.onsite_visit", Equals: "yes"},
		},
	}

	require.Equal(t, []string{"customer.phone"}, g.RequiredFields(FieldMap{}))
	require.Equal(t,
		[]string{"customer.phone", "service.property_access"},
		g.RequiredFields(FieldMap{"service.onsite_visit": "yes"}),
	)
}

func TestSessionRecentExchanges(t *testing.T) {
	s := &Session{
		Exchanges: []Exchange{
			{Seq: 0, UserMsg: "a"},
			{Seq: 1, UserMsg: "b"},
			{Seq: 2, UserMsg: "c"},
		},
	}

	recent := s.RecentExchanges(2)
	require.Len(t, recent, 2)
	assert.Equal(t, 1, recent[0].Seq)
	assert.Equal(t, 2, recent[1].Seq)

	assert.Nil(t, s.RecentExchanges(0))
	assert.Len(t, s.RecentExchanges(10), 3)
}
