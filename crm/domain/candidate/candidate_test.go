package candidate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgError "github.com/AzielCF/az-recruit/pkg/error"
)

func TestFieldsRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	c := &Candidate{
		ID:                "c1",
		Phone:             "528116038195",
		Name:              "Ana",
		Attributes:        map[string]string{"vacancy": "driver"},
		CreatedAt:         now,
		UpdatedAt:         now,
		LastUserMessageAt: now.Add(time.Minute),
		InboundCount:      3,
	}

	got, err := FromFields("candidate:c1", c.Fields())
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestFromFieldsCorrupt(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"missing id", map[string]string{FieldPhone: "528116038195", FieldCreatedAt: "2026-03-01T10:00:00Z"}},
		{"bad time", map[string]string{FieldID: "c1", FieldPhone: "528116038195", FieldCreatedAt: "yesterday"}},
		{"bad count", map[string]string{FieldID: "c1", FieldPhone: "528116038195", FieldCreatedAt: "2026-03-01T10:00:00Z", FieldInboundCount: "x"}},
		{"non digit phone", map[string]string{FieldID: "c1", FieldPhone: "+52 811", FieldCreatedAt: "2026-03-01T10:00:00Z"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromFields("candidate:c1", tt.fields)
			var corrupt *pkgError.CorruptRecordError
			require.ErrorAs(t, err, &corrupt)
			assert.Equal(t, "candidate:c1", corrupt.Key)
		})
	}
}

func TestPatchNeverTouchesProtectedFields(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Candidate{ID: "c1", Phone: "528116038195", CreatedAt: created, InboundCount: 2}
	name := "Luis"
	now := created.Add(time.Hour)

	Patch{Name: &name, Attributes: map[string]string{"stage": "screening"}}.Apply(c, now)

	assert.Equal(t, "c1", c.ID)
	assert.Equal(t, created, c.CreatedAt)
	assert.EqualValues(t, 2, c.InboundCount)
	assert.Equal(t, "Luis", c.Name)
	assert.Equal(t, "screening", c.Attributes["stage"])
	assert.Equal(t, now, c.UpdatedAt)

	for i, f := range (Patch{Name: &name}).Pairs(now) {
		if i%2 == 0 {
			assert.NotContains(t, []string{FieldID, FieldCreatedAt, FieldInboundCount, FieldOutboundCount}, f)
		}
	}
}

func TestPatchMerge(t *testing.T) {
	a, b := "a", "b"
	base := Patch{Name: &a, Attributes: map[string]string{"x": "1"}}
	merged := base.Merge(Patch{Name: &b, Attributes: map[string]string{"y": "2"}})

	assert.Equal(t, "b", *merged.Name)
	assert.Equal(t, map[string]string{"x": "1", "y": "2"}, merged.Attributes)
	assert.Equal(t, map[string]string{"x": "1"}, base.Attributes)
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, merged.IsEmpty())
}
