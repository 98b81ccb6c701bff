package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() map[string]any {
	return map[string]any{
		"trigger": map[string]any{
			"body": map[string]any{
				"email": "site@example.com",
				"items": []any{
					map[string]any{"id": "a1"},
					map[string]any{"id": "a2"},
				},
				"amount": float64(1250.5),
				"years":  map[string]any{"2024": "closed"},
			},
		},
		"steps": map[string]any{
			"0":      map[string]any{"status": float64(201), "body": map[string]any{"id": "proj-1"}},
			"create": map[string]any{"status": float64(201), "body": map[string]any{"id": "proj-1"}},
		},
		"constants": map[string]any{
			"region": "uk-south",
			"labels": map[string]string{"team": "ops"},
		},
	}
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	paths := Placeholders("Hi {{ trigger.body.name }}, see {{steps.0.body.id}} and {{trigger.items[1].id}}")
	assert.Equal(t, []string{"trigger.body.name", "steps.0.body.id", "trigger.items[1].id"}, paths)

	assert.True(t, HasPlaceholder("{{constants.region}}"))
	assert.False(t, HasPlaceholder("no placeholders {here}"))
	assert.False(t, HasPlaceholder("{{ }}"))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		path  string
		want  any
		found bool
	}{
		{name: "nested map", path: "trigger.body.email", want: "site@example.com", found: true},
		{name: "bracket index", path: "trigger.body.items[1].id", want: "a2", found: true},
		{name: "dotted index", path: "trigger.body.items.0.id", want: "a1", found: true},
		{name: "step by index", path: "steps.0.body.id", want: "proj-1", found: true},
		{name: "step by name", path: "steps.create.status", want: float64(201), found: true},
		{name: "typed map", path: "constants.labels.team", want: "ops", found: true},
		{name: "numeric object key", path: "trigger.body.years.2024", want: "closed", found: true},
		{name: "dotted index out of range", path: "trigger.body.items.5", found: false},
		{name: "missing key", path: "trigger.body.phone", found: false},
		{name: "index out of range", path: "trigger.body.items[5]", found: false},
		{name: "descend into scalar", path: "constants.region.name", found: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, found := Lookup(testScope(), tt.path)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestSegments(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"steps", "0", "items", "2", "id"}, Segments("steps.0.items[2].id"))
	assert.Equal(t, []string{"trigger", "rows", "1", "0"}, Segments("trigger.rows[1][0]"))
}

func TestResolve_PreservesTypeForExactPlaceholder(t *testing.T) {
	t.Parallel()

	config := map[string]any{
		"amount": "{{trigger.body.amount}}",
		"items":  "{{ trigger.body.items }}",
		"label":  "Amount: {{trigger.body.amount}} in {{constants.region}}",
		"nested": []any{"{{steps.create.body.id}}", float64(3)},
	}

	resolved, err := Resolve(config, testScope())
	require.NoError(t, err)

	out := resolved.(map[string]any)
	assert.Equal(t, 1250.5, out["amount"])
	assert.Len(t, out["items"], 2)
	assert.Equal(t, "Amount: 1250.5 in uk-south", out["label"])
	assert.Equal(t, []any{"proj-1", float64(3)}, out["nested"])
}

func TestResolve_ReportsEveryUnresolvedPath(t *testing.T) {
	t.Parallel()

	config := map[string]any{
		"to":      "{{trigger.body.phone}}",
		"message": "Order {{steps.9.id}} shipped",
	}

	_, err := Resolve(config, testScope())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolved)
	assert.Contains(t, err.Error(), "trigger.body.phone")
	assert.Contains(t, err.Error(), "steps.9.id")
}

func TestResolve_EmbedsStructuredValuesAsJSON(t *testing.T) {
	t.Parallel()

	resolved, err := Resolve("payload={{steps.0.body}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, `payload={"id":"proj-1"}`, resolved)
}

func TestWalk(t *testing.T) {
	t.Parallel()

	var seen []string

	Walk(map[string]any{"a": []any{"x", map[string]any{"b": "y"}}, "c": float64(1)}, func(s string) {
		seen = append(seen, s)
	})

	assert.ElementsMatch(t, []string{"x", "y"}, seen)
}
