package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataforge/strata-engine/pkg/models"
)

func TestResolve_LatestWins(t *testing.T) {
	current := models.Content{"name": "Docker", "description": "old"}
	updates := models.Content{"description": "new", "tags": []any{"infra"}}

	res, err := Resolve(current, current, updates, models.StrategyLatestWins)
	require.NoError(t, err)

	assert.Equal(t, "new", res.Content["description"])
	assert.Equal(t, []any{"infra"}, res.Content["tags"])
	assert.Equal(t, "Docker", res.Content["name"])
	assert.ElementsMatch(t, []string{"description", "tags"}, res.Applied)
	assert.Empty(t, res.Divergences)
	assert.Empty(t, res.Rejected)
}

func TestResolve_FirstWins(t *testing.T) {
	current := models.Content{"name": "Docker", "owner": nil}
	updates := models.Content{"name": "Podman", "owner": "platform", "tier": "core"}

	res, err := Resolve(current, current, updates, models.StrategyFirstWins)
	require.NoError(t, err)

	// Existing value kept silently, unset and null fields filled.
	assert.Equal(t, "Docker", res.Content["name"])
	assert.Equal(t, "platform", res.Content["owner"])
	assert.Equal(t, "core", res.Content["tier"])
	assert.Empty(t, res.Divergences)
}

func TestResolve_Strict(t *testing.T) {
	current := models.Content{"name": "Docker", "description": "a container runtime"}

	t.Run("divergent fields reject the whole update", func(t *testing.T) {
		updates := models.Content{"name": "Podman", "description": "different", "tier": "core"}

		res, err := Resolve(current, current, updates, models.StrategyStrict)
		require.NoError(t, err)

		assert.ElementsMatch(t, []string{"name", "description"}, res.Rejected)
		assert.Empty(t, res.Applied)
		assert.Equal(t, current, res.Content)
	})

	t.Run("new fields and identical values pass", func(t *testing.T) {
		updates := models.Content{"name": "Docker", "tier": "core"}

		res, err := Resolve(current, current, updates, models.StrategyStrict)
		require.NoError(t, err)

		assert.Empty(t, res.Rejected)
		assert.Equal(t, []string{"tier"}, res.Applied)
		assert.Equal(t, "core", res.Content["tier"])
	})
}

func TestResolve_Merge(t *testing.T) {
	baseline := models.Content{"name": "Docker", "description": "basics", "tags": "a"}

	t.Run("unchanged fields apply", func(t *testing.T) {
		// Current still matches the baseline for description.
		current := baseline.Clone()
		updates := models.Content{"description": "expanded"}

		res, err := Resolve(current, baseline, updates, models.StrategyMerge)
		require.NoError(t, err)

		assert.Equal(t, "expanded", res.Content["description"])
		assert.Empty(t, res.Divergences)
	})

	t.Run("concurrently changed field diverges", func(t *testing.T) {
		current := baseline.Clone()
		current["description"] = "someone else edited this"
		updates := models.Content{"description": "my edit", "tags": "b"}

		res, err := Resolve(current, baseline, updates, models.StrategyMerge)
		require.NoError(t, err)

		// The non-conflicting field still applies.
		assert.Equal(t, "b", res.Content["tags"])
		assert.Equal(t, "someone else edited this", res.Content["description"])

		require.Len(t, res.Divergences, 1)
		d := res.Divergences[0]
		assert.Equal(t, "description", d.Field)
		assert.Equal(t, "my edit", d.Proposed)
		assert.Equal(t, "someone else edited this", d.Current)
	})

	t.Run("proposing the current value is a no-op", func(t *testing.T) {
		current := baseline.Clone()
		current["description"] = "already here"
		updates := models.Content{"description": "already here"}

		res, err := Resolve(current, baseline, updates, models.StrategyMerge)
		require.NoError(t, err)

		assert.Empty(t, res.Applied)
		assert.Empty(t, res.Divergences)
	})

	t.Run("field added by both sides diverges", func(t *testing.T) {
		current := baseline.Clone()
		current["notes"] = "theirs"
		updates := models.Content{"notes": "mine"}

		res, err := Resolve(current, baseline, updates, models.StrategyMerge)
		require.NoError(t, err)

		require.Len(t, res.Divergences, 1)
		assert.Equal(t, "notes", res.Divergences[0].Field)
	})
}

func TestResolve_NumericEquivalence(t *testing.T) {
	// jsonb reads come back as float64, request bodies may carry ints; the
	// same numeric value must not register as divergence.
	current := models.Content{"count": float64(3)}
	updates := models.Content{"count": 3}

	res, err := Resolve(current, current, updates, models.StrategyStrict)
	require.NoError(t, err)
	assert.Empty(t, res.Rejected)
}

func TestResolve_UnknownStrategy(t *testing.T) {
	_, err := Resolve(models.Content{}, models.Content{}, models.Content{"a": 1}, "overwrite")
	assert.Error(t, err)
}

func TestResolve_DoesNotMutateInputs(t *testing.T) {
	current := models.Content{"name": "Docker"}
	updates := models.Content{"name": "Podman"}

	_, err := Resolve(current, current, updates, models.StrategyLatestWins)
	require.NoError(t, err)

	assert.Equal(t, "Docker", current["name"])
}
