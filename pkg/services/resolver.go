// Package services contains the business logic of strata-engine.
package services

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/strataforge/strata-engine/pkg/models"
)

// FieldDivergence is one field where the proposed value and the current value
// disagree. Under the merge strategy each divergence becomes an open Conflict
// row; under strict the whole update is rejected.
type FieldDivergence struct {
	Field    string
	Proposed any
	Current  any
}

// Resolution is the outcome of applying an update against current state.
type Resolution struct {
	// Content is the post-resolution content the entity should hold.
	Content models.Content

	// Applied lists the fields whose values changed, sorted.
	Applied []string

	// Divergences lists merge conflicts detected against the baseline. Only
	// the merge strategy produces entries here.
	Divergences []FieldDivergence

	// Rejected lists every divergent field under strict, sorted. When
	// non-empty the update must be aborted with no side effects.
	Rejected []string
}

// Changed reports whether the resolution altered any field.
func (r *Resolution) Changed() bool {
	return len(r.Applied) > 0
}

// Resolve applies updates to current under the given strategy. baseline is the
// content at the caller's base version; only merge consults it. The inputs are
// never mutated.
func Resolve(current, baseline, updates models.Content, strategy models.UpdateStrategy) (*Resolution, error) {
	if !strategy.IsValid() {
		return nil, fmt.Errorf("unknown update strategy %q", strategy)
	}

	res := &Resolution{Content: current.Clone()}

	for _, field := range sortedKeys(updates) {
		proposed := updates[field]
		cur, exists := current[field]

		switch strategy {
		case models.StrategyLatestWins:
			if !exists || !jsonEqual(cur, proposed) {
				res.Content[field] = proposed
				res.Applied = append(res.Applied, field)
			}

		case models.StrategyFirstWins:
			// Only fill fields the entity does not hold yet. A field set to
			// JSON null counts as unset.
			if !exists || cur == nil {
				res.Content[field] = proposed
				res.Applied = append(res.Applied, field)
			}

		case models.StrategyStrict:
			if exists && !jsonEqual(cur, proposed) {
				res.Rejected = append(res.Rejected, field)
			} else if !exists {
				res.Content[field] = proposed
				res.Applied = append(res.Applied, field)
			}

		case models.StrategyMerge:
			if exists && jsonEqual(cur, proposed) {
				continue // already holds the proposed value
			}
			base, hadBase := baseline[field]
			unchanged := (!exists && !hadBase) || (exists && hadBase && jsonEqual(cur, base))
			if unchanged {
				res.Content[field] = proposed
				res.Applied = append(res.Applied, field)
			} else {
				res.Divergences = append(res.Divergences, FieldDivergence{
					Field:    field,
					Proposed: proposed,
					Current:  cur,
				})
			}
		}
	}

	if len(res.Rejected) > 0 {
		// Strict is all-or-nothing: discard anything tentatively applied.
		res.Content = current.Clone()
		res.Applied = nil
	}

	return res, nil
}

// jsonEqual compares two values by canonical JSON form. Content values arrive
// from both jsonb columns and request bodies, so numeric types differ even
// when the values agree; serialized comparison normalizes that.
func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

func sortedKeys(c models.Content) []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
