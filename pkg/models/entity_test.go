package models

import (
	"testing"
	"time"
)

func TestContent_HashDeterministic(t *testing.T) {
	a := Content{"name": "alpha", "confidence": 0.9, "tags": []any{"x", "y"}}
	b := Content{"tags": []any{"x", "y"}, "confidence": 0.9, "name": "alpha"}

	if a.Hash() != b.Hash() {
		t.Error("equal content maps should hash equally regardless of insertion order")
	}

	c := Content{"name": "alpha", "confidence": 0.91, "tags": []any{"x", "y"}}
	if a.Hash() == c.Hash() {
		t.Error("different content maps should hash differently")
	}
}

func TestContent_HashEmptyAndNil(t *testing.T) {
	var nilContent Content
	empty := Content{}

	// nil marshals to "null", an empty map to "{}"; they are distinct states
	// and must not collide.
	if nilContent.Hash() == empty.Hash() {
		t.Error("nil and empty content should hash differently")
	}
}

func TestContent_Clone(t *testing.T) {
	orig := Content{"name": "alpha", "count": 3}
	clone := orig.Clone()

	clone["name"] = "beta"
	clone["extra"] = true

	if orig["name"] != "alpha" {
		t.Errorf("mutating clone changed original: name=%v", orig["name"])
	}
	if _, ok := orig["extra"]; ok {
		t.Error("mutating clone added key to original")
	}
	if len(clone) != 3 {
		t.Errorf("expected clone to have 3 keys, got %d", len(clone))
	}
}

func TestKnowledgeEntity_Archived(t *testing.T) {
	e := &KnowledgeEntity{}
	if e.Archived() {
		t.Error("entity without archived_at should not report archived")
	}

	now := time.Now()
	e.ArchivedAt = &now
	if !e.Archived() {
		t.Error("entity with archived_at should report archived")
	}
}

func TestUpdateStrategy_IsValid(t *testing.T) {
	for _, s := range []UpdateStrategy{StrategyMerge, StrategyLatestWins, StrategyFirstWins, StrategyStrict} {
		if !s.IsValid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	for _, s := range []UpdateStrategy{"", "overwrite", "MERGE"} {
		if s.IsValid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}
