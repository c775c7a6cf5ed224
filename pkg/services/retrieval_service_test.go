package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/strataforge/strata-engine/pkg/apperrors"
	"github.com/strataforge/strata-engine/pkg/embedding"
	"github.com/strataforge/strata-engine/pkg/models"
)

const testDimension = 3

func testEntity(name string, vector []float32, updatedAt time.Time) *models.KnowledgeEntity {
	return &models.KnowledgeEntity{
		ID:         uuid.New(),
		EntityType: "technology",
		Content:    models.Content{"name": name},
		Version:    1,
		Embedding:  vector,
		UpdatedAt:  updatedAt,
	}
}

func newTestRetrieval(repo *fakeEntityRepo, rels *fakeRelationshipRepo) RetrievalService {
	if rels == nil {
		rels = &fakeRelationshipRepo{}
	}
	return NewRetrievalService(repo, rels, embedding.TermOverlapScorer{}, testDimension, zap.NewNop())
}

func TestSemanticSearch_OrderedAndThresholded(t *testing.T) {
	now := time.Now()
	close := testEntity("docker", []float32{1, 0, 0}, now)
	mid := testEntity("kubernetes", []float32{0.7, 0.7, 0}, now)
	far := testEntity("cooking", []float32{0, 0, 1}, now)

	svc := newTestRetrieval(newFakeEntityRepo(close, mid, far), nil)

	results, err := svc.SemanticSearch(context.Background(), []float32{1, 0, 0}, 10, 0.5)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, close.ID, results[0].Entity.ID)
	assert.Equal(t, mid.ID, results[1].Entity.ID)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.5)
	}
}

func TestSemanticSearch_DimensionMismatch(t *testing.T) {
	svc := newTestRetrieval(newFakeEntityRepo(), nil)

	_, err := svc.SemanticSearch(context.Background(), []float32{1, 0}, 10, 0)
	var dim *apperrors.DimensionMismatchError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 2, dim.Got)
	assert.Equal(t, testDimension, dim.Want)
}

func TestSemanticSearch_LimitApplies(t *testing.T) {
	now := time.Now()
	repo := newFakeEntityRepo(
		testEntity("a", []float32{1, 0, 0}, now),
		testEntity("b", []float32{0.9, 0.1, 0}, now),
		testEntity("c", []float32{0.8, 0.2, 0}, now),
	)
	svc := newTestRetrieval(repo, nil)

	results, err := svc.SemanticSearch(context.Background(), []float32{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestHybridSearch_BlendsTextAndVector(t *testing.T) {
	now := time.Now()
	// Same vector, different text relevance.
	match := testEntity("docker container runtime", []float32{1, 0, 0}, now)
	noMatch := testEntity("spreadsheet", []float32{1, 0, 0}, now)

	svc := newTestRetrieval(newFakeEntityRepo(match, noMatch), nil)

	results, err := svc.HybridSearch(context.Background(), "docker runtime",
		[]float32{1, 0, 0}, HybridWeights{Vector: 0.7, Text: 0.3}, 10)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, match.ID, results[0].Entity.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHybridSearch_TiesBreakByRecency(t *testing.T) {
	older := testEntity("same", []float32{1, 0, 0}, time.Now().Add(-time.Hour))
	newer := testEntity("same", []float32{1, 0, 0}, time.Now())

	svc := newTestRetrieval(newFakeEntityRepo(older, newer), nil)

	results, err := svc.HybridSearch(context.Background(), "same",
		[]float32{1, 0, 0}, HybridWeights{Vector: 0.7, Text: 0.3}, 10)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, newer.ID, results[0].Entity.ID, "newer entity wins the tie")
}

func TestTraverse_BoundedAndCycleSafe(t *testing.T) {
	now := time.Now()
	a := testEntity("a", nil, now)
	b := testEntity("b", nil, now)
	c := testEntity("c", nil, now)

	// a - b - c - a forms a cycle.
	rels := &fakeRelationshipRepo{edges: []*models.EntityRelationship{
		{ID: uuid.New(), SourceID: a.ID, TargetID: b.ID, RelationType: "relates_to"},
		{ID: uuid.New(), SourceID: b.ID, TargetID: c.ID, RelationType: "relates_to"},
		{ID: uuid.New(), SourceID: c.ID, TargetID: a.ID, RelationType: "relates_to"},
	}}

	svc := newTestRetrieval(newFakeEntityRepo(a, b, c), rels)

	paths, err := svc.Traverse(context.Background(), a.ID, 5, nil, 0)
	require.NoError(t, err)

	// Each node is reached exactly once despite the cycle.
	require.Len(t, paths, 2)
	for _, p := range paths {
		assert.Equal(t, a.ID, p.EntityIDs[0], "paths start at the root")
		assert.Len(t, p.RelTypes, len(p.EntityIDs)-1)
		assert.LessOrEqual(t, p.Depth, 5)
	}
}

func TestTraverse_DepthLimit(t *testing.T) {
	now := time.Now()
	a := testEntity("a", nil, now)
	b := testEntity("b", nil, now)
	c := testEntity("c", nil, now)

	rels := &fakeRelationshipRepo{edges: []*models.EntityRelationship{
		{ID: uuid.New(), SourceID: a.ID, TargetID: b.ID, RelationType: "relates_to"},
		{ID: uuid.New(), SourceID: b.ID, TargetID: c.ID, RelationType: "relates_to"},
	}}

	svc := newTestRetrieval(newFakeEntityRepo(a, b, c), rels)

	paths, err := svc.Traverse(context.Background(), a.ID, 1, nil, 0)
	require.NoError(t, err)

	require.Len(t, paths, 1)
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, paths[0].EntityIDs)
}

func TestTraverse_RelTypeFilter(t *testing.T) {
	now := time.Now()
	a := testEntity("a", nil, now)
	b := testEntity("b", nil, now)
	c := testEntity("c", nil, now)

	rels := &fakeRelationshipRepo{edges: []*models.EntityRelationship{
		{ID: uuid.New(), SourceID: a.ID, TargetID: b.ID, RelationType: "depends_on"},
		{ID: uuid.New(), SourceID: a.ID, TargetID: c.ID, RelationType: "mentions"},
	}}

	svc := newTestRetrieval(newFakeEntityRepo(a, b, c), rels)

	paths, err := svc.Traverse(context.Background(), a.ID, 3, []string{"depends_on"}, 0)
	require.NoError(t, err)

	require.Len(t, paths, 1)
	assert.Equal(t, b.ID, paths[0].EntityIDs[1])
}

func TestTraverse_UnknownRoot(t *testing.T) {
	svc := newTestRetrieval(newFakeEntityRepo(), nil)

	_, err := svc.Traverse(context.Background(), uuid.New(), 3, nil, 0)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTraverse_PathLimit(t *testing.T) {
	now := time.Now()
	hub := testEntity("hub", nil, now)
	entities := []*models.KnowledgeEntity{hub}
	rels := &fakeRelationshipRepo{}
	for i := 0; i < 10; i++ {
		spoke := testEntity("spoke", nil, now)
		entities = append(entities, spoke)
		rels.edges = append(rels.edges, &models.EntityRelationship{
			ID: uuid.New(), SourceID: hub.ID, TargetID: spoke.ID, RelationType: "relates_to",
		})
	}

	svc := newTestRetrieval(newFakeEntityRepo(entities...), rels)

	paths, err := svc.Traverse(context.Background(), hub.ID, 2, nil, 3)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
}
