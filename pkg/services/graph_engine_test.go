package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataforge/strata-engine/pkg/models"
)

func edge(source, target uuid.UUID) *models.EntityRelationship {
	return &models.EntityRelationship{
		ID:           uuid.New(),
		SourceID:     source,
		TargetID:     target,
		RelationType: "relates_to",
	}
}

// star returns a hub node pointed at by n spokes.
func star(n int) ([]*models.EntityRelationship, uuid.UUID) {
	hub := uuid.New()
	edges := make([]*models.EntityRelationship, 0, n)
	for i := 0; i < n; i++ {
		edges = append(edges, edge(uuid.New(), hub))
	}
	return edges, hub
}

func TestNativeEngine_CentralityRanksHubHighest(t *testing.T) {
	edges, hub := star(5)
	g := NewEntityGraph(edges)

	engine := NewNativeGraphEngine(0.85, 50)
	scores, err := engine.Centrality(context.Background(), g)
	require.NoError(t, err)

	require.Len(t, scores, 6)
	assert.Equal(t, hub, scores[0].EntityID)

	for i := 1; i < len(scores); i++ {
		assert.GreaterOrEqual(t, scores[i-1].Score, scores[i].Score,
			"scores must be non-increasing")
	}
}

func TestNativeEngine_CentralityEmptyGraph(t *testing.T) {
	engine := NewNativeGraphEngine(0.85, 50)
	scores, err := engine.Centrality(context.Background(), NewEntityGraph(nil))
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestNativeEngine_CentralityRespectsCancellation(t *testing.T) {
	edges, _ := star(50)
	g := NewEntityGraph(edges)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := NewNativeGraphEngine(0.85, 50)
	_, err := engine.Centrality(ctx, g)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNativeEngine_CommunitiesSeparateComponents(t *testing.T) {
	a1, a2, a3 := uuid.New(), uuid.New(), uuid.New()
	b1, b2 := uuid.New(), uuid.New()

	g := NewEntityGraph([]*models.EntityRelationship{
		edge(a1, a2), edge(a2, a3), edge(a1, a3),
		edge(b1, b2),
	})

	engine := NewNativeGraphEngine(0.85, 50)
	labels, err := engine.Communities(context.Background(), g)
	require.NoError(t, err)

	require.Len(t, labels, 5)
	assert.Equal(t, labels[a1], labels[a2])
	assert.Equal(t, labels[a2], labels[a3])
	assert.Equal(t, labels[b1], labels[b2])
	assert.NotEqual(t, labels[a1], labels[b1],
		"disconnected clusters must land in different communities")
}

func TestFallbackEngine_CentralityMatchesDegreeOrder(t *testing.T) {
	hub := uuid.New()
	mid := uuid.New()
	leaf := uuid.New()

	g := NewEntityGraph([]*models.EntityRelationship{
		edge(hub, mid), edge(hub, leaf), edge(hub, uuid.New()),
		edge(mid, leaf),
	})

	engine := NewFallbackGraphEngine()
	scores, err := engine.Centrality(context.Background(), g)
	require.NoError(t, err)

	// Every node with >= 1 relationship gets a rank.
	require.Len(t, scores, 5)
	assert.Equal(t, hub, scores[0].EntityID)
	assert.Equal(t, float64(3), scores[0].Score)

	byID := make(map[uuid.UUID]float64)
	for _, s := range scores {
		byID[s.EntityID] = s.Score
	}
	assert.Equal(t, float64(2), byID[mid])
	assert.Equal(t, float64(2), byID[leaf])
}

func TestFallbackEngine_CommunitiesAreConnectedComponents(t *testing.T) {
	a1, a2 := uuid.New(), uuid.New()
	b1, b2, b3 := uuid.New(), uuid.New(), uuid.New()

	g := NewEntityGraph([]*models.EntityRelationship{
		edge(a1, a2),
		edge(b1, b2), edge(b2, b3),
	})

	engine := NewFallbackGraphEngine()
	labels, err := engine.Communities(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, labels[a1], labels[a2])
	assert.Equal(t, labels[b1], labels[b2])
	assert.Equal(t, labels[b2], labels[b3])
	assert.NotEqual(t, labels[a1], labels[b1])
}

func TestEngines_TotalOrderingIsStable(t *testing.T) {
	// Equal scores break ties by id, so repeated runs return the same order.
	a, b := uuid.New(), uuid.New()
	g := NewEntityGraph([]*models.EntityRelationship{edge(a, b), edge(b, a)})

	engine := NewFallbackGraphEngine()
	first, err := engine.Centrality(context.Background(), g)
	require.NoError(t, err)
	second, err := engine.Centrality(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNativeEngine_TimeoutSurfacesDeadline(t *testing.T) {
	edges, _ := star(10)
	g := NewEntityGraph(edges)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	engine := NewNativeGraphEngine(0.85, 1000)
	_, err := engine.Centrality(ctx, g)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
