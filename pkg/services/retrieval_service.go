package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strataforge/strata-engine/pkg/apperrors"
	"github.com/strataforge/strata-engine/pkg/embedding"
	"github.com/strataforge/strata-engine/pkg/jsonutil"
	"github.com/strataforge/strata-engine/pkg/models"
	"github.com/strataforge/strata-engine/pkg/repositories"
)

// ScoredEntity pairs an entity with its retrieval score.
type ScoredEntity struct {
	Entity *models.KnowledgeEntity
	Score  float64
}

// HybridWeights blend the vector and text components of a hybrid score.
type HybridWeights struct {
	Vector float64
	Text   float64
}

// RetrievalService answers similarity, hybrid, and graph-walk queries over
// live entities. All reads; never mutates the substrate.
type RetrievalService interface {
	// SemanticSearch ranks entities by cosine similarity against the query
	// vector, descending, dropping results below threshold.
	SemanticSearch(ctx context.Context, vector []float32, limit int, threshold float64) ([]ScoredEntity, error)

	// HybridSearch blends cosine similarity with text relevance. Score ties
	// break by recency, newer updated_at first.
	HybridSearch(ctx context.Context, query string, vector []float32, weights HybridWeights, limit int) ([]ScoredEntity, error)

	// Traverse walks the relationship graph breadth-first from start,
	// cycle-safe, bounded by maxDepth and capped at limit paths.
	Traverse(ctx context.Context, startID uuid.UUID, maxDepth int, relTypes []string, limit int) ([]models.TraversalPath, error)
}

type retrievalService struct {
	entities      repositories.EntityRepository
	relationships repositories.RelationshipRepository
	scorer        embedding.TextScorer
	dimension     int
	logger        *zap.Logger
}

// NewRetrievalService creates a new RetrievalService.
func NewRetrievalService(
	entities repositories.EntityRepository,
	relationships repositories.RelationshipRepository,
	scorer embedding.TextScorer,
	dimension int,
	logger *zap.Logger,
) RetrievalService {
	return &retrievalService{
		entities:      entities,
		relationships: relationships,
		scorer:        scorer,
		dimension:     dimension,
		logger:        logger.Named("retrieval"),
	}
}

var _ RetrievalService = (*retrievalService)(nil)

func (s *retrievalService) SemanticSearch(ctx context.Context, vector []float32, limit int, threshold float64) ([]ScoredEntity, error) {
	if len(vector) != s.dimension {
		return nil, &apperrors.DimensionMismatchError{Got: len(vector), Want: s.dimension}
	}

	candidates, err := s.entities.ListWithEmbeddings(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredEntity, 0, len(candidates))
	for _, e := range candidates {
		if len(e.Embedding) != s.dimension {
			// A stored vector from an older dimension config; skip rather
			// than poison the whole query.
			s.logger.Warn("skipping entity with stale embedding dimension",
				zap.String("entity_id", e.ID.String()),
				zap.Int("dimension", len(e.Embedding)))
			continue
		}
		score := cosineSimilarity(vector, e.Embedding)
		if score >= threshold {
			results = append(results, ScoredEntity{Entity: e, Score: score})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *retrievalService) HybridSearch(ctx context.Context, query string, vector []float32, weights HybridWeights, limit int) ([]ScoredEntity, error) {
	if len(vector) != s.dimension {
		return nil, &apperrors.DimensionMismatchError{Got: len(vector), Want: s.dimension}
	}

	candidates, err := s.entities.ListWithEmbeddings(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredEntity, 0, len(candidates))
	for _, e := range candidates {
		if len(e.Embedding) != s.dimension {
			continue
		}
		score := weights.Vector*cosineSimilarity(vector, e.Embedding) +
			weights.Text*s.scorer.Score(query, contentText(e.Content))
		results = append(results, ScoredEntity{Entity: e, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if scoresEqual(results[i].Score, results[j].Score) {
			return results[i].Entity.UpdatedAt.After(results[j].Entity.UpdatedAt)
		}
		return results[i].Score > results[j].Score
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// pathNode links back to its parent so a full path can be rebuilt without
// storing one slice per frontier entry.
type pathNode struct {
	id      uuid.UUID
	relType string
	depth   int
	parent  *pathNode
}

func (s *retrievalService) Traverse(ctx context.Context, startID uuid.UUID, maxDepth int, relTypes []string, limit int) ([]models.TraversalPath, error) {
	if maxDepth < 1 {
		return nil, fmt.Errorf("max depth must be at least 1")
	}
	if _, err := s.entities.GetByID(ctx, startID); err != nil {
		return nil, err
	}

	visited := map[uuid.UUID]bool{startID: true}
	queue := []*pathNode{{id: startID}}
	paths := make([]models.TraversalPath, 0)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := queue[0]
		queue = queue[1:]

		if node.depth >= maxDepth {
			continue
		}

		edges, err := s.relationships.ListByEntity(ctx, node.id, relTypes)
		if err != nil {
			return nil, err
		}

		for _, edge := range edges {
			next := edge.TargetID
			if next == node.id {
				next = edge.SourceID
			}
			if visited[next] {
				continue
			}
			visited[next] = true

			child := &pathNode{id: next, relType: edge.RelationType, depth: node.depth + 1, parent: node}
			queue = append(queue, child)
			paths = append(paths, buildPath(child))

			if limit > 0 && len(paths) >= limit {
				return paths, nil
			}
		}
	}

	return paths, nil
}

func buildPath(leaf *pathNode) models.TraversalPath {
	var ids []uuid.UUID
	var rels []string
	for n := leaf; n != nil; n = n.parent {
		ids = append(ids, n.id)
		if n.parent != nil {
			rels = append(rels, n.relType)
		}
	}
	// Reverse into root-first order.
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	for i, j := 0, len(rels)-1; i < j; i, j = i+1, j-1 {
		rels[i], rels[j] = rels[j], rels[i]
	}
	return models.TraversalPath{EntityIDs: ids, RelTypes: rels, Depth: leaf.depth}
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors. Zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func scoresEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// contentText flattens the scalar fields of a content map into one document
// for text scoring. Numbers and booleans are searchable in their JSON form.
func contentText(c models.Content) string {
	keys := sortedKeys(c)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if s := jsonutil.FlexibleString(c[k]); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
