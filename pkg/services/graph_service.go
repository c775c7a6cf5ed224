package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strataforge/strata-engine/pkg/config"
	"github.com/strataforge/strata-engine/pkg/models"
	"github.com/strataforge/strata-engine/pkg/repositories"
)

// Derived property keys written back onto entities by analytics runs.
const (
	PropertyCentrality = "centrality"
	PropertyCommunity  = "community"
)

// CommunityAssignment is the result of one community detection run.
type CommunityAssignment struct {
	// Members maps community id to its entity ids.
	Members map[int][]uuid.UUID

	// Count is the number of distinct communities.
	Count int
}

// GraphService runs graph analytics over the relationship graph and writes
// derived properties back onto entities. Derived values are best-effort and
// idempotently recomputable; a cancelled run never touches content or version.
type GraphService interface {
	// Engine reports the capability selected at startup.
	Engine() GraphCapability

	// Centrality ranks connected entities, writes each score into the
	// entity's properties, and returns the topN highest (all when topN <= 0).
	Centrality(ctx context.Context, topN int, relType string) ([]CentralityScore, error)

	// Communities assigns community ids, writing each id under writeProperty
	// (PropertyCommunity when empty). Reruns overwrite prior values.
	Communities(ctx context.Context, writeProperty string) (*CommunityAssignment, error)
}

type graphService struct {
	entities      repositories.EntityRepository
	relationships repositories.RelationshipRepository
	engine        GraphEngine
	cfg           config.GraphConfig
	logger        *zap.Logger
}

// ProbeGraphEngine selects the analytics engine once at startup. "auto"
// resolves to whichever engine reports itself available; a misconfigured
// value degrades to the fallback rather than failing boot.
func ProbeGraphEngine(cfg config.GraphConfig, logger *zap.Logger) GraphEngine {
	switch cfg.Engine {
	case "fallback":
		return NewFallbackGraphEngine()
	case "native":
		return NewNativeGraphEngine(cfg.PageRankDamping, cfg.PageRankIterations)
	case "auto", "":
		native := NewNativeGraphEngine(cfg.PageRankDamping, cfg.PageRankIterations)
		if native.Capability().Available {
			return native
		}
		return NewFallbackGraphEngine()
	default:
		logger.Warn("unknown graph engine, using fallback", zap.String("engine", cfg.Engine))
		return NewFallbackGraphEngine()
	}
}

// NewGraphService creates a GraphService bound to the given engine.
func NewGraphService(
	entities repositories.EntityRepository,
	relationships repositories.RelationshipRepository,
	engine GraphEngine,
	cfg config.GraphConfig,
	logger *zap.Logger,
) GraphService {
	return &graphService{
		entities:      entities,
		relationships: relationships,
		engine:        engine,
		cfg:           cfg,
		logger:        logger.Named("graph"),
	}
}

var _ GraphService = (*graphService)(nil)

func (s *graphService) Engine() GraphCapability {
	return s.engine.Capability()
}

func (s *graphService) Centrality(ctx context.Context, topN int, relType string) ([]CentralityScore, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	g, err := s.loadGraph(ctx, relType)
	if err != nil {
		return nil, err
	}

	scores, err := s.engine.Centrality(ctx, g)
	if err != nil {
		return nil, analyticsError("centrality", err)
	}

	// Write-back is best-effort per entity; a failed merge aborts the run
	// before the cursor-free property write turns inconsistent partial state
	// into a hard error. Reruns overwrite whatever landed.
	for _, sc := range scores {
		if err := ctx.Err(); err != nil {
			return nil, analyticsError("centrality", err)
		}
		err := s.entities.MergeProperties(ctx, sc.EntityID, models.Content{PropertyCentrality: sc.Score})
		if err != nil {
			return nil, fmt.Errorf("failed to write centrality for %s: %w", sc.EntityID, err)
		}
	}

	s.logger.Info("centrality computed",
		zap.String("engine", s.engine.Capability().Name),
		zap.Int("nodes", g.Size()))

	if topN > 0 && len(scores) > topN {
		scores = scores[:topN]
	}
	return scores, nil
}

func (s *graphService) Communities(ctx context.Context, writeProperty string) (*CommunityAssignment, error) {
	if writeProperty == "" {
		writeProperty = PropertyCommunity
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	g, err := s.loadGraph(ctx, "")
	if err != nil {
		return nil, err
	}

	labels, err := s.engine.Communities(ctx, g)
	if err != nil {
		return nil, analyticsError("communities", err)
	}

	assignment := &CommunityAssignment{Members: make(map[int][]uuid.UUID)}
	for id, community := range labels {
		if err := ctx.Err(); err != nil {
			return nil, analyticsError("communities", err)
		}
		err := s.entities.MergeProperties(ctx, id, models.Content{writeProperty: community})
		if err != nil {
			return nil, fmt.Errorf("failed to write community for %s: %w", id, err)
		}
		assignment.Members[community] = append(assignment.Members[community], id)
	}
	assignment.Count = len(assignment.Members)

	s.logger.Info("communities computed",
		zap.String("engine", s.engine.Capability().Name),
		zap.Int("nodes", g.Size()),
		zap.Int("communities", assignment.Count))

	return assignment, nil
}

func (s *graphService) loadGraph(ctx context.Context, relType string) (*EntityGraph, error) {
	edges, err := s.relationships.ListAll(ctx, relType)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationship graph: %w", err)
	}
	return NewEntityGraph(edges), nil
}

func analyticsError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("graph %s timed out: %w", op, err)
	}
	return fmt.Errorf("graph %s failed: %w", op, err)
}
