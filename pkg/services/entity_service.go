package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/inflection"
	"go.uber.org/zap"

	"github.com/strataforge/strata-engine/pkg/apperrors"
	"github.com/strataforge/strata-engine/pkg/clock"
	"github.com/strataforge/strata-engine/pkg/database"
	"github.com/strataforge/strata-engine/pkg/embedding"
	"github.com/strataforge/strata-engine/pkg/models"
	"github.com/strataforge/strata-engine/pkg/repositories"
)

// CreateEntityRequest carries the inputs for a new entity.
type CreateEntityRequest struct {
	ExternalID *string
	EntityType string
	Content    models.Content
	Metadata   models.Content

	// Embedding is an optional pre-computed vector. When absent and EmbedText
	// is set, the service derives one from the embedding provider.
	Embedding []float32
	EmbedText string

	Actor    string
	Source   string // Defaults to models.SourceAPI
	Evidence string
}

// UpdateEntityRequest carries one proposed mutation against an entity.
type UpdateEntityRequest struct {
	EntityID uuid.UUID

	// BaseVersion is the version the caller read before editing. Merge
	// detects divergence against the content at this version.
	BaseVersion int

	Updates  models.Content
	Strategy models.UpdateStrategy

	// Embedding optionally replaces the stored vector alongside the update.
	Embedding []float32
	EmbedText string

	Actor    string
	Source   string
	Evidence string
}

// UpdateResult is the outcome of an accepted update.
type UpdateResult struct {
	Entity *models.KnowledgeEntity

	// Conflicts are the open conflict rows this update raised (merge only).
	Conflicts []*models.Conflict

	// Applied lists the fields whose values changed.
	Applied []string
}

// EntityService owns the entity lifecycle. Every accepted mutation runs as
// one transaction: pre-image snapshot, versioned entity write, provenance
// append, and any raised conflicts. A failure of any part rolls back all of it.
type EntityService interface {
	Create(ctx context.Context, req *CreateEntityRequest) (*models.KnowledgeEntity, error)
	Get(ctx context.Context, id uuid.UUID) (*models.KnowledgeEntity, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.KnowledgeEntity, error)
	List(ctx context.Context, filter repositories.EntityFilter) ([]*models.KnowledgeEntity, error)

	// GetAtVersion returns the entity content as it stood at the given
	// version, reconstructed from the snapshot chain.
	GetAtVersion(ctx context.Context, id uuid.UUID, version int) (models.Content, error)

	Update(ctx context.Context, req *UpdateEntityRequest) (*UpdateResult, error)

	// Archive soft-deletes an entity. Archival is a versioned mutation like
	// any other: it captures a snapshot and appends provenance.
	Archive(ctx context.Context, id uuid.UUID, actor string) (*models.KnowledgeEntity, error)

	OpenConflicts(ctx context.Context, entityID uuid.UUID) ([]*models.Conflict, error)
	ResolveConflict(ctx context.Context, conflictID uuid.UUID, actor, note string) error
	DismissConflict(ctx context.Context, conflictID uuid.UUID, actor, note string) error

	Link(ctx context.Context, sourceID, targetID uuid.UUID, relType, actor string, metadata models.Content) error
	Unlink(ctx context.Context, sourceID, targetID uuid.UUID, relType string) error
	Relationships(ctx context.Context, entityID uuid.UUID, relTypes []string) ([]*models.EntityRelationship, error)

	// TemporalEvolution merges provenance and snapshot events into one
	// timestamp-ordered audit trail for the given window.
	TemporalEvolution(ctx context.Context, entityID uuid.UUID, since, until *time.Time) ([]models.EvolutionEvent, error)
}

type entityService struct {
	db            *database.DB
	entities      repositories.EntityRepository
	snapshots     repositories.SnapshotRepository
	provenance    repositories.ProvenanceRepository
	conflicts     repositories.ConflictRepository
	relationships repositories.RelationshipRepository
	embedder      embedding.Provider
	dimension     int
	clock         clock.Clock
	logger        *zap.Logger
}

// NewEntityService creates a new EntityService. embedder may be nil when no
// embedding provider is configured; requests carrying EmbedText then fail.
func NewEntityService(
	db *database.DB,
	entities repositories.EntityRepository,
	snapshots repositories.SnapshotRepository,
	provenance repositories.ProvenanceRepository,
	conflicts repositories.ConflictRepository,
	relationships repositories.RelationshipRepository,
	embedder embedding.Provider,
	dimension int,
	clk clock.Clock,
	logger *zap.Logger,
) EntityService {
	return &entityService{
		db:            db,
		entities:      entities,
		snapshots:     snapshots,
		provenance:    provenance,
		conflicts:     conflicts,
		relationships: relationships,
		embedder:      embedder,
		dimension:     dimension,
		clock:         clk,
		logger:        logger.Named("entity"),
	}
}

var _ EntityService = (*entityService)(nil)

func (s *entityService) Create(ctx context.Context, req *CreateEntityRequest) (*models.KnowledgeEntity, error) {
	if strings.TrimSpace(req.EntityType) == "" {
		return nil, fmt.Errorf("entity type is required")
	}
	if req.Content == nil {
		return nil, fmt.Errorf("entity content is required")
	}

	vector, err := s.resolveEmbedding(ctx, req.Embedding, req.EmbedText)
	if err != nil {
		return nil, err
	}

	if req.ExternalID != nil {
		_, err := s.entities.GetByExternalID(ctx, *req.ExternalID)
		if err == nil {
			return nil, apperrors.ErrDuplicateExternalID
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	now := s.clock.Now()
	e := &models.KnowledgeEntity{
		ID:         uuid.New(),
		ExternalID: req.ExternalID,
		EntityType: normalizeEntityType(req.EntityType),
		Content:    req.Content.Clone(),
		Version:    1,
		Embedding:  vector,
		Metadata:   req.Metadata,
		CreatedBy:  req.Actor,
		UpdatedBy:  req.Actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	if err := s.entities.Insert(ctx, tx, e); err != nil {
		return nil, err
	}

	prov := &models.Provenance{
		ID:        uuid.New(),
		EntityID:  e.ID,
		Action:    models.ActionCreate,
		Source:    defaultSource(req.Source),
		Evidence:  req.Evidence,
		Actor:     req.Actor,
		CreatedAt: now,
	}
	if err := s.provenance.Append(ctx, tx, prov); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit entity creation: %w", err)
	}

	s.logger.Info("entity created",
		zap.String("entity_id", e.ID.String()),
		zap.String("entity_type", e.EntityType))

	return e, nil
}

func (s *entityService) Get(ctx context.Context, id uuid.UUID) (*models.KnowledgeEntity, error) {
	return s.entities.GetByID(ctx, id)
}

func (s *entityService) GetByExternalID(ctx context.Context, externalID string) (*models.KnowledgeEntity, error) {
	return s.entities.GetByExternalID(ctx, externalID)
}

func (s *entityService) List(ctx context.Context, filter repositories.EntityFilter) ([]*models.KnowledgeEntity, error) {
	return s.entities.List(ctx, filter)
}

func (s *entityService) GetAtVersion(ctx context.Context, id uuid.UUID, version int) (models.Content, error) {
	if version < 1 {
		return nil, fmt.Errorf("version %d out of range", version)
	}

	current, err := s.entities.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if version > current.Version {
		return nil, fmt.Errorf("version %d exceeds current version %d: %w",
			version, current.Version, apperrors.ErrNotFound)
	}
	if version == current.Version {
		return current.Content.Clone(), nil
	}

	// Each snapshot preserves the full pre-image at its version, so a
	// historical read is a direct chain lookup.
	snap, err := s.snapshots.GetByVersion(ctx, id, version)
	if err != nil {
		return nil, err
	}
	return snap.Content.Clone(), nil
}

func (s *entityService) Update(ctx context.Context, req *UpdateEntityRequest) (*UpdateResult, error) {
	if len(req.Updates) == 0 {
		return nil, fmt.Errorf("update carries no fields")
	}
	if !req.Strategy.IsValid() {
		return nil, fmt.Errorf("unknown update strategy %q", req.Strategy)
	}

	current, err := s.entities.GetByID(ctx, req.EntityID)
	if err != nil {
		return nil, err
	}
	if current.Archived() {
		return nil, apperrors.ErrEntityArchived
	}
	if req.BaseVersion < 1 || req.BaseVersion > current.Version {
		return nil, fmt.Errorf("base version %d out of range for entity at version %d",
			req.BaseVersion, current.Version)
	}

	baseline := current.Content
	if req.Strategy == models.StrategyMerge && req.BaseVersion < current.Version {
		baseline, err = s.GetAtVersion(ctx, req.EntityID, req.BaseVersion)
		if err != nil {
			return nil, fmt.Errorf("failed to load baseline at version %d: %w", req.BaseVersion, err)
		}
	}

	res, err := Resolve(current.Content, baseline, req.Updates, req.Strategy)
	if err != nil {
		return nil, err
	}
	if len(res.Rejected) > 0 {
		return nil, &apperrors.FieldConflictError{
			EntityID: req.EntityID.String(),
			Fields:   res.Rejected,
		}
	}
	if !res.Changed() && len(res.Divergences) == 0 {
		// Nothing to apply and nothing diverged: not a mutation.
		return &UpdateResult{Entity: current}, nil
	}

	vector, err := s.resolveEmbedding(ctx, req.Embedding, req.EmbedText)
	if err != nil {
		return nil, err
	}
	if vector == nil {
		vector = current.Embedding
	}

	now := s.clock.Now()
	updated := *current
	updated.Content = res.Content
	updated.Version = current.Version + 1
	updated.Embedding = vector
	updated.UpdatedBy = req.Actor
	updated.UpdatedAt = now

	conflicts := make([]*models.Conflict, 0, len(res.Divergences))
	for _, d := range res.Divergences {
		conflicts = append(conflicts, &models.Conflict{
			ID:              uuid.New(),
			EntityID:        current.ID,
			Field:           d.Field,
			ProposedValue:   d.Proposed,
			CurrentValue:    d.Current,
			RaisedAtVersion: updated.Version,
			Status:          models.ConflictOpen,
			CreatedAt:       now,
		})
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	snap := &models.KnowledgeSnapshot{
		ID:        uuid.New(),
		EntityID:  current.ID,
		Version:   current.Version,
		Content:   current.Content,
		CreatedAt: now,
	}
	if err := s.snapshots.Insert(ctx, tx, snap); err != nil {
		return nil, err
	}

	if err := s.entities.UpdateVersioned(ctx, tx, &updated, current.Version); err != nil {
		return nil, err
	}

	// Reconciler-applied changes are tagged as sync actions so the ledger
	// separates them from live writes.
	action := models.ActionUpdate
	if req.Source == models.SourceMirror {
		action = models.ActionSync
	}

	prov := &models.Provenance{
		ID:       uuid.New(),
		EntityID: current.ID,
		Action:   action,
		Source:   defaultSource(req.Source),
		Evidence: req.Evidence,
		Actor:    req.Actor,
		Metadata: models.Content{
			"strategy":     string(req.Strategy),
			"base_version": req.BaseVersion,
			"applied":      res.Applied,
		},
		CreatedAt: now,
	}
	if err := s.provenance.Append(ctx, tx, prov); err != nil {
		return nil, err
	}

	if err := s.conflicts.InsertMany(ctx, tx, conflicts); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit entity update: %w", err)
	}

	s.logger.Info("entity updated",
		zap.String("entity_id", current.ID.String()),
		zap.Int("version", updated.Version),
		zap.Int("conflicts", len(conflicts)))

	return &UpdateResult{Entity: &updated, Conflicts: conflicts, Applied: res.Applied}, nil
}

func (s *entityService) Archive(ctx context.Context, id uuid.UUID, actor string) (*models.KnowledgeEntity, error) {
	current, err := s.entities.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Archived() {
		return nil, apperrors.ErrEntityArchived
	}

	now := s.clock.Now()
	updated := *current
	updated.Version = current.Version + 1
	updated.ArchivedAt = &now
	updated.UpdatedBy = actor
	updated.UpdatedAt = now

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback on defer is best-effort

	snap := &models.KnowledgeSnapshot{
		ID:        uuid.New(),
		EntityID:  current.ID,
		Version:   current.Version,
		Content:   current.Content,
		CreatedAt: now,
	}
	if err := s.snapshots.Insert(ctx, tx, snap); err != nil {
		return nil, err
	}

	if err := s.entities.UpdateVersioned(ctx, tx, &updated, current.Version); err != nil {
		return nil, err
	}

	prov := &models.Provenance{
		ID:        uuid.New(),
		EntityID:  current.ID,
		Action:    models.ActionArchive,
		Source:    models.SourceAPI,
		Actor:     actor,
		CreatedAt: now,
	}
	if err := s.provenance.Append(ctx, tx, prov); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit entity archival: %w", err)
	}

	s.logger.Info("entity archived", zap.String("entity_id", id.String()))

	return &updated, nil
}

func (s *entityService) OpenConflicts(ctx context.Context, entityID uuid.UUID) ([]*models.Conflict, error) {
	return s.conflicts.ListOpenByEntity(ctx, entityID)
}

func (s *entityService) ResolveConflict(ctx context.Context, conflictID uuid.UUID, actor, note string) error {
	return s.conflicts.Transition(ctx, conflictID, models.ConflictResolved, actor, note, s.clock.Now())
}

func (s *entityService) DismissConflict(ctx context.Context, conflictID uuid.UUID, actor, note string) error {
	return s.conflicts.Transition(ctx, conflictID, models.ConflictDismissed, actor, note, s.clock.Now())
}

func (s *entityService) Link(ctx context.Context, sourceID, targetID uuid.UUID, relType, actor string, metadata models.Content) error {
	if sourceID == targetID {
		return fmt.Errorf("self-referential relationship rejected")
	}
	for _, id := range []uuid.UUID{sourceID, targetID} {
		e, err := s.entities.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if e.Archived() {
			return apperrors.ErrEntityArchived
		}
	}

	return s.relationships.Create(ctx, &models.EntityRelationship{
		ID:           uuid.New(),
		SourceID:     sourceID,
		TargetID:     targetID,
		RelationType: relType,
		Metadata:     metadata,
		CreatedBy:    actor,
		CreatedAt:    s.clock.Now(),
	})
}

func (s *entityService) Unlink(ctx context.Context, sourceID, targetID uuid.UUID, relType string) error {
	return s.relationships.Delete(ctx, sourceID, targetID, relType)
}

func (s *entityService) Relationships(ctx context.Context, entityID uuid.UUID, relTypes []string) ([]*models.EntityRelationship, error) {
	return s.relationships.ListByEntity(ctx, entityID, relTypes)
}

func (s *entityService) TemporalEvolution(ctx context.Context, entityID uuid.UUID, since, until *time.Time) ([]models.EvolutionEvent, error) {
	provs, err := s.provenance.ListByEntity(ctx, entityID, since, until)
	if err != nil {
		return nil, err
	}

	snaps, err := s.snapshots.ListByEntity(ctx, entityID, 0)
	if err != nil {
		return nil, err
	}

	events := make([]models.EvolutionEvent, 0, len(provs)+len(snaps))
	for _, p := range provs {
		events = append(events, models.EvolutionEvent{
			Kind:       models.EventProvenance,
			Timestamp:  p.CreatedAt,
			Provenance: p,
		})
	}
	for _, sn := range snaps {
		if since != nil && sn.CreatedAt.Before(*since) {
			continue
		}
		if until != nil && sn.CreatedAt.After(*until) {
			continue
		}
		events = append(events, models.EvolutionEvent{
			Kind:      models.EventSnapshot,
			Timestamp: sn.CreatedAt,
			Snapshot:  sn,
		})
	}

	// Stable sort: a snapshot shares its timestamp with the provenance row of
	// the same mutation; the pre-image reads first.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Kind == models.EventSnapshot && events[j].Kind == models.EventProvenance
		}
		return events[i].Timestamp.Before(events[j].Timestamp)
	})

	return events, nil
}

// resolveEmbedding validates a supplied vector or derives one from text.
func (s *entityService) resolveEmbedding(ctx context.Context, vector []float32, text string) ([]float32, error) {
	if vector != nil {
		if len(vector) != s.dimension {
			return nil, &apperrors.DimensionMismatchError{Got: len(vector), Want: s.dimension}
		}
		return vector, nil
	}
	if text == "" {
		return nil, nil
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}

	out, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(out) != s.dimension {
		return nil, &apperrors.DimensionMismatchError{Got: len(out), Want: s.dimension}
	}
	return out, nil
}

// normalizeEntityType lowercases and singularizes the type so "Technologies"
// and "technology" land in the same bucket.
func normalizeEntityType(t string) string {
	return inflection.Singular(strings.ToLower(strings.TrimSpace(t)))
}

func defaultSource(source string) string {
	if source == "" {
		return models.SourceAPI
	}
	return source
}
