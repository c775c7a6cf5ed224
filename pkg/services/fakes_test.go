package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strataforge/strata-engine/pkg/apperrors"
	"github.com/strataforge/strata-engine/pkg/database"
	"github.com/strataforge/strata-engine/pkg/mirror"
	"github.com/strataforge/strata-engine/pkg/models"
	"github.com/strataforge/strata-engine/pkg/repositories"
)

// fakeEntityRepo is an in-memory EntityRepository for unit tests. Only the
// read paths the retrieval and sync services exercise are implemented.
type fakeEntityRepo struct {
	mu       sync.Mutex
	entities map[uuid.UUID]*models.KnowledgeEntity
}

func newFakeEntityRepo(entities ...*models.KnowledgeEntity) *fakeEntityRepo {
	r := &fakeEntityRepo{entities: make(map[uuid.UUID]*models.KnowledgeEntity)}
	for _, e := range entities {
		r.entities[e.ID] = e
	}
	return r
}

var _ repositories.EntityRepository = (*fakeEntityRepo)(nil)

func (r *fakeEntityRepo) Insert(_ context.Context, _ database.Querier, e *models.KnowledgeEntity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities[e.ID] = e
	return nil
}

func (r *fakeEntityRepo) GetByID(_ context.Context, id uuid.UUID) (*models.KnowledgeEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return e, nil
}

func (r *fakeEntityRepo) GetByExternalID(_ context.Context, externalID string) (*models.KnowledgeEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entities {
		if e.ExternalID != nil && *e.ExternalID == externalID {
			return e, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *fakeEntityRepo) List(_ context.Context, filter repositories.EntityFilter) ([]*models.KnowledgeEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.KnowledgeEntity, 0, len(r.entities))
	for _, e := range r.entities {
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if !filter.IncludeArchived && e.Archived() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *fakeEntityRepo) UpdateVersioned(_ context.Context, _ database.Querier, e *models.KnowledgeEntity, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.entities[e.ID]
	if !ok || stored.Version != expectedVersion {
		return apperrors.ErrVersionConflict
	}
	r.entities[e.ID] = e
	return nil
}

func (r *fakeEntityRepo) MergeProperties(_ context.Context, id uuid.UUID, props models.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entities[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if e.Properties == nil {
		e.Properties = models.Content{}
	}
	for k, v := range props {
		e.Properties[k] = v
	}
	return nil
}

func (r *fakeEntityRepo) ListWithEmbeddings(_ context.Context) ([]*models.KnowledgeEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.KnowledgeEntity, 0)
	for _, e := range r.entities {
		if !e.Archived() && e.Embedding != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEntityRepo) ListLive(_ context.Context) ([]*models.KnowledgeEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.KnowledgeEntity, 0)
	for _, e := range r.entities {
		if !e.Archived() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEntityRepo) ChangedSince(_ context.Context, changeSeq int64, limit int) ([]*models.KnowledgeEntity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.KnowledgeEntity, 0)
	for _, e := range r.entities {
		if e.ChangeSeq > changeSeq {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChangeSeq < out[j].ChangeSeq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeRelationshipRepo serves edges from a static slice.
type fakeRelationshipRepo struct {
	edges []*models.EntityRelationship
}

var _ repositories.RelationshipRepository = (*fakeRelationshipRepo)(nil)

func (r *fakeRelationshipRepo) Create(_ context.Context, rel *models.EntityRelationship) error {
	r.edges = append(r.edges, rel)
	return nil
}

func (r *fakeRelationshipRepo) Delete(_ context.Context, sourceID, targetID uuid.UUID, relType string) error {
	for i, e := range r.edges {
		if e.SourceID == sourceID && e.TargetID == targetID && e.RelationType == relType {
			r.edges = append(r.edges[:i], r.edges[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *fakeRelationshipRepo) ListByEntity(_ context.Context, entityID uuid.UUID, relTypes []string) ([]*models.EntityRelationship, error) {
	allowed := func(rt string) bool {
		if len(relTypes) == 0 {
			return true
		}
		for _, t := range relTypes {
			if t == rt {
				return true
			}
		}
		return false
	}
	out := make([]*models.EntityRelationship, 0)
	for _, e := range r.edges {
		if (e.SourceID == entityID || e.TargetID == entityID) && allowed(e.RelationType) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeRelationshipRepo) ListAll(_ context.Context, relType string) ([]*models.EntityRelationship, error) {
	if relType == "" {
		return r.edges, nil
	}
	out := make([]*models.EntityRelationship, 0)
	for _, e := range r.edges {
		if e.RelationType == relType {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeCursorRepo keeps cursors in memory.
type fakeCursorRepo struct {
	mu      sync.Mutex
	cursors map[models.SyncDirection]*models.SyncCursor
}

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{cursors: map[models.SyncDirection]*models.SyncCursor{
		models.SyncToMirror:   {Direction: models.SyncToMirror},
		models.SyncFromMirror: {Direction: models.SyncFromMirror},
	}}
}

var _ repositories.SyncCursorRepository = (*fakeCursorRepo)(nil)

func (r *fakeCursorRepo) Get(_ context.Context, direction models.SyncDirection) (*models.SyncCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[direction]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCursorRepo) Advance(_ context.Context, cursor *models.SyncCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *cursor
	r.cursors[cursor.Direction] = &cp
	return nil
}

// fakeMirror is an in-memory Mirror honoring the no-downgrade rule.
type fakeMirror struct {
	mu   sync.Mutex
	rows map[string]*mirror.Row

	// failOn forces Upsert errors for specific external ids.
	failOn map[string]error
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		rows:   make(map[string]*mirror.Row),
		failOn: make(map[string]error),
	}
}

var _ mirror.Mirror = (*fakeMirror)(nil)

func (m *fakeMirror) Upsert(_ context.Context, row *mirror.Row) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOn[row.ExternalID]; ok {
		return false, err
	}
	existing, ok := m.rows[row.ExternalID]
	if ok && existing.Version >= row.Version {
		return false, nil
	}
	cp := *row
	m.rows[row.ExternalID] = &cp
	return true, nil
}

func (m *fakeMirror) Get(_ context.Context, externalID string) (*mirror.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[externalID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *fakeMirror) ChangedSince(_ context.Context, since time.Time, limit int) ([]*mirror.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*mirror.Row, 0)
	for _, row := range m.rows {
		if !row.UpdatedAt.Before(since) {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *fakeMirror) Close() error { return nil }
