package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/strataforge/strata-engine/pkg/apperrors"
	"github.com/strataforge/strata-engine/pkg/clock"
	"github.com/strataforge/strata-engine/pkg/mirror"
	"github.com/strataforge/strata-engine/pkg/models"
	"github.com/strataforge/strata-engine/pkg/repositories"
)

// SyncService reconciles the substrate with the relational mirror. Each
// direction is a single-writer batch process: a second pass in the same
// direction while one is running gets ErrSyncInProgress. The two directions
// may run concurrently with each other and with live entity traffic.
type SyncService interface {
	// ToMirror pushes substrate changes since the cursor into the mirror.
	// The substrate's version always wins: mirror rows at an equal or higher
	// version are skipped, never downgraded.
	ToMirror(ctx context.Context) (*models.SyncReport, error)

	// FromMirror applies mirror-side changes through the normal update path,
	// so the same conflict resolution and invariants hold. Nothing bypasses
	// the resolver.
	FromMirror(ctx context.Context) (*models.SyncReport, error)
}

type syncService struct {
	entities  repositories.EntityRepository
	entitySvc EntityService
	cursors   repositories.SyncCursorRepository
	mirror    mirror.Mirror
	clock     clock.Clock
	batchSize int
	logger    *zap.Logger

	toMu   sync.Mutex
	fromMu sync.Mutex
}

// SyncActor is the actor recorded on provenance rows written by sync passes.
const SyncActor = "sync-reconciler"

// NewSyncService creates a new SyncService.
func NewSyncService(
	entities repositories.EntityRepository,
	entitySvc EntityService,
	cursors repositories.SyncCursorRepository,
	m mirror.Mirror,
	clk clock.Clock,
	batchSize int,
	logger *zap.Logger,
) SyncService {
	if batchSize < 1 {
		batchSize = 500
	}
	return &syncService{
		entities:  entities,
		entitySvc: entitySvc,
		cursors:   cursors,
		mirror:    m,
		clock:     clk,
		batchSize: batchSize,
		logger:    logger.Named("sync"),
	}
}

var _ SyncService = (*syncService)(nil)

func (s *syncService) ToMirror(ctx context.Context) (*models.SyncReport, error) {
	if !s.toMu.TryLock() {
		return nil, apperrors.ErrSyncInProgress
	}
	defer s.toMu.Unlock()

	cursor, err := s.cursors.Get(ctx, models.SyncToMirror)
	if err != nil {
		return nil, err
	}

	changed, err := s.entities.ChangedSince(ctx, cursor.LastVersion, s.batchSize)
	if err != nil {
		return nil, err
	}

	report := &models.SyncReport{Direction: models.SyncToMirror, Scanned: len(changed)}
	var failures []apperrors.SyncItemFailure
	maxSeq := cursor.LastVersion

	for _, e := range changed {
		if e.ChangeSeq > maxSeq {
			maxSeq = e.ChangeSeq
		}
		// Entities never registered with the mirror, and archived ones, stay
		// substrate-only.
		if e.ExternalID == nil || e.Archived() {
			report.Skipped++
			continue
		}

		row := &mirror.Row{
			ExternalID:  *e.ExternalID,
			EntityType:  e.EntityType,
			Content:     e.Content,
			ContentHash: e.Content.Hash(),
			Version:     e.Version,
			UpdatedAt:   e.UpdatedAt,
		}

		existing, err := s.mirror.Get(ctx, row.ExternalID)
		if err != nil {
			failures = append(failures, apperrors.SyncItemFailure{ExternalID: row.ExternalID, Err: err})
			report.Failed++
			continue
		}
		if existing != nil && existing.ContentHash == row.ContentHash {
			// Replay of an already-applied change set; dedup by content hash.
			report.Skipped++
			continue
		}

		applied, err := s.mirror.Upsert(ctx, row)
		if err != nil {
			failures = append(failures, apperrors.SyncItemFailure{ExternalID: row.ExternalID, Err: err})
			report.Failed++
			continue
		}
		if applied {
			report.Applied++
		} else {
			// The mirror row already sits at an equal or higher version.
			report.Skipped++
		}
	}

	if len(failures) > 0 {
		// Cursor stays put so the next pass retries the whole batch.
		s.logger.Warn("to-mirror pass partially failed",
			zap.Int("applied", report.Applied),
			zap.Int("failed", report.Failed))
		return report, &apperrors.SyncPartialError{
			Direction: string(models.SyncToMirror),
			Applied:   report.Applied,
			Failures:  failures,
		}
	}

	if maxSeq > cursor.LastVersion {
		cursor.LastVersion = maxSeq
		cursor.UpdatedAt = s.clock.Now()
		if err := s.cursors.Advance(ctx, cursor); err != nil {
			return report, fmt.Errorf("failed to advance to-mirror cursor: %w", err)
		}
	}

	s.logger.Info("to-mirror pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped))

	return report, nil
}

func (s *syncService) FromMirror(ctx context.Context) (*models.SyncReport, error) {
	if !s.fromMu.TryLock() {
		return nil, apperrors.ErrSyncInProgress
	}
	defer s.fromMu.Unlock()

	cursor, err := s.cursors.Get(ctx, models.SyncFromMirror)
	if err != nil {
		return nil, err
	}

	rows, err := s.mirror.ChangedSince(ctx, cursor.LastTimestamp, s.batchSize)
	if err != nil {
		return nil, err
	}

	report := &models.SyncReport{Direction: models.SyncFromMirror, Scanned: len(rows)}
	var failures []apperrors.SyncItemFailure
	maxTs := cursor.LastTimestamp

	for _, row := range rows {
		if row.UpdatedAt.After(maxTs) {
			maxTs = row.UpdatedAt
		}

		applied, err := s.applyMirrorRow(ctx, row)
		if err != nil {
			failures = append(failures, apperrors.SyncItemFailure{ExternalID: row.ExternalID, Err: err})
			report.Failed++
			continue
		}
		if applied {
			report.Applied++
		} else {
			report.Skipped++
		}
	}

	if len(failures) > 0 {
		s.logger.Warn("from-mirror pass partially failed",
			zap.Int("applied", report.Applied),
			zap.Int("failed", report.Failed))
		return report, &apperrors.SyncPartialError{
			Direction: string(models.SyncFromMirror),
			Applied:   report.Applied,
			Failures:  failures,
		}
	}

	if maxTs.After(cursor.LastTimestamp) {
		cursor.LastTimestamp = maxTs
		cursor.UpdatedAt = s.clock.Now()
		if err := s.cursors.Advance(ctx, cursor); err != nil {
			return report, fmt.Errorf("failed to advance from-mirror cursor: %w", err)
		}
	}

	s.logger.Info("from-mirror pass complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("applied", report.Applied),
		zap.Int("skipped", report.Skipped))

	return report, nil
}

// applyMirrorRow routes one mirror change through the entity service. Returns
// false when the change was a dedup no-op.
func (s *syncService) applyMirrorRow(ctx context.Context, row *mirror.Row) (bool, error) {
	local, err := s.entitySvc.GetByExternalID(ctx, row.ExternalID)
	if errors.Is(err, apperrors.ErrNotFound) {
		externalID := row.ExternalID
		_, err := s.entitySvc.Create(ctx, &CreateEntityRequest{
			ExternalID: &externalID,
			EntityType: row.EntityType,
			Content:    row.Content,
			Actor:      SyncActor,
			Source:     models.SourceMirror,
			Evidence:   fmt.Sprintf("mirror row at version %d", row.Version),
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if local.Archived() {
		return false, nil
	}
	if local.Content.Hash() == row.ContentHash {
		// Already applied; replaying the same change set is a no-op.
		return false, nil
	}

	result, err := s.entitySvc.Update(ctx, &UpdateEntityRequest{
		EntityID:    local.ID,
		BaseVersion: local.Version,
		Updates:     row.Content,
		Strategy:    models.StrategyMerge,
		Actor:       SyncActor,
		Source:      models.SourceMirror,
		Evidence:    fmt.Sprintf("mirror row at version %d", row.Version),
	})
	if err != nil {
		return false, err
	}

	return result.Entity.Version > local.Version, nil
}
