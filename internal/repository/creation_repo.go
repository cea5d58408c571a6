package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/rin/mnemo/internal/domain"
)

// CreationRepository handles creation record operations. Records are
// append-only: there is no update path once a run has persisted.
type CreationRepository struct {
	db *gorm.DB
}

// NewCreationRepository creates a new CreationRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *CreationRepository: repository instance bound to db.
func NewCreationRepository(db *gorm.DB) *CreationRepository {
	return &CreationRepository{db: db}
}

// Create inserts a new creation record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - creation: record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *CreationRepository) Create(ctx context.Context, creation *domain.Creation) error {
	return r.db.WithContext(ctx).Create(creation).Error
}

// Delete removes a creation record by ID. Only used to roll back a
// half-finished persist; completed records are never deleted.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: record ID.
// Returns:
//   - error: non-nil if the delete fails.
func (r *CreationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Creation{}, "id = ?", id).Error
}

// GetByID retrieves a creation by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: record ID.
// Returns:
//   - *domain.Creation: record if found.
//   - error: domain.ErrNotFound if missing, otherwise the lookup error.
func (r *CreationRepository) GetByID(ctx context.Context, id string) (*domain.Creation, error) {
	var creation domain.Creation
	if err := r.db.WithContext(ctx).First(&creation, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &creation, nil
}

// GetByIDs retrieves multiple creations by their IDs. Missing IDs are
// silently skipped; the result order is unspecified.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: record IDs to fetch.
// Returns:
//   - []domain.Creation: found records.
//   - error: non-nil if the lookup fails.
func (r *CreationRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Creation, error) {
	if len(ids) == 0 {
		return []domain.Creation{}, nil
	}
	var creations []domain.Creation
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&creations).Error; err != nil {
		return nil, err
	}
	return creations, nil
}

// Recent retrieves the most recent creations, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of records to return.
// Returns:
//   - []domain.Creation: records ordered by created_at descending.
//   - error: non-nil if the query fails.
func (r *CreationRepository) Recent(ctx context.Context, limit int) ([]domain.Creation, error) {
	if limit <= 0 {
		limit = 10
	}
	var creations []domain.Creation
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&creations).Error; err != nil {
		return nil, err
	}
	return creations, nil
}

// Count returns the total number of creation records.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - int64: record count.
//   - error: non-nil if the query fails.
func (r *CreationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Creation{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// AllTags returns the tag arrays of every record, for frequency stats.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - []domain.StringArray: one tag array per record.
//   - error: non-nil if the query fails.
func (r *CreationRepository) AllTags(ctx context.Context) ([]domain.StringArray, error) {
	var tags []domain.StringArray
	if err := r.db.WithContext(ctx).Model(&domain.Creation{}).Pluck("tags", &tags).Error; err != nil {
		return nil, err
	}
	return tags, nil
}

// DateRange returns the earliest and latest creation timestamps.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - time.Time: earliest created_at, zero when the table is empty.
//   - time.Time: latest created_at, zero when the table is empty.
//   - error: non-nil if the query fails.
func (r *CreationRepository) DateRange(ctx context.Context) (time.Time, time.Time, error) {
	var bounds struct {
		First *time.Time
		Last  *time.Time
	}
	err := r.db.WithContext(ctx).Model(&domain.Creation{}).
		Select("MIN(created_at) AS first, MAX(created_at) AS last").
		Scan(&bounds).Error
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	var first, last time.Time
	if bounds.First != nil {
		first = *bounds.First
	}
	if bounds.Last != nil {
		last = *bounds.Last
	}
	return first, last, nil
}
