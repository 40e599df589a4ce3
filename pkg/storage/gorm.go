package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oraclade/predictmarket/pkg/core"
	"github.com/oraclade/predictmarket/pkg/security"
)

// GormStore implements core.Store using GORM. All conflicting writes to the
// same job are serialized by the concurrency token: updates carry a
// `WHERE token = ?` guard and a zero RowsAffected is reported as
// core.ErrTokenConflict.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GORM-backed store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB returns the underlying gorm handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// IsSQLite reports whether the store is backed by SQLite.
func (s *GormStore) IsSQLite() bool {
	return s.db != nil && s.db.Dialector.Name() == "sqlite"
}

// Migrate creates the necessary tables.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{})
}

// Create persists a new job.
func (s *GormStore) Create(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.State == "" {
		job.State = core.StatePending
	}
	if job.Mode == "" {
		job.Mode = core.ModeOrchestrated
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// Get returns a job by ID, or core.ErrNotFound.
func (s *GormStore) Get(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Query returns jobs matching the filter, most recent first.
func (s *GormStore) Query(ctx context.Context, f core.Filter) ([]*core.Job, error) {
	q := s.db.WithContext(ctx).Model(&core.Job{})
	if f.Owner != "" {
		q = q.Where("owner = ?", f.Owner)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.Mode != "" {
		q = q.Where("mode = ?", f.Mode)
	}
	if f.Pipeline != "" {
		q = q.Where("pipeline = ?", f.Pipeline)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var jobs []*core.Job
	err := q.Order("created_at DESC").Find(&jobs).Error
	return jobs, err
}

// UpdateIfTokenMatches applies an optimistic-lock-guarded mutation. The
// record is reloaded inside a transaction, the caller's expected token is
// checked, mutate runs against the fresh copy, and the write carries a
// WHERE guard on the old token so a racing writer cannot be overwritten.
func (s *GormStore) UpdateIfTokenMatches(ctx context.Context, jobID string, expected uint64, mutate func(*core.Job) error) (*core.Job, error) {
	var out core.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job core.Job
		if err := tx.First(&job, "id = ?", jobID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return core.ErrNotFound
			}
			return err
		}
		if job.Token != expected {
			return core.ErrTokenConflict
		}

		if err := mutate(&job); err != nil {
			return err
		}
		job.Error = security.SanitizeErrorMessage(job.Error)
		job.Token = expected + 1

		res := tx.Model(&core.Job{}).
			Where("id = ? AND token = ?", jobID, expected).
			Select("*").
			Updates(&job)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return core.ErrTokenConflict
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExpiredLeases returns Processing jobs whose lease expired before now.
func (s *GormStore) ListExpiredLeases(ctx context.Context, now time.Time) ([]*core.Job, error) {
	var jobs []*core.Job
	err := s.db.WithContext(ctx).
		Where("state = ?", core.StateProcessing).
		Where("holder_id <> ''").
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Find(&jobs).Error
	return jobs, err
}

// CountActiveByOwner groups non-terminal jobs by owner for admission
// recovery. Anonymous jobs are excluded.
func (s *GormStore) CountActiveByOwner(ctx context.Context) (map[string]int, error) {
	type row struct {
		Owner string
		N     int
	}
	var rows []row
	err := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Select("owner, COUNT(*) AS n").
		Where("owner <> ''").
		Where("state IN ?", []core.JobState{core.StatePending, core.StateProcessing}).
		Group("owner").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Owner] = r.N
	}
	return counts, nil
}
