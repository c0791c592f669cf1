package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/runindex"
	"gorm.io/gorm"
)

// CreateRun inserts a run and its index entry in one transaction. Once it
// returns, range queries observe the run.
func (s *store) CreateRun(ctx context.Context, run *model.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	if run.ID == "" {
		run.ID = newID()
	}

	run.Rev = 1

	rec := runRecordFromModel(run)
	key := runindex.KeyFor(run)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&testRecord{}).
			Where("id = ?", run.TestID).
			Count(&count).Error; err != nil {
			return unavailable("checking test", err)
		}

		if count == 0 {
			return fmt.Errorf("creating run for %q: %w", run.TestID, ErrUnknownTest)
		}

		if err := tx.Create(rec).Error; err != nil {
			return unavailable("creating run", err)
		}

		if err := tx.Create(&indexRecord{
			TestID:   key.TestID,
			Platform: key.Platform,
			RunID:    run.ID,
		}).Error; err != nil {
			return unavailable("indexing run", err)
		}

		return nil
	})
	if err != nil {
		run.Rev = 0

		return err
	}

	s.changes.publish(*run)

	return nil
}

// GetRun reads a run.
func (s *store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var rec runRecord
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("getting run %q: %w", id, ErrNotFound)
		}

		return nil, unavailable("getting run", err)
	}

	run := rec.toModel()

	return &run, nil
}

// UpdateRun writes a new revision of a run. Fields that are already set
// and write-once (test_id, client_identifier, start_time, stop_time) must
// not change; an unset start_time or stop_time may be filled in.
func (s *store) UpdateRun(ctx context.Context, run *model.Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	next := runRecordFromModel(run)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur runRecord
		if err := tx.Where("id = ?", run.ID).First(&cur).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("updating run %q: %w", run.ID, ErrNotFound)
			}

			return unavailable("reading run", err)
		}

		if cur.Rev != run.Rev {
			return fmt.Errorf("updating run %q: %w", run.ID, ErrConflict)
		}

		if err := checkWriteOnce(&cur, next); err != nil {
			return fmt.Errorf("updating run %q: %w", run.ID, err)
		}

		result := tx.Model(&runRecord{}).
			Where("id = ? AND rev = ?", run.ID, run.Rev).
			Updates(map[string]any{
				"rev":          run.Rev + 1,
				"start_time":   next.StartTime,
				"stop_time":    next.StopTime,
				"payload_json": next.PayloadJSON,
			})
		if result.Error != nil {
			return unavailable("updating run", result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("updating run %q: %w", run.ID, ErrConflict)
		}

		return nil
	})
	if err != nil {
		return err
	}

	run.Rev++
	s.changes.publish(*run)

	return nil
}

// QueryRunRange returns the runs whose index key lies in r, ordered by key
// and then insertion order.
func (s *store) QueryRunRange(
	ctx context.Context, r runindex.Range,
) ([]model.Run, error) {
	var recs []runRecord

	q := s.db.WithContext(ctx).
		Table("runs").
		Select("runs.*").
		Joins("JOIN run_index ON run_index.run_id = runs.id")

	if r.Lo.TestID == r.Hi.TestID {
		q = q.Where(
			"run_index.test_id = ? AND run_index.platform >= ? AND run_index.platform <= ?",
			r.Lo.TestID, r.Lo.Platform, r.Hi.Platform,
		)
	} else {
		q = q.Where(
			"(run_index.test_id > ? OR (run_index.test_id = ? AND run_index.platform >= ?))",
			r.Lo.TestID, r.Lo.TestID, r.Lo.Platform,
		).Where(
			"(run_index.test_id < ? OR (run_index.test_id = ? AND run_index.platform <= ?))",
			r.Hi.TestID, r.Hi.TestID, r.Hi.Platform,
		)
	}

	if err := q.
		Order("run_index.test_id ASC, run_index.platform ASC, run_index.seq ASC").
		Find(&recs).Error; err != nil {
		return nil, unavailable("querying run range", err)
	}

	runs := make([]model.Run, 0, len(recs))
	for i := range recs {
		runs = append(runs, recs[i].toModel())
	}

	return runs, nil
}

func checkWriteOnce(cur, next *runRecord) error {
	if cur.TestID != next.TestID {
		return fmt.Errorf("test_id: %w", ErrImmutableField)
	}

	if !sameString(cur.ClientIdentifier, next.ClientIdentifier) {
		return fmt.Errorf("client_identifier: %w", ErrImmutableField)
	}

	if cur.StartTime != nil && !sameInstant(cur.StartTime, next.StartTime) {
		return fmt.Errorf("start_time: %w", ErrImmutableField)
	}

	if cur.StopTime != nil && !sameInstant(cur.StopTime, next.StopTime) {
		return fmt.Errorf("stop_time: %w", ErrImmutableField)
	}

	return nil
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return *a == *b
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	return a.Truncate(stampPrecision).Equal(b.Truncate(stampPrecision))
}
