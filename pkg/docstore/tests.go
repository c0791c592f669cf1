package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/perception/pkg/model"
	"gorm.io/gorm"
)

// CreateTest inserts a new test, assigning its id (when empty) and rev.
func (s *store) CreateTest(ctx context.Context, test *model.Test) error {
	if test.ID == "" {
		test.ID = newID()
	}

	test.Rev = 1

	rec := &testRecord{
		ID:          test.ID,
		Rev:         test.Rev,
		Source:      test.Source,
		URL:         test.URL,
		Description: test.Description,
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return unavailable("creating test", err)
	}

	return nil
}

// GetTest reads a test. Legacy records without source are canonicalized
// on read.
func (s *store) GetTest(ctx context.Context, id string) (*model.Test, error) {
	var rec testRecord
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("getting test %q: %w", id, ErrNotFound)
		}

		return nil, unavailable("getting test", err)
	}

	return rec.toModel(), nil
}

// UpdateTest replaces a test's fields when test.Rev matches the stored rev
// and bumps the rev.
func (s *store) UpdateTest(ctx context.Context, test *model.Test) error {
	result := s.db.WithContext(ctx).
		Model(&testRecord{}).
		Where("id = ? AND rev = ?", test.ID, test.Rev).
		Updates(map[string]any{
			"rev":         test.Rev + 1,
			"source":      test.Source,
			"url":         test.URL,
			"description": test.Description,
		})
	if result.Error != nil {
		return unavailable("updating test", result.Error)
	}

	if result.RowsAffected == 0 {
		return s.missingOrConflict(ctx, &testRecord{}, test.ID)
	}

	test.Rev++

	return nil
}

// DeleteTest removes a test together with its runs and index entries.
func (s *store) DeleteTest(ctx context.Context, id string, rev int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ? AND rev = ?", id, rev).
			Delete(&testRecord{})
		if result.Error != nil {
			return unavailable("deleting test", result.Error)
		}

		if result.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&testRecord{}).
				Where("id = ?", id).
				Count(&count).Error; err != nil {
				return unavailable("checking test", err)
			}

			if count == 0 {
				return fmt.Errorf("deleting test %q: %w", id, ErrNotFound)
			}

			return fmt.Errorf("deleting test %q: %w", id, ErrConflict)
		}

		if err := tx.Where("test_id = ?", id).
			Delete(&indexRecord{}).Error; err != nil {
			return unavailable("deleting run index entries", err)
		}

		if err := tx.Where("test_id = ?", id).
			Delete(&runRecord{}).Error; err != nil {
			return unavailable("deleting runs", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithField("test_id", id).Info("Deleted test and its runs")

	return nil
}

// ListTests returns all tests ordered by their effective source, then id.
func (s *store) ListTests(ctx context.Context) ([]model.Test, error) {
	var recs []testRecord
	if err := s.db.WithContext(ctx).
		Order("CASE WHEN source <> '' THEN source ELSE url END ASC, id ASC").
		Find(&recs).Error; err != nil {
		return nil, unavailable("listing tests", err)
	}

	tests := make([]model.Test, 0, len(recs))
	for i := range recs {
		tests = append(tests, *recs[i].toModel())
	}

	return tests, nil
}

// MigrateLegacyTests persists the source := url fallback for every test
// still missing a source and returns how many were rewritten.
func (s *store) MigrateLegacyTests(ctx context.Context) (int, error) {
	result := s.db.WithContext(ctx).
		Model(&testRecord{}).
		Where("(source = '' OR source IS NULL) AND url <> ''").
		Updates(map[string]any{
			"source": gorm.Expr("url"),
			"rev":    gorm.Expr("rev + 1"),
		})
	if result.Error != nil {
		return 0, unavailable("migrating legacy tests", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).
			Info("Migrated legacy tests")
	}

	return int(result.RowsAffected), nil
}

// missingOrConflict decides why a rev-guarded write touched no rows.
func (s *store) missingOrConflict(
	ctx context.Context, table any, id string,
) error {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(table).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return unavailable("checking document", err)
	}

	if count == 0 {
		return fmt.Errorf("document %q: %w", id, ErrNotFound)
	}

	return fmt.Errorf("document %q: %w", id, ErrConflict)
}
