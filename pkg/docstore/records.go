package docstore

import (
	"encoding/json"
	"time"

	"github.com/ethpandaops/perception/pkg/model"
)

type testRecord struct {
	ID          string `gorm:"primaryKey"`
	Rev         int64  `gorm:"not null"`
	Source      string `gorm:"type:text"`
	URL         string `gorm:"type:text"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (testRecord) TableName() string { return "tests" }

func (r *testRecord) toModel() *model.Test {
	t := &model.Test{
		ID:          r.ID,
		Rev:         r.Rev,
		Source:      r.Source,
		URL:         r.URL,
		Description: r.Description,
	}

	t.Canonicalize()

	return t
}

type runRecord struct {
	ID               string `gorm:"primaryKey"`
	Rev              int64  `gorm:"not null"`
	TestID           string `gorm:"not null;index"`
	ClientIdentifier *string
	StartTime        *time.Time
	StopTime         *time.Time

	// Measurement payload serialized as JSON.
	PayloadJSON string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (runRecord) TableName() string { return "runs" }

func runRecordFromModel(run *model.Run) *runRecord {
	rec := &runRecord{
		ID:               run.ID,
		Rev:              run.Rev,
		TestID:           run.TestID,
		ClientIdentifier: run.ClientIdentifier,
		StartTime:        stampPtr(run.StartTime),
		StopTime:         stampPtr(run.StopTime),
	}

	if len(run.MeasurementPayload) > 0 {
		rec.PayloadJSON = string(run.MeasurementPayload)
	}

	return rec
}

func (r *runRecord) toModel() model.Run {
	run := model.Run{
		ID:               r.ID,
		Rev:              r.Rev,
		TestID:           r.TestID,
		ClientIdentifier: r.ClientIdentifier,
		StartTime:        utcPtr(r.StartTime),
		StopTime:         utcPtr(r.StopTime),
	}

	if r.PayloadJSON != "" {
		run.MeasurementPayload = json.RawMessage(r.PayloadJSON)
	}

	return run
}

// indexRecord is one entry of the (test_id, platform) run index. Seq
// preserves insertion order inside a key.
type indexRecord struct {
	Seq      uint   `gorm:"primaryKey;autoIncrement"`
	TestID   string `gorm:"not null;index:idx_run_index_key,priority:1"`
	Platform string `gorm:"not null;size:16;index:idx_run_index_key,priority:2"`
	RunID    string `gorm:"not null;uniqueIndex"`
}

func (indexRecord) TableName() string { return "run_index" }

// stampPrecision is the finest instant every supported driver round-trips;
// postgres timestamptz keeps microseconds.
const stampPrecision = time.Microsecond

func stampPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := t.UTC().Truncate(stampPrecision)

	return &v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	v := t.UTC()

	return &v
}
