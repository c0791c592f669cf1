// Package docstore persists Test and Run documents with revisions and
// maintains the (test_id, platform) run index alongside run inserts.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/perception/pkg/config"
	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/runindex"
	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrConflict is returned when an update or delete carries a stale rev.
	ErrConflict = errors.New("document revision conflict")
	// ErrUnavailable wraps every failure of the underlying database.
	ErrUnavailable = errors.New("document store unavailable")
	// ErrImmutableField is returned when an update touches a write-once
	// run field that is already set.
	ErrImmutableField = errors.New("write-once field cannot change")
	// ErrUnknownTest is returned when a run references a missing test.
	ErrUnknownTest = errors.New("run references unknown test")
)

// Store persists tests and runs.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	CreateTest(ctx context.Context, test *model.Test) error
	GetTest(ctx context.Context, id string) (*model.Test, error)
	UpdateTest(ctx context.Context, test *model.Test) error
	DeleteTest(ctx context.Context, id string, rev int64) error
	ListTests(ctx context.Context) ([]model.Test, error)
	MigrateLegacyTests(ctx context.Context) (int, error)

	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	UpdateRun(ctx context.Context, run *model.Run) error
	QueryRunRange(ctx context.Context, r runindex.Range) ([]model.Run, error)

	// Subscribe streams runs as they are created or updated. An empty
	// testID receives every run. The returned func cancels the
	// subscription and closes the channel.
	Subscribe(testID string) (<-chan model.Run, func())
}

// Compile-time interface checks.
var (
	_ Store                 = (*store)(nil)
	_ runindex.RangeQuerier = (*store)(nil)
)

type store struct {
	log     logrus.FieldLogger
	cfg     *config.APIDatabaseConfig
	db      *gorm.DB
	changes *notifier
}

// NewStore creates a new document Store backed by the configured database
// driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log:     log.WithField("component", "docstore"),
		cfg:     cfg,
		changes: newNotifier(),
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.DSN())
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening document database: %w", err)
	}

	s.db = db

	if s.cfg.Driver == "sqlite" {
		// A single connection keeps ":memory:" databases shared and
		// avoids SQLITE_BUSY between the run and index writes.
		sqlDB, err := s.db.DB()
		if err != nil {
			return fmt.Errorf("getting underlying db: %w", err)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&testRecord{},
		&runRecord{},
		&indexRecord{},
	); err != nil {
		return fmt.Errorf("running document migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).
		Info("Document database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	s.changes.closeAll()

	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// Subscribe registers a change listener.
func (s *store) Subscribe(testID string) (<-chan model.Run, func()) {
	return s.changes.subscribe(testID)
}

func newID() string {
	return ulid.Make().String()
}

// unavailable tags a driver error so callers can match ErrUnavailable
// while keeping the original cause.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
