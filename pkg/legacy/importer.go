package legacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/perception/pkg/docstore"
	"github.com/ethpandaops/perception/pkg/model"
	"github.com/sirupsen/logrus"
)

// Store is the document store surface the importer writes through.
type Store interface {
	GetTest(ctx context.Context, id string) (*model.Test, error)
	CreateTest(ctx context.Context, test *model.Test) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	CreateRun(ctx context.Context, run *model.Run) error
}

// Result summarises an import.
type Result struct {
	TestsCreated  int `json:"tests_created"`
	TestsExisting int `json:"tests_existing"`
	RunsCreated   int `json:"runs_created"`
	RunsExisting  int `json:"runs_existing"`
	RunsRejected  int `json:"runs_rejected"`
}

// Importer writes a Dump into the store. Document ids are preserved so
// run references stay valid and a repeated import is a no-op.
type Importer struct {
	log   logrus.FieldLogger
	store Store
}

// NewImporter creates an Importer.
func NewImporter(log logrus.FieldLogger, store Store) *Importer {
	return &Importer{
		log:   log.WithField("component", "legacy-import"),
		store: store,
	}
}

// Import creates every test, then every run. Runs violating the run
// invariants or referencing missing tests are rejected and logged; store
// failures abort the import.
func (im *Importer) Import(ctx context.Context, dump *Dump) (*Result, error) {
	res := &Result{}

	for i := range dump.Tests {
		test := dump.Tests[i]

		exists, err := im.testExists(ctx, test.ID)
		if err != nil {
			return res, err
		}

		if exists {
			res.TestsExisting++

			continue
		}

		if err := im.store.CreateTest(ctx, &test); err != nil {
			return res, fmt.Errorf("importing test %s: %w", test.ID, err)
		}

		res.TestsCreated++
	}

	for i := range dump.Runs {
		run := dump.Runs[i]

		exists, err := im.runExists(ctx, run.ID)
		if err != nil {
			return res, err
		}

		if exists {
			res.RunsExisting++

			continue
		}

		if err := im.store.CreateRun(ctx, &run); err != nil {
			if errors.Is(err, docstore.ErrUnavailable) {
				return res, fmt.Errorf("importing run %s: %w", run.ID, err)
			}

			im.log.WithError(err).WithField("run_id", run.ID).Warn("Rejected legacy run")

			res.RunsRejected++

			continue
		}

		res.RunsCreated++
	}

	im.log.WithFields(logrus.Fields{
		"tests_created": res.TestsCreated,
		"runs_created":  res.RunsCreated,
		"runs_rejected": res.RunsRejected,
	}).Info("Legacy import finished")

	return res, nil
}

func (im *Importer) testExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	_, err := im.store.GetTest(ctx, id)

	return exists(err, "test", id)
}

func (im *Importer) runExists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}

	_, err := im.store.GetRun(ctx, id)

	return exists(err, "run", id)
}

func exists(err error, kind, id string) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, docstore.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("checking %s %s: %w", kind, id, err)
	}
}
