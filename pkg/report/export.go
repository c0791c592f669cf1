package report

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/runindex"
	"github.com/ethpandaops/perception/pkg/upload"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of tests exported in parallel when no
// explicit value is given.
const DefaultConcurrency = 4

// TestLister lists the tests to export.
type TestLister interface {
	ListTests(ctx context.Context) ([]model.Test, error)
}

// IndexEntry summarises one test in index.json.
type IndexEntry struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Count       int    `json:"count"`
	Median      *int64 `json:"median,omitempty"`
	P95         *int64 `json:"p95,omitempty"`
	Key         string `json:"key"`
}

// Index is the document written to index.json.
type Index struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Tests       []IndexEntry `json:"tests"`
}

// Exporter writes one report per test plus an index to every uploader.
type Exporter struct {
	log         logrus.FieldLogger
	tests       TestLister
	builder     Builder
	uploaders   []upload.Uploader
	concurrency int
}

// NewExporter creates an Exporter.
func NewExporter(
	log logrus.FieldLogger,
	tests TestLister,
	builder Builder,
	uploaders []upload.Uploader,
	concurrency int,
) *Exporter {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	return &Exporter{
		log:         log.WithField("component", "exporter"),
		tests:       tests,
		builder:     builder,
		uploaders:   uploaders,
		concurrency: concurrency,
	}
}

// TestKey is the artifact key of a test report.
func TestKey(testID string) string {
	return "tests/" + testID + ".json"
}

// Export builds and uploads every report, then the index. The first
// failure cancels the remaining work.
func (e *Exporter) Export(ctx context.Context) (*Index, error) {
	for _, u := range e.uploaders {
		if err := u.Preflight(ctx); err != nil {
			return nil, fmt.Errorf("preflight %s: %w", u.Target(), err)
		}
	}

	tests, err := e.tests.ListTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tests: %w", err)
	}

	var (
		mu      sync.Mutex
		entries = make([]IndexEntry, 0, len(tests))
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, test := range tests {
		g.Go(func() error {
			rep, err := e.builder.Build(gCtx, test, runindex.AllPlatforms)
			if err != nil {
				return err
			}

			key := TestKey(test.ID)

			if err := e.put(gCtx, key, rep); err != nil {
				return err
			}

			mu.Lock()
			entries = append(entries, IndexEntry{
				ID:          test.ID,
				Description: test.Description,
				Count:       rep.Stats.Count,
				Median:      rep.Stats.Median,
				P95:         rep.Stats.P95,
				Key:         key,
			})
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("exporting reports: %w", err)
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].ID < entries[b].ID })

	idx := &Index{GeneratedAt: time.Now().UTC(), Tests: entries}

	if err := e.put(ctx, "index.json", idx); err != nil {
		return nil, err
	}

	e.log.WithField("tests", len(entries)).Info("Export completed")

	return idx, nil
}

func (e *Exporter) put(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	for _, u := range e.uploaders {
		if err := u.Put(ctx, key, data); err != nil {
			return fmt.Errorf("uploading %s to %s: %w", key, u.Target(), err)
		}
	}

	return nil
}
