// Package report assembles per-test statistics from the run index and
// exports them as JSON documents.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/platform"
	"github.com/ethpandaops/perception/pkg/runindex"
	"github.com/ethpandaops/perception/pkg/stats"
	"github.com/sirupsen/logrus"
)

// PlatformReport holds the statistics of one platform.
type PlatformReport struct {
	Platform  platform.Platform `json:"platform"`
	Stats     stats.Record      `json:"stats"`
	Histogram stats.Histogram   `json:"histogram"`
}

// TestReport holds the statistics of a test over the selected platforms.
// Platforms breaks the selection down per platform, in tag order, and
// only lists platforms with runs.
type TestReport struct {
	Test        model.Test       `json:"test"`
	Selection   string           `json:"selection"`
	Stats       stats.Record     `json:"stats"`
	Histogram   stats.Histogram  `json:"histogram"`
	InFlight    int              `json:"in_flight"`
	Platforms   []PlatformReport `json:"platforms"`
	GeneratedAt time.Time        `json:"generated_at"`
}

// Builder computes reports.
type Builder interface {
	Build(ctx context.Context, test model.Test, pr runindex.PlatformRange) (*TestReport, error)
}

// Compile-time interface check.
var _ Builder = (*builder)(nil)

type builder struct {
	log   logrus.FieldLogger
	index runindex.Indexer
	hist  stats.HistogramConfig
	now   func() time.Time
}

// NewBuilder creates a Builder reading runs through index.
func NewBuilder(log logrus.FieldLogger, index runindex.Indexer, hist stats.HistogramConfig) Builder {
	return &builder{
		log:   log.WithField("component", "report"),
		index: index,
		hist:  hist,
		now:   time.Now,
	}
}

// Build runs one range query and derives overall and per-platform
// statistics. In-flight runs are counted but never sampled.
func (b *builder) Build(
	ctx context.Context, test model.Test, pr runindex.PlatformRange,
) (*TestReport, error) {
	runs, err := b.index.RunsFor(ctx, test.ID, pr)
	if err != nil {
		return nil, fmt.Errorf("loading runs for %s: %w", test.ID, err)
	}

	test.Canonicalize()

	all := make([]float64, 0, len(runs))
	byPlatform := make(map[platform.Platform][]float64, 4)
	inFlight := 0

	for i := range runs {
		ms, ok := runs[i].Delta()
		if !ok {
			inFlight++

			continue
		}

		p := platform.Classify(runs[i].ClientIdentifier)
		all = append(all, ms)
		byPlatform[p] = append(byPlatform[p], ms)
	}

	rep := &TestReport{
		Test:        test,
		Selection:   pr.String(),
		Stats:       stats.Compute(all),
		Histogram:   stats.ComputeHistogram(all, b.hist),
		InFlight:    inFlight,
		Platforms:   make([]PlatformReport, 0, len(byPlatform)),
		GeneratedAt: b.now().UTC(),
	}

	for _, p := range platform.All() {
		samples, ok := byPlatform[p]
		if !ok {
			continue
		}

		rep.Platforms = append(rep.Platforms, PlatformReport{
			Platform:  p,
			Stats:     stats.Compute(samples),
			Histogram: stats.ComputeHistogram(samples, b.hist),
		})
	}

	b.log.WithFields(logrus.Fields{
		"test_id":   test.ID,
		"selection": rep.Selection,
		"samples":   rep.Stats.Count,
		"in_flight": inFlight,
	}).Debug("Built report")

	return rep, nil
}
