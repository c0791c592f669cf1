// Package runindex groups runs by the composite key (test id, platform).
// Because the platform component sorts lexicographically, every run of a
// test lies in one contiguous key range and each platform is a sub-range
// of it, so a single range scan answers both kinds of query.
package runindex

import (
	"context"
	"fmt"

	"github.com/ethpandaops/perception/pkg/model"
	"github.com/ethpandaops/perception/pkg/platform"
	"github.com/sirupsen/logrus"
)

// platformHigh sorts after every platform tag.
const platformHigh = "\uffff"

// Key is the composite index key of a run.
type Key struct {
	TestID   string
	Platform string
}

// KeyFor derives the index key of a run.
func KeyFor(run *model.Run) Key {
	return Key{
		TestID:   run.TestID,
		Platform: string(platform.Classify(run.ClientIdentifier)),
	}
}

// Less orders keys by test id, then platform.
func (k Key) Less(o Key) bool {
	if k.TestID != o.TestID {
		return k.TestID < o.TestID
	}

	return k.Platform < o.Platform
}

// Range is a closed key interval [Lo, Hi].
type Range struct {
	Lo Key
	Hi Key
}

// Contains reports whether k lies within the range.
func (r Range) Contains(k Key) bool {
	return !k.Less(r.Lo) && !r.Hi.Less(k)
}

// ForTest is the prefix range holding every platform of a test.
func ForTest(testID string) Range {
	return Range{
		Lo: Key{TestID: testID, Platform: ""},
		Hi: Key{TestID: testID, Platform: platformHigh},
	}
}

// ForPlatform is the sub-range holding one platform of a test.
func ForPlatform(testID string, p platform.Platform) Range {
	return Range{
		Lo: Key{TestID: testID, Platform: string(p)},
		Hi: Key{TestID: testID, Platform: string(p)},
	}
}

// PlatformRange selects either all platforms or a single one.
type PlatformRange struct {
	Platform platform.Platform
}

// AllPlatforms selects every platform of a test.
var AllPlatforms = PlatformRange{}

// Only selects a single platform.
func Only(p platform.Platform) PlatformRange {
	return PlatformRange{Platform: p}
}

// ParsePlatformRange accepts "", "all" or a platform tag.
func ParsePlatformRange(s string) (PlatformRange, error) {
	if s == "" || s == "all" {
		return AllPlatforms, nil
	}

	p, err := platform.Parse(s)
	if err != nil {
		return PlatformRange{}, err
	}

	return Only(p), nil
}

// All reports whether the selector spans every platform.
func (pr PlatformRange) All() bool {
	return pr.Platform == ""
}

func (pr PlatformRange) String() string {
	if pr.All() {
		return "all"
	}

	return string(pr.Platform)
}

// RangeFor resolves a selector into a key range for a test.
func (pr PlatformRange) RangeFor(testID string) Range {
	if pr.All() {
		return ForTest(testID)
	}

	return ForPlatform(testID, pr.Platform)
}

// RangeQuerier is the storage capability the indexer builds on. Rows are
// returned in key order and, within a key, in insertion order.
type RangeQuerier interface {
	QueryRunRange(ctx context.Context, r Range) ([]model.Run, error)
}

// Indexer answers grouped run queries.
type Indexer interface {
	RunsFor(ctx context.Context, testID string, pr PlatformRange) ([]model.Run, error)
	CompletedRunsFor(ctx context.Context, testID string, pr PlatformRange) ([]model.Run, error)
}

// Compile-time interface check.
var _ Indexer = (*indexer)(nil)

type indexer struct {
	log     logrus.FieldLogger
	backend RangeQuerier
}

// NewIndexer creates an Indexer on top of a range-scanning backend.
func NewIndexer(log logrus.FieldLogger, backend RangeQuerier) Indexer {
	return &indexer{
		log:     log.WithField("component", "runindex"),
		backend: backend,
	}
}

// RunsFor returns every indexed run of a test within the platform range,
// in-flight runs included.
func (idx *indexer) RunsFor(
	ctx context.Context, testID string, pr PlatformRange,
) ([]model.Run, error) {
	runs, err := idx.backend.QueryRunRange(ctx, pr.RangeFor(testID))
	if err != nil {
		return nil, fmt.Errorf("querying run range: %w", err)
	}

	idx.log.WithFields(logrus.Fields{
		"test_id":  testID,
		"platform": pr.String(),
		"runs":     len(runs),
	}).Debug("Queried run index")

	return runs, nil
}

// CompletedRunsFor is RunsFor without in-flight runs.
func (idx *indexer) CompletedRunsFor(
	ctx context.Context, testID string, pr PlatformRange,
) ([]model.Run, error) {
	runs, err := idx.RunsFor(ctx, testID, pr)
	if err != nil {
		return nil, err
	}

	out := runs[:0]

	for i := range runs {
		if !runs[i].InFlight() {
			out = append(out, runs[i])
		}
	}

	return out, nil
}
