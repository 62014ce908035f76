// Package storage defines and implements KATO's three per-tenant storage
// tiers: PatternStore (document bodies), PatternIndex (columnar filter
// indices), and Counters (key-value frequencies/emotives/metadata/symbol
// stats). All operations are namespaced by kb_id.
package storage

import (
	"context"
	"time"

	"github.com/sevakavakians/kato/internal/models"
)

// PatternStore holds the full event sequence for each learned pattern,
// keyed by (kb_id, name).
type PatternStore interface {
	// PutIfAbsent writes the pattern body only if no body exists yet for
	// (kbID, name); returns (created, error).
	PutIfAbsent(ctx context.Context, kbID, name string, events []models.Event) (created bool, err error)
	Get(ctx context.Context, kbID, name string) ([]models.Event, error)
	Exists(ctx context.Context, kbID, name string) (bool, error)
	// Scan calls fn for every (name, events) pair in kbID; used by the
	// repair task to rebuild missing index rows.
	Scan(ctx context.Context, kbID string, fn func(name string, events []models.Event) error) error
	// ClearKB removes every pattern body for kbID.
	ClearKB(ctx context.Context, kbID string) error
	Close() error
}

// PatternIndex holds the pre-computed filter indices for each pattern,
// keyed by (kb_id, name).
type PatternIndex interface {
	PutIfAbsent(ctx context.Context, kbID string, pattern models.Pattern) (created bool, err error)
	Get(ctx context.Context, kbID, name string) (models.Pattern, bool, error)
	Exists(ctx context.Context, kbID, name string) (bool, error)
	// ByLengthRange returns candidate names whose length lies in
	// [minLen, maxLen].
	ByLengthRange(ctx context.Context, kbID string, minLen, maxLen int) ([]string, error)
	// ByLSHBand returns candidate names sharing the given band hash at
	// the given band index.
	ByLSHBand(ctx context.Context, kbID string, bandIndex int, bandHash uint64) ([]string, error)
	// ByFirstToken / ByLastToken support the optional prefix/suffix
	// filter stages.
	ByFirstToken(ctx context.Context, kbID, token string) ([]string, error)
	ByLastToken(ctx context.Context, kbID, token string) ([]string, error)
	// All returns every candidate name in kbID (used when filter_pipeline
	// is empty).
	All(ctx context.Context, kbID string) ([]string, error)
	ClearKB(ctx context.Context, kbID string) error
	Close() error
}

// Counters holds per-pattern frequency/emotive/metadata bookkeeping and
// per-KB global totals, keyed by kb_id.
type Counters interface {
	IncrementFrequency(ctx context.Context, kbID, name string, delta int64) (newValue int64, err error)
	GetFrequency(ctx context.Context, kbID, name string) (int64, error)

	AppendEmotives(ctx context.Context, kbID, name string, emotives []map[string]float64, persistence int) error
	GetEmotives(ctx context.Context, kbID, name string) ([]map[string]float64, error)

	MergeMetadata(ctx context.Context, kbID, name string, metadata map[string][]interface{}) error
	GetMetadata(ctx context.Context, kbID, name string) (map[string][]interface{}, error)

	IncrementSymbolFrequency(ctx context.Context, kbID, symbol string, delta int64) error
	IncrementPatternMemberFrequency(ctx context.Context, kbID, symbol string, delta int64) error
	GetSymbolStats(ctx context.Context, kbID, symbol string) (symbolFrequency, patternMemberFrequency int64, err error)

	IncrementGlobalSymbolCount(ctx context.Context, kbID string, delta int64) error
	IncrementGlobalPatternCount(ctx context.Context, kbID string, delta int64) error
	IncrementUniquePatternCount(ctx context.Context, kbID string, delta int64) error
	GetGlobalStats(ctx context.Context, kbID string) (totalSymbolFrequencies, totalPatternFrequencies, totalUniquePatterns int64, err error)

	WritePredictions(ctx context.Context, kbID, uniqueID string, predictions []models.Prediction, ttl time.Duration) error
	GetPredictions(ctx context.Context, kbID, uniqueID string) ([]models.Prediction, bool, error)

	ClearKB(ctx context.Context, kbID string) error
	Close() error
}

// Tiers bundles the three storage adapters an application context hands
// to the writer, filter pipeline, ranker, and assembler.
type Tiers struct {
	Patterns PatternStore
	Index    PatternIndex
	Counters Counters
}

func (t Tiers) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{t.Patterns, t.Index, t.Counters} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
