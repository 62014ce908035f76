// Package writer implements the pattern writer: the one place that turns
// a learned event sequence into durable multi-tenant state across all
// three storage tiers.
package writer

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/sevakavakians/kato/internal/hashing"
	"github.com/sevakavakians/kato/internal/models"
	"github.com/sevakavakians/kato/internal/storage"
)

// Writer turns a learned STM into durable pattern state. A single
// in-flight learn per (kb_id, pattern name) is enforced with
// singleflight, so concurrent sessions learning the identical sequence
// collapse into one write instead of racing duplicate counter
// increments.
type Writer struct {
	tiers       storage.Tiers
	persistence int
	registry    *storage.KBRegistry
	group       singleflight.Group
}

// New builds a Writer over the given storage tiers. persistence bounds
// the rolling emotive window length (config.Config.Persistence). registry
// is notified of every kb_id this writer successfully learns into, so the
// background repair sweep (internal/storage.RepairTask) knows which
// kb_ids actually exist.
func New(tiers storage.Tiers, persistence int, registry *storage.KBRegistry) *Writer {
	return &Writer{tiers: tiers, persistence: persistence, registry: registry}
}

// Result reports what Learn actually did, for callers that want to
// distinguish a brand-new pattern from a reinforced one.
type Result struct {
	Name      string
	Created   bool
	Frequency int64
}

// Learn writes (or reinforces) one pattern body, in the idempotent
// body -> index -> counters order: if the process crashes partway
// through, a body with no index row is detected and its index row rebuilt
// by internal/storage's RepairTask; an index row with no counters is not
// repaired, and readers treat its absent frequency as 1.
//
// emotives is the caller's full set of pending per-observation dicts for
// this learn event, one per Observe call since the last learn — not a
// single averaged dict. AppendEmotives pushes them all in order and caps
// the stored window at persistence, keeping the most recent entries.
func (w *Writer) Learn(ctx context.Context, kbID string, events []models.Event, emotives []map[string]float64, metadata map[string][]interface{}) (Result, error) {
	pattern := hashing.BuildIndex(kbID, events)

	v, err, _ := w.group.Do(kbID+"|"+pattern.Name, func() (interface{}, error) {
		return w.write(ctx, kbID, pattern, emotives, metadata)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (w *Writer) write(ctx context.Context, kbID string, pattern models.Pattern, emotives []map[string]float64, metadata map[string][]interface{}) (Result, error) {
	bodyCreated, err := w.tiers.Patterns.PutIfAbsent(ctx, kbID, pattern.Name, pattern.Events)
	if err != nil {
		return Result{}, err
	}

	indexCreated, err := w.tiers.Index.PutIfAbsent(ctx, kbID, pattern)
	if err != nil {
		return Result{}, err
	}

	frequency, err := w.tiers.Counters.IncrementFrequency(ctx, kbID, pattern.Name, 1)
	if err != nil {
		return Result{}, err
	}

	if len(emotives) > 0 {
		if err := w.tiers.Counters.AppendEmotives(ctx, kbID, pattern.Name, emotives, w.persistence); err != nil {
			return Result{}, err
		}
	}
	if len(metadata) > 0 {
		if err := w.tiers.Counters.MergeMetadata(ctx, kbID, pattern.Name, metadata); err != nil {
			return Result{}, err
		}
	}

	created := bodyCreated || indexCreated
	if err := w.updateSymbolCounters(ctx, kbID, pattern, created); err != nil {
		return Result{}, err
	}

	if w.registry != nil {
		w.registry.Register(kbID)
	}

	return Result{Name: pattern.Name, Created: created, Frequency: frequency}, nil
}

// updateSymbolCounters maintains the per-symbol and global counters that
// drive internal/predict's TF-IDF and Bayesian-prior metrics.
// IncrementSymbolFrequency counts every occurrence;
// IncrementPatternMemberFrequency (the TF-IDF document-frequency term)
// and the global pattern/unique-pattern counters only advance once per
// distinct pattern, the first time it's learned.
func (w *Writer) updateSymbolCounters(ctx context.Context, kbID string, pattern models.Pattern, newPattern bool) error {
	for _, ev := range pattern.Events {
		for _, sym := range ev {
			if err := w.tiers.Counters.IncrementSymbolFrequency(ctx, kbID, sym, 1); err != nil {
				return err
			}
			if err := w.tiers.Counters.IncrementGlobalSymbolCount(ctx, kbID, 1); err != nil {
				return err
			}
		}
	}

	if err := w.tiers.Counters.IncrementGlobalPatternCount(ctx, kbID, 1); err != nil {
		return err
	}

	if newPattern {
		for _, sym := range pattern.TokenSet {
			if err := w.tiers.Counters.IncrementPatternMemberFrequency(ctx, kbID, sym, 1); err != nil {
				return err
			}
		}
		if err := w.tiers.Counters.IncrementUniquePatternCount(ctx, kbID, 1); err != nil {
			return err
		}
	}

	return nil
}
