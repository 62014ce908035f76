package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/internal/models"
)

// fakePatternStore and fakePatternIndex are minimal in-memory doubles used
// to exercise RepairTask without a live Badger/Dgraph instance.
type fakePatternStore struct {
	mu     sync.Mutex
	bodies map[string][]models.Event
}

func newFakePatternStore() *fakePatternStore {
	return &fakePatternStore{bodies: map[string][]models.Event{}}
}

func (f *fakePatternStore) PutIfAbsent(ctx context.Context, kbID, name string, events []models.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := kbID + ":" + name
	if _, ok := f.bodies[key]; ok {
		return false, nil
	}
	f.bodies[key] = events
	return true, nil
}

func (f *fakePatternStore) Get(ctx context.Context, kbID, name string) ([]models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[kbID+":"+name], nil
}

func (f *fakePatternStore) Exists(ctx context.Context, kbID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bodies[kbID+":"+name]
	return ok, nil
}

func (f *fakePatternStore) Scan(ctx context.Context, kbID string, fn func(name string, events []models.Event) error) error {
	f.mu.Lock()
	type row struct {
		name   string
		events []models.Event
	}
	var rows []row
	prefix := kbID + ":"
	for key, events := range f.bodies {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			rows = append(rows, row{name: key[len(prefix):], events: events})
		}
	}
	f.mu.Unlock()

	for _, r := range rows {
		if err := fn(r.name, r.events); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakePatternStore) ClearKB(ctx context.Context, kbID string) error { return nil }
func (f *fakePatternStore) Close() error                                  { return nil }

type fakePatternIndex struct {
	mu   sync.Mutex
	rows map[string]models.Pattern
}

func newFakePatternIndex() *fakePatternIndex {
	return &fakePatternIndex{rows: map[string]models.Pattern{}}
}

func (f *fakePatternIndex) PutIfAbsent(ctx context.Context, kbID string, pattern models.Pattern) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := kbID + ":" + pattern.Name
	if _, ok := f.rows[key]; ok {
		return false, nil
	}
	f.rows[key] = pattern
	return true, nil
}

func (f *fakePatternIndex) Get(ctx context.Context, kbID, name string) (models.Pattern, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[kbID+":"+name]
	return p, ok, nil
}

func (f *fakePatternIndex) Exists(ctx context.Context, kbID, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[kbID+":"+name]
	return ok, nil
}

func (f *fakePatternIndex) ByLengthRange(ctx context.Context, kbID string, minLen, maxLen int) ([]string, error) {
	return nil, nil
}
func (f *fakePatternIndex) ByLSHBand(ctx context.Context, kbID string, bandIndex int, bandHash uint64) ([]string, error) {
	return nil, nil
}
func (f *fakePatternIndex) ByFirstToken(ctx context.Context, kbID, token string) ([]string, error) {
	return nil, nil
}
func (f *fakePatternIndex) ByLastToken(ctx context.Context, kbID, token string) ([]string, error) {
	return nil, nil
}
func (f *fakePatternIndex) All(ctx context.Context, kbID string) ([]string, error) { return nil, nil }
func (f *fakePatternIndex) ClearKB(ctx context.Context, kbID string) error         { return nil }
func (f *fakePatternIndex) Close() error                                          { return nil }

func TestRepairKBRebuildsMissingIndexRows(t *testing.T) {
	patterns := newFakePatternStore()
	index := newFakePatternIndex()

	events := []models.Event{{"a", "b"}, {"c"}}
	name := "PTRN|deadbeef"
	_, err := patterns.PutIfAbsent(context.Background(), "kb1", name, events)
	require.NoError(t, err)

	ledgerPath := filepath.Join(t.TempDir(), "repair.db")
	ledger, err := NewRepairLedger(ledgerPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	task, err := NewRepairTask(Tiers{Patterns: patterns, Index: index}, NewKBRegistry(), ledger, nil, "@every 1h")
	require.NoError(t, err)

	require.NoError(t, task.RepairKB(context.Background(), "kb1"))

	got, ok, err := index.Get(context.Background(), "kb1", name)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, name, got.Name)
	require.Equal(t, 3, got.Length)
}

func TestRepairKBSkipsPatternsAlreadyIndexed(t *testing.T) {
	patterns := newFakePatternStore()
	index := newFakePatternIndex()

	events := []models.Event{{"x"}}
	name := "PTRN|already"
	_, err := patterns.PutIfAbsent(context.Background(), "kb1", name, events)
	require.NoError(t, err)
	_, err = index.PutIfAbsent(context.Background(), "kb1", models.Pattern{KBID: "kb1", Name: name, Length: 99})
	require.NoError(t, err)

	task, err := NewRepairTask(Tiers{Patterns: patterns, Index: index}, NewKBRegistry(), nil, nil, "@every 1h")
	require.NoError(t, err)

	require.NoError(t, task.RepairKB(context.Background(), "kb1"))

	got, _, err := index.Get(context.Background(), "kb1", name)
	require.NoError(t, err)
	require.Equal(t, 99, got.Length, "existing index row must not be overwritten")
}

// TestRepairSweepDiscoversKBsFromRegistry pins the actual cron-invoked
// path: the scheduled callback does not take a kb_id directly, it reads
// every kb_id the registry has seen and repairs each one. A kb_id that
// never registered must not be swept, even if its body is unindexed.
func TestRepairSweepDiscoversKBsFromRegistry(t *testing.T) {
	patterns := newFakePatternStore()
	index := newFakePatternIndex()

	registeredName := "PTRN|registered"
	_, err := patterns.PutIfAbsent(context.Background(), "kb-registered", registeredName, []models.Event{{"a"}})
	require.NoError(t, err)

	unregisteredName := "PTRN|unregistered"
	_, err = patterns.PutIfAbsent(context.Background(), "kb-unregistered", unregisteredName, []models.Event{{"b"}})
	require.NoError(t, err)

	registry := NewKBRegistry()
	registry.Register("kb-registered")

	task, err := NewRepairTask(Tiers{Patterns: patterns, Index: index}, registry, nil, nil, "@every 1h")
	require.NoError(t, err)

	for _, kbID := range registry.All() {
		require.NoError(t, task.RepairKB(context.Background(), kbID))
	}

	_, ok, err := index.Get(context.Background(), "kb-registered", registeredName)
	require.NoError(t, err)
	require.True(t, ok, "registered kb must be swept and its index row rebuilt")

	_, ok, err = index.Get(context.Background(), "kb-unregistered", unregisteredName)
	require.NoError(t, err)
	require.False(t, ok, "unregistered kb must not be swept")
}

func TestNewRepairLedgerCreatesParentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "path")
	ledger, err := NewRepairLedger(filepath.Join(dir, "repair.db"))
	require.NoError(t, err)
	defer ledger.Close()

	_, statErr := os.Stat(dir)
	require.NoError(t, statErr)
}
