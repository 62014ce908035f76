package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/sevakavakians/kato/internal/hashing"
	"github.com/sevakavakians/kato/internal/models"
)

// RepairLedger records every repair action taken against a KB's storage
// tiers, so an operator can audit what the background repair task found
// and fixed.
type RepairLedger struct {
	db *sql.DB
}

// NewRepairLedger opens (or creates) the SQLite-backed repair ledger at
// dbPath.
func NewRepairLedger(dbPath string) (*RepairLedger, error) {
	if strings.HasPrefix(dbPath, "~/") {
		home, _ := os.UserHomeDir()
		dbPath = filepath.Join(home, dbPath[2:])
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create repair ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open repair ledger: %w", err)
	}

	ledger := &RepairLedger{db: db}
	if err := ledger.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init repair ledger schema: %w", err)
	}
	return ledger, nil
}

func (l *RepairLedger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repair_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kb_id TEXT NOT NULL,
		pattern_name TEXT NOT NULL,
		action TEXT NOT NULL,
		repaired_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_repair_kb_id ON repair_log(kb_id);
	`
	_, err := l.db.Exec(schema)
	return err
}

func (l *RepairLedger) record(ctx context.Context, kbID, name, action string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO repair_log (kb_id, pattern_name, action, repaired_at) VALUES (?, ?, ?, ?)`,
		kbID, name, action, time.Now(),
	)
	return err
}

func (l *RepairLedger) Close() error {
	return l.db.Close()
}

// RepairTask rebuilds PatternIndex rows that are missing for patterns
// whose body already exists in PatternStore. A pattern body is the
// durable source of truth: the writer always persists it before the
// index row, so a crash between those two writes leaves an orphaned body
// that this task detects and reindexes.
type RepairTask struct {
	tiers    Tiers
	registry *KBRegistry
	ledger   *RepairLedger
	log      *zap.Logger
	cron     *cron.Cron
}

// NewRepairTask builds a repair task over tiers, sweeping every kb_id
// registry has seen (see KBRegistry), logging actions to ledger and
// scheduling itself on schedule (a standard 5-field cron expression, e.g.
// "*/10 * * * *" for every ten minutes).
func NewRepairTask(tiers Tiers, registry *KBRegistry, ledger *RepairLedger, log *zap.Logger, schedule string) (*RepairTask, error) {
	t := &RepairTask{tiers: tiers, registry: registry, ledger: ledger, log: log, cron: cron.New()}
	_, err := t.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		for _, kbID := range t.registry.All() {
			if err := t.RepairKB(ctx, kbID); err != nil && t.log != nil {
				t.log.Warn("repair pass failed", zap.String("kb_id", kbID), zap.Error(err))
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule repair task: %w", err)
	}
	return t, nil
}

// Start begins the cron schedule.
func (t *RepairTask) Start() { t.cron.Start() }

// Stop halts the cron schedule, waiting for an in-flight run to finish.
func (t *RepairTask) Stop() { <-t.cron.Stop().Done() }

// RepairKB scans every pattern body in kbID and rebuilds any index row
// missing for it. kbID is namespaced per knowledge base; an empty kbID is
// a no-op since no tier is keyed by the empty string.
func (t *RepairTask) RepairKB(ctx context.Context, kbID string) error {
	if kbID == "" {
		return nil
	}

	var repaired int
	err := t.tiers.Patterns.Scan(ctx, kbID, func(name string, events []models.Event) error {
		exists, err := t.tiers.Index.Exists(ctx, kbID, name)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		pattern := hashing.BuildIndex(kbID, events)
		pattern.Name = name // preserve the originally stored name verbatim
		if _, err := t.tiers.Index.PutIfAbsent(ctx, kbID, pattern); err != nil {
			return err
		}
		if t.ledger != nil {
			if err := t.ledger.record(ctx, kbID, name, "rebuilt_index_row"); err != nil {
				return err
			}
		}
		repaired++
		return nil
	})
	if err != nil {
		return fmt.Errorf("repair kb %s: %w", kbID, err)
	}
	if repaired > 0 && t.log != nil {
		t.log.Info("repair pass rebuilt index rows", zap.String("kb_id", kbID), zap.Int("count", repaired))
	}
	return nil
}
