package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/sevakavakians/kato/internal/models"
)

// BadgerPatternStore is the document-store PatternStore tier: full
// pattern bodies, embedded, keyed by kb_id:name.
type BadgerPatternStore struct {
	db *badger.DB
}

// NewBadgerPatternStore opens (or creates) an embedded BadgerDB at path.
func NewBadgerPatternStore(path string) (*BadgerPatternStore, error) {
	opts := badger.DefaultOptions(expandPath(path)).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger pattern store: %w", err)
	}
	return &BadgerPatternStore{db: db}, nil
}

func bodyKey(kbID, name string) []byte {
	return []byte("pattern:" + kbID + ":" + name)
}

func bodyPrefix(kbID string) []byte {
	return []byte("pattern:" + kbID + ":")
}

func (s *BadgerPatternStore) PutIfAbsent(ctx context.Context, kbID, name string, events []models.Event) (bool, error) {
	data, err := json.Marshal(events)
	if err != nil {
		return false, fmt.Errorf("marshal pattern body: %w", err)
	}

	created := false
	err = s.db.Update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(bodyKey(kbID, name))
		if getErr == nil {
			return nil // already present, idempotent no-op
		}
		if getErr != badger.ErrKeyNotFound {
			return getErr
		}
		created = true
		return txn.Set(bodyKey(kbID, name), data)
	})
	return created, err
}

func (s *BadgerPatternStore) Get(ctx context.Context, kbID, name string) ([]models.Event, error) {
	var events []models.Event
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(bodyKey(kbID, name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &events)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *BadgerPatternStore) Exists(ctx context.Context, kbID, name string) (bool, error) {
	exists := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(bodyKey(kbID, name))
		if err == nil {
			exists = true
			return nil
		}
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	return exists, err
}

func (s *BadgerPatternStore) Scan(ctx context.Context, kbID string, fn func(name string, events []models.Event) error) error {
	prefix := bodyPrefix(kbID)
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), string(prefix))
			var events []models.Event
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &events)
			}); err != nil {
				continue // skip malformed entries, consistent with teacher's scan behavior
			}
			if err := fn(name, events); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerPatternStore) ClearKB(ctx context.Context, kbID string) error {
	prefix := bodyPrefix(kbID)
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, append([]byte(nil), it.Item().Key()...))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerPatternStore) Close() error {
	return s.db.Close()
}

// expandPath expands a leading "~/" to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
