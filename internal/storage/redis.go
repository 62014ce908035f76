package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sevakavakians/kato/internal/models"
)

// RedisCounters is the Counters tier: per-pattern frequency/emotive/
// metadata bookkeeping and per-KB global totals, keyed exactly as
// kato/storage/redis_writer.py defines.
type RedisCounters struct {
	client *redis.Client
}

// NewRedisCounters connects to addr and verifies the connection.
func NewRedisCounters(ctx context.Context, addr, password string, db int) (*RedisCounters, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisCounters{client: client}, nil
}

func keyFrequency(kbID, name string) string     { return fmt.Sprintf("%s:frequency:%s", kbID, name) }
func keyEmotives(kbID, name string) string      { return fmt.Sprintf("%s:emotives:%s", kbID, name) }
func keyMetadata(kbID, name string) string      { return fmt.Sprintf("%s:metadata:%s", kbID, name) }
func keySymbolFreq(kbID, sym string) string     { return fmt.Sprintf("%s:symbol:freq:%s", kbID, sym) }
func keySymbolPMF(kbID, sym string) string      { return fmt.Sprintf("%s:symbol:pmf:%s", kbID, sym) }
func keyGlobalSymbols(kbID string) string       { return fmt.Sprintf("%s:global:total_symbols_in_patterns_frequencies", kbID) }
func keyGlobalPatternFreq(kbID string) string   { return fmt.Sprintf("%s:global:total_pattern_frequencies", kbID) }
func keyGlobalUniquePatterns(kbID string) string { return fmt.Sprintf("%s:global:total_unique_patterns", kbID) }
func keyPrediction(kbID, uniqueID string) string { return fmt.Sprintf("%s:prediction:%s", kbID, uniqueID) }

func (s *RedisCounters) IncrementFrequency(ctx context.Context, kbID, name string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, keyFrequency(kbID, name), delta).Result()
}

func (s *RedisCounters) GetFrequency(ctx context.Context, kbID, name string) (int64, error) {
	v, err := s.client.Get(ctx, keyFrequency(kbID, name)).Int64()
	if err == redis.Nil {
		// Readers tolerate a counters-absent pattern by treating frequency
		// as 1 (spec.md §4.2 atomicity discipline).
		return 1, nil
	}
	return v, err
}

// AppendEmotives appends emotives to the pattern's rolling window and
// truncates from the front to at most persistence entries.
func (s *RedisCounters) AppendEmotives(ctx context.Context, kbID, name string, emotives []map[string]float64, persistence int) error {
	if len(emotives) == 0 {
		return nil
	}
	existing, err := s.GetEmotives(ctx, kbID, name)
	if err != nil {
		return err
	}
	existing = append(existing, emotives...)
	if len(existing) > persistence {
		existing = existing[len(existing)-persistence:]
	}
	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal emotives window: %w", err)
	}
	return s.client.Set(ctx, keyEmotives(kbID, name), data, 0).Err()
}

func (s *RedisCounters) GetEmotives(ctx context.Context, kbID, name string) ([]map[string]float64, error) {
	data, err := s.client.Get(ctx, keyEmotives(kbID, name)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []map[string]float64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal emotives window: %w", err)
	}
	return out, nil
}

// MergeMetadata set-unions new per-key values into the pattern's
// accumulated metadata map.
func (s *RedisCounters) MergeMetadata(ctx context.Context, kbID, name string, metadata map[string][]interface{}) error {
	if len(metadata) == 0 {
		return nil
	}
	existing, err := s.GetMetadata(ctx, kbID, name)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = map[string][]interface{}{}
	}
	for k, values := range metadata {
		for _, v := range values {
			existing[k] = unionAppend(existing[k], v)
		}
	}
	data, err := json.Marshal(existing)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return s.client.Set(ctx, keyMetadata(kbID, name), data, 0).Err()
}

func unionAppend(existing []interface{}, v interface{}) []interface{} {
	for _, e := range existing {
		if e == v {
			return existing
		}
	}
	return append(existing, v)
}

func (s *RedisCounters) GetMetadata(ctx context.Context, kbID, name string) (map[string][]interface{}, error) {
	data, err := s.client.Get(ctx, keyMetadata(kbID, name)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out map[string][]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return out, nil
}

func (s *RedisCounters) IncrementSymbolFrequency(ctx context.Context, kbID, symbol string, delta int64) error {
	return s.client.IncrBy(ctx, keySymbolFreq(kbID, symbol), delta).Err()
}

func (s *RedisCounters) IncrementPatternMemberFrequency(ctx context.Context, kbID, symbol string, delta int64) error {
	return s.client.IncrBy(ctx, keySymbolPMF(kbID, symbol), delta).Err()
}

func (s *RedisCounters) GetSymbolStats(ctx context.Context, kbID, symbol string) (int64, int64, error) {
	freq, err := s.client.Get(ctx, keySymbolFreq(kbID, symbol)).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	pmf, err := s.client.Get(ctx, keySymbolPMF(kbID, symbol)).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, err
	}
	return freq, pmf, nil
}

func (s *RedisCounters) IncrementGlobalSymbolCount(ctx context.Context, kbID string, delta int64) error {
	return s.client.IncrBy(ctx, keyGlobalSymbols(kbID), delta).Err()
}

func (s *RedisCounters) IncrementGlobalPatternCount(ctx context.Context, kbID string, delta int64) error {
	return s.client.IncrBy(ctx, keyGlobalPatternFreq(kbID), delta).Err()
}

func (s *RedisCounters) IncrementUniquePatternCount(ctx context.Context, kbID string, delta int64) error {
	return s.client.IncrBy(ctx, keyGlobalUniquePatterns(kbID), delta).Err()
}

func (s *RedisCounters) GetGlobalStats(ctx context.Context, kbID string) (int64, int64, int64, error) {
	symbols, err := s.client.Get(ctx, keyGlobalSymbols(kbID)).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, 0, err
	}
	patternFreq, err := s.client.Get(ctx, keyGlobalPatternFreq(kbID)).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, 0, err
	}
	uniquePatterns, err := s.client.Get(ctx, keyGlobalUniquePatterns(kbID)).Int64()
	if err != nil && err != redis.Nil {
		return 0, 0, 0, err
	}
	return symbols, patternFreq, uniquePatterns, nil
}

func (s *RedisCounters) WritePredictions(ctx context.Context, kbID, uniqueID string, predictions []models.Prediction, ttl time.Duration) error {
	data, err := json.Marshal(predictions)
	if err != nil {
		return fmt.Errorf("marshal predictions cache entry: %w", err)
	}
	return s.client.Set(ctx, keyPrediction(kbID, uniqueID), data, ttl).Err()
}

func (s *RedisCounters) GetPredictions(ctx context.Context, kbID, uniqueID string) ([]models.Prediction, bool, error) {
	data, err := s.client.Get(ctx, keyPrediction(kbID, uniqueID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var out []models.Prediction
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached predictions: %w", err)
	}
	return out, true, nil
}

func (s *RedisCounters) ClearKB(ctx context.Context, kbID string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, kbID+":*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func (s *RedisCounters) Close() error {
	return s.client.Close()
}
