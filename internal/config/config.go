// Package config is KATO's typed configuration model: system-wide
// defaults bound from the environment, validated into a Config, and
// merged per-session with client-supplied overrides.
//
// File and CLI configuration loading are explicitly out of scope (spec
// ambient stack note) — only environment-variable binding and
// programmatic defaults are implemented.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/sevakavakians/kato/internal/kerrors"
	"github.com/sevakavakians/kato/internal/models"
)

// Config is the full set of recognized configuration keys (spec.md
// §4.7's table).
type Config struct {
	RecallThreshold     float64              `mapstructure:"recall_threshold" json:"recall_threshold"`
	MaxPatternLength    int                  `mapstructure:"max_pattern_length" json:"max_pattern_length"`
	Persistence         int                  `mapstructure:"persistence" json:"persistence"`
	MaxPredictions      int                  `mapstructure:"max_predictions" json:"max_predictions"`
	STMMode             models.STMMode       `mapstructure:"stm_mode" json:"stm_mode"`
	UseTokenMatching    bool                 `mapstructure:"use_token_matching" json:"use_token_matching"`
	SortSymbols         bool                 `mapstructure:"sort_symbols" json:"sort_symbols"`
	IndexerType         string               `mapstructure:"indexer_type" json:"indexer_type"`
	RankSortAlgo        models.RankSortAlgo  `mapstructure:"rank_sort_algo" json:"rank_sort_algo"`
	FilterPipeline      []models.FilterStage `mapstructure:"filter_pipeline" json:"filter_pipeline"`
	LengthMinRatio      float64              `mapstructure:"length_min_ratio" json:"length_min_ratio"`
	LengthMaxRatio      float64              `mapstructure:"length_max_ratio" json:"length_max_ratio"`
	JaccardThreshold    float64              `mapstructure:"jaccard_threshold" json:"jaccard_threshold"`
	JaccardMinOverlap   int                  `mapstructure:"jaccard_min_overlap" json:"jaccard_min_overlap"`
	MinHashThreshold    float64              `mapstructure:"minhash_threshold" json:"minhash_threshold"`
	MinHashBands        int                  `mapstructure:"minhash_bands" json:"minhash_bands"`
	MinHashRows         int                  `mapstructure:"minhash_rows" json:"minhash_rows"`
	MinHashNumHashes    int                  `mapstructure:"minhash_num_hashes" json:"minhash_num_hashes"`
	FuzzyTokenThreshold float64              `mapstructure:"fuzzy_token_threshold" json:"fuzzy_token_threshold"`
}

// Default returns the system-wide default configuration (spec.md §4.3,
// §4.4, §4.7 defaults).
func Default() Config {
	return Config{
		RecallThreshold:     0.1,
		MaxPatternLength:    0,
		Persistence:         5,
		MaxPredictions:      100,
		STMMode:             models.STMModeClear,
		UseTokenMatching:    true,
		SortSymbols:         true,
		IndexerType:         "default",
		RankSortAlgo:        models.RankByConfidence,
		FilterPipeline:      []models.FilterStage{models.FilterLength, models.FilterJaccard, models.FilterMinHash},
		LengthMinRatio:      0.5,
		LengthMaxRatio:      2.0,
		JaccardThreshold:    0.3,
		JaccardMinOverlap:   2,
		MinHashThreshold:    0.7,
		MinHashBands:        20,
		MinHashRows:         5,
		MinHashNumHashes:    100,
		FuzzyTokenThreshold: 0.0,
	}
}

// LoadFromEnv binds the recognized keys (§6.3) from the environment on
// top of Default(), using the KATO_ prefix (e.g. KATO_RECALL_THRESHOLD).
func LoadFromEnv() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KATO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	for key, val := range map[string]any{
		"recall_threshold":      cfg.RecallThreshold,
		"max_pattern_length":    cfg.MaxPatternLength,
		"persistence":           cfg.Persistence,
		"max_predictions":       cfg.MaxPredictions,
		"stm_mode":              string(cfg.STMMode),
		"use_token_matching":    cfg.UseTokenMatching,
		"sort_symbols":          cfg.SortSymbols,
		"indexer_type":          cfg.IndexerType,
		"rank_sort_algo":        string(cfg.RankSortAlgo),
		"length_min_ratio":      cfg.LengthMinRatio,
		"length_max_ratio":      cfg.LengthMaxRatio,
		"jaccard_threshold":     cfg.JaccardThreshold,
		"jaccard_min_overlap":   cfg.JaccardMinOverlap,
		"minhash_threshold":     cfg.MinHashThreshold,
		"minhash_bands":         cfg.MinHashBands,
		"minhash_rows":          cfg.MinHashRows,
		"minhash_num_hashes":    cfg.MinHashNumHashes,
		"fuzzy_token_threshold": cfg.FuzzyTokenThreshold,
	} {
		v.SetDefault(key, val)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, kerrors.NewConfigurationError("env", err.Error(), "Config")
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the ranges/enums spec.md §4.7's table declares.
func Validate(c Config) error {
	if c.RecallThreshold < 0 || c.RecallThreshold > 1 {
		return kerrors.NewValidationError("recall_threshold", c.RecallThreshold, "must be in [0,1]")
	}
	if c.MaxPatternLength < 0 {
		return kerrors.NewValidationError("max_pattern_length", c.MaxPatternLength, "must be >= 0")
	}
	if c.Persistence < 1 || c.Persistence > 100 {
		return kerrors.NewValidationError("persistence", c.Persistence, "must be in [1,100]")
	}
	if c.MaxPredictions < 1 || c.MaxPredictions > 10000 {
		return kerrors.NewValidationError("max_predictions", c.MaxPredictions, "must be in [1,10000]")
	}
	if c.STMMode != models.STMModeClear && c.STMMode != models.STMModeRolling {
		return kerrors.NewConfigurationError("stm_mode", c.STMMode, "CLEAR|ROLLING")
	}
	if !isValidRankSort(c.RankSortAlgo) {
		return kerrors.NewConfigurationError("rank_sort_algo", c.RankSortAlgo, "RankSortAlgo")
	}
	for _, stage := range c.FilterPipeline {
		if !isValidFilterStage(stage) {
			return kerrors.NewConfigurationError("filter_pipeline", stage, "FilterStage")
		}
	}
	if c.LengthMinRatio <= 0 || c.LengthMaxRatio <= 0 {
		return kerrors.NewValidationError("length_min_ratio/length_max_ratio", nil, "must be > 0")
	}
	if c.JaccardThreshold < 0 || c.JaccardThreshold > 1 {
		return kerrors.NewValidationError("jaccard_threshold", c.JaccardThreshold, "must be in [0,1]")
	}
	if c.JaccardMinOverlap < 0 {
		return kerrors.NewValidationError("jaccard_min_overlap", c.JaccardMinOverlap, "must be >= 0")
	}
	if c.MinHashBands*c.MinHashRows != c.MinHashNumHashes {
		return kerrors.NewConfigurationError("minhash_bands/minhash_rows/minhash_num_hashes", c.MinHashNumHashes, "bands * rows == num_hashes")
	}
	if c.FuzzyTokenThreshold < 0 || c.FuzzyTokenThreshold > 1 {
		return kerrors.NewValidationError("fuzzy_token_threshold", c.FuzzyTokenThreshold, "must be in [0,1]")
	}
	return nil
}

func isValidRankSort(algo models.RankSortAlgo) bool {
	switch algo {
	case models.RankBySimilarity, models.RankByPotential, models.RankByFrequency,
		models.RankByConfidence, models.RankBySNR, models.RankByFragmentation,
		models.RankByNormalizedEntropy, models.RankByBayesianPosterior,
		models.RankByBayesianPrior, models.RankByBayesianLikelihood,
		models.RankByTFIDFScore, models.RankByPredictiveInformation, models.RankByEvidence:
		return true
	}
	return false
}

func isValidFilterStage(stage models.FilterStage) bool {
	switch stage {
	case models.FilterLength, models.FilterJaccard, models.FilterMinHash, models.FilterPrefix, models.FilterSuffix:
		return true
	}
	return false
}

// ApplyAutoToggle implements the "setting use_token_matching without
// sort_symbols implicitly sets sort_symbols to the same value" rule. Call
// before merging overrides that set use_token_matching.
func ApplyAutoToggle(overrides map[string]interface{}) {
	if v, ok := overrides["use_token_matching"]; ok {
		if _, hasSort := overrides["sort_symbols"]; !hasSort {
			overrides["sort_symbols"] = v
		}
	}
}
