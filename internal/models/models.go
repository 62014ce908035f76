// Package models defines the core data types shared across the KATO
// engine: observations, events, short-term memory, patterns, sessions and
// predictions.
package models

import "time"

// Observation is a single client-submitted input: an unordered multiset of
// string tokens, dense vectors, emotive scalars, and arbitrary metadata.
type Observation struct {
	Strings  []string               `json:"strings,omitempty"`
	Vectors  [][]float64            `json:"vectors,omitempty"`
	Emotives map[string]float64     `json:"emotives,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	UniqueID string                 `json:"unique_id,omitempty"`
}

// IsEmpty reports whether the observation carries no data in any field; a
// fully empty observation is a no-op and must not mutate STM or counters.
func (o Observation) IsEmpty() bool {
	return len(o.Strings) == 0 && len(o.Vectors) == 0 && len(o.Emotives) == 0 && len(o.Metadata) == 0
}

// Event is one observation canonicalized into a single lexicographically
// sorted list of symbols. Vector inputs become "VCTR|<hex>" symbols folded
// into the same sorted list.
type Event []string

// STMMode controls how short-term memory is handled after an auto-learn.
type STMMode string

const (
	// STMModeClear empties STM after auto-learn.
	STMModeClear STMMode = "CLEAR"
	// STMModeRolling retains the last (max_pattern_length-1) events after
	// auto-learn.
	STMModeRolling STMMode = "ROLLING"
)

// Pattern is a stored, named sequence of events plus the derived indices
// and counters needed to match and rank it during prediction.
type Pattern struct {
	KBID      string   `json:"kb_id"`
	Name      string   `json:"name"`
	Events    []Event  `json:"pattern_data"`
	Length    int      `json:"length"`
	TokenSet  []string `json:"token_set"`
	TokenCount int     `json:"token_count"`
	MinHash   []uint64 `json:"minhash_sig"`
	LSHBands  []uint64 `json:"lsh_bands"`
	FirstToken string  `json:"first_token"`
	LastToken  string  `json:"last_token"`
}

// PatternCounters is the mutable, per-pattern bookkeeping held in the
// Counters tier: frequency, rolling emotive window, and merged metadata.
type PatternCounters struct {
	Frequency int64                    `json:"frequency"`
	Emotives  []map[string]float64     `json:"emotives"`
	Metadata  map[string][]interface{} `json:"metadata"`
}

// Session is the process-local state for one client session: its node
// identity (and therefore KB), its short-term memory, pending side-channel
// data awaiting the next learn, and its effective configuration overrides.
type Session struct {
	ID              string                 `json:"session_id"`
	NodeID          string                 `json:"node_id"`
	KBID            string                 `json:"kb_id"`
	STM             []Event                `json:"stm"`
	PendingEmotives []map[string]float64   `json:"-"`
	PendingMetadata map[string][]interface{} `json:"-"`
	ConfigOverrides map[string]interface{} `json:"config_overrides,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	LastAccess      time.Time              `json:"last_access"`
	TTL             time.Duration          `json:"-"`
	// VectorDim is the dimensionality established by the session's first
	// vector observation; nil until then. All subsequent vectors in the
	// session must match it.
	VectorDim *int `json:"-"`
}

// RankSortAlgo is the secondary ranking key used to order predictions once
// the recall-threshold cutoff has been applied.
type RankSortAlgo string

// The complete set of recognized ranking keys (§4.4). Values serialize to
// these exact wire strings.
const (
	RankBySimilarity            RankSortAlgo = "similarity"
	RankByPotential              RankSortAlgo = "potential"
	RankByFrequency              RankSortAlgo = "frequency"
	RankByConfidence             RankSortAlgo = "confidence"
	RankBySNR                    RankSortAlgo = "snr"
	RankByFragmentation          RankSortAlgo = "fragmentation"
	RankByNormalizedEntropy      RankSortAlgo = "normalized_entropy"
	RankByBayesianPosterior      RankSortAlgo = "bayesian_posterior"
	RankByBayesianPrior          RankSortAlgo = "bayesian_prior"
	RankByBayesianLikelihood     RankSortAlgo = "bayesian_likelihood"
	RankByTFIDFScore             RankSortAlgo = "tfidf_score"
	RankByPredictiveInformation  RankSortAlgo = "predictive_information"
	RankByEvidence               RankSortAlgo = "evidence"
)

// Anomaly is a fuzzy-matched STM symbol that did not exactly match any
// pattern symbol but matched one within the configured fuzzy threshold.
type Anomaly struct {
	Observed   string  `json:"observed"`
	Expected   string  `json:"expected"`
	Similarity float64 `json:"similarity"`
}

// Prediction is the temporal-alignment result plus the assembled metrics
// for a single matched pattern.
type Prediction struct {
	Name    string  `json:"name"`
	Past    []Event `json:"past"`
	Present []Event `json:"present"`
	Future  []Event `json:"future"`
	// Missing is aligned 1:1 with Present; Missing[i] is the set of
	// symbols in Present[i] not observed in the corresponding STM event.
	Missing [][]string `json:"missing"`
	// Extras is aligned 1:1 with the observed STM.
	Extras    [][]string `json:"extras"`
	Anomalies []Anomaly  `json:"anomalies"`
	Matches   []string   `json:"matches"`

	Frequency int64 `json:"frequency"`

	Similarity               float64            `json:"similarity"`
	Potential                float64            `json:"potential"`
	Entropy                  float64            `json:"entropy"`
	NormalizedEntropy        float64            `json:"normalized_entropy"`
	GlobalNormalizedEntropy  float64            `json:"global_normalized_entropy"`
	BayesianPrior            float64            `json:"bayesian_prior"`
	BayesianLikelihood       float64            `json:"bayesian_likelihood"`
	BayesianPosterior        float64            `json:"bayesian_posterior"`
	TFIDFScore               float64            `json:"tfidf_score"`
	SNR                      float64            `json:"snr"`
	Fragmentation            float64            `json:"fragmentation"`
	Confidence               float64            `json:"confidence"`
	Evidence                 float64            `json:"evidence"`
	PredictiveInformation    float64            `json:"predictive_information"`
	Emotives                 map[string]float64 `json:"emotives"`
}

// FilterStage names one stage of the candidate filter pipeline.
type FilterStage string

const (
	FilterLength  FilterStage = "length"
	FilterJaccard FilterStage = "jaccard"
	FilterMinHash FilterStage = "minhash_lsh"
	FilterPrefix  FilterStage = "prefix"
	FilterSuffix  FilterStage = "suffix"
)
