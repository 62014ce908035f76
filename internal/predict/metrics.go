// Package predict assembles ranked, aligned candidates into full
// prediction records: frequency, similarity, Bayesian and information-
// theoretic metrics, and the rolling-emotive-window average.
//
// snr, fragmentation, confidence, evidence, and predictive_information
// have no single documented reference formula (see spec's design notes on
// this point); each is defined once here as a closed form derived from
// the other metrics, and pinned by a frozen-corpus test in
// metrics_test.go so any future change to the formula is a deliberate,
// reviewed diff.
package predict

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"math"

	"github.com/sevakavakians/kato/internal/align"
	"github.com/sevakavakians/kato/internal/hashing"
	"github.com/sevakavakians/kato/internal/models"
)

// GlobalStats are the KB-wide counters the Bayesian and entropy metrics
// normalize against.
type GlobalStats struct {
	TotalSymbolFrequencies  int64
	TotalPatternFrequencies int64
	TotalUniquePatterns     int64
}

// SymbolStatsFunc fetches a symbol's global frequency and the number of
// distinct patterns it appears in (the TF-IDF "document frequency").
type SymbolStatsFunc func(ctx context.Context, symbol string) (symbolFrequency, patternMemberFrequency int64, err error)

// CandidateInputs bundles everything ComputeMetrics needs for one ranked,
// aligned candidate.
type CandidateInputs struct {
	Name          string
	PatternEvents []models.Event
	TokenSetSize  int
	Similarity    float64
	Matches       []string
	Frequency     int64
	EmotiveWindow []map[string]float64
	Alignment     align.Result
}

// ComputeMetrics fills every metric field of a Prediction for one
// candidate, except BayesianPosterior, which is left as an unnormalized
// likelihood·prior product until NormalizePosteriors runs over the full
// candidate set.
func ComputeMetrics(ctx context.Context, in CandidateInputs, global GlobalStats, symbolStats SymbolStatsFunc) (models.Prediction, error) {
	pred := models.Prediction{
		Name:       in.Name,
		Past:       in.Alignment.Past,
		Present:    in.Alignment.Present,
		Future:     in.Alignment.Future,
		Missing:    toStringSlices(in.Alignment.Missing),
		Extras:     toStringSlices(in.Alignment.Extras),
		Anomalies:  in.Alignment.Anomalies,
		Matches:    in.Matches,
		Frequency:  in.Frequency,
		Similarity: in.Similarity,
	}

	entropy := futureEntropy(in.Alignment.Future)
	pred.Entropy = entropy
	pred.NormalizedEntropy = entropy / log2OfAtLeastTwo(in.TokenSetSize)
	pred.GlobalNormalizedEntropy = entropy / log2OfAtLeastTwo(int(global.TotalSymbolFrequencies))
	pred.Potential = in.Similarity * (1 - pred.NormalizedEntropy)

	if global.TotalPatternFrequencies > 0 {
		pred.BayesianPrior = float64(in.Frequency) / float64(global.TotalPatternFrequencies)
	}
	pred.BayesianLikelihood = in.Similarity
	// Unnormalized; NormalizePosteriors divides by the cross-candidate sum.
	pred.BayesianPosterior = pred.BayesianLikelihood * pred.BayesianPrior

	tfidf, err := tfidfScore(ctx, in.PatternEvents, in.Matches, global.TotalUniquePatterns, symbolStats)
	if err != nil {
		return models.Prediction{}, err
	}
	pred.TFIDFScore = tfidf

	totalPresentSymbols, totalMissingSymbols := 0, 0
	for i, present := range in.Alignment.Present {
		totalPresentSymbols += len(present)
		totalMissingSymbols += len(in.Alignment.Missing[i])
	}
	pred.Fragmentation = fragmentation(totalMissingSymbols, totalPresentSymbols)
	pred.SNR = in.Similarity / (pred.Fragmentation + 1e-9)
	pred.Confidence = in.Similarity * pred.BayesianPosterior * (1 - pred.Fragmentation)
	pred.Evidence = float64(in.Frequency) * in.Similarity
	pred.PredictiveInformation = log2OfAtLeastTwo(in.TokenSetSize) - entropy

	pred.Emotives = averageEmotives(in.EmotiveWindow)

	return pred, nil
}

// NormalizePosteriors divides each candidate's unnormalized
// likelihood·prior product by the sum across the full candidate set, so
// the posteriors in one prediction response sum to 1.
func NormalizePosteriors(preds []models.Prediction) {
	var sum float64
	for _, p := range preds {
		sum += p.BayesianPosterior
	}
	if sum == 0 {
		return
	}
	for i := range preds {
		preds[i].BayesianPosterior /= sum
	}
}

func futureEntropy(future []models.Event) float64 {
	counts := map[string]int{}
	total := 0
	for _, e := range future {
		for _, s := range e {
			counts[s]++
			total++
		}
	}
	if total == 0 {
		return 0
	}
	var entropy float64
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func log2OfAtLeastTwo(n int) float64 {
	if n < 2 {
		n = 2
	}
	return math.Log2(float64(n))
}

func fragmentation(missingSymbols, presentSymbols int) float64 {
	if presentSymbols == 0 {
		return 0
	}
	return float64(missingSymbols) / float64(presentSymbols)
}

func tfidfScore(ctx context.Context, patternEvents []models.Event, matches []string, totalUniquePatterns int64, symbolStats SymbolStatsFunc) (float64, error) {
	if len(matches) == 0 || totalUniquePatterns == 0 {
		return 0, nil
	}

	flat := make([]string, 0)
	for _, e := range patternEvents {
		flat = append(flat, e...)
	}
	if len(flat) == 0 {
		return 0, nil
	}
	counts := map[string]int{}
	for _, s := range flat {
		counts[s]++
	}

	var score float64
	for _, s := range matches {
		tf := float64(counts[s]) / float64(len(flat))
		_, pmf, err := symbolStats(ctx, s)
		if err != nil {
			return 0, err
		}
		if pmf <= 0 {
			continue
		}
		idf := math.Log(float64(totalUniquePatterns) / float64(pmf))
		score += tf * idf
	}
	return score, nil
}

func averageEmotives(window []map[string]float64) map[string]float64 {
	if len(window) == 0 {
		return nil
	}
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, entry := range window {
		for k, v := range entry {
			sums[k] += v
			counts[k]++
		}
	}
	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}

func toStringSlices(events []models.Event) [][]string {
	out := make([][]string, len(events))
	for i, e := range events {
		out[i] = []string(e)
	}
	return out
}

// UniqueID derives a deterministic cache key from STM contents, so
// repeated lookups for an unchanged STM return bit-identical cached
// prediction lists.
func UniqueID(stm []models.Event) string {
	canon := hashing.CanonicalSequence(stm)
	sum := sha1.Sum([]byte(canon))
	return "STM|" + hex.EncodeToString(sum[:])
}
