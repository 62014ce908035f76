package predict

import (
	"context"
	"sort"
	"time"

	"github.com/sevakavakians/kato/internal/align"
	"github.com/sevakavakians/kato/internal/config"
	"github.com/sevakavakians/kato/internal/filter"
	"github.com/sevakavakians/kato/internal/models"
	"github.com/sevakavakians/kato/internal/rank"
	"github.com/sevakavakians/kato/internal/storage"
)

// PredictionsTTL is how long an assembled prediction list is cached in
// Counters under its STM-derived unique_id.
const PredictionsTTL = 5 * time.Minute

// Predict runs the full get_predictions pipeline for one knowledge base
// against the given STM: filter candidates, rank by LCS similarity, align
// each survivor temporally, compute every metric, sort by the configured
// rank_sort_algo, and truncate to max_predictions. Results are cached in
// Counters keyed by a deterministic hash of stm and served from cache on
// an unchanged STM.
func Predict(ctx context.Context, tiers storage.Tiers, kbID string, stm []models.Event, cfg config.Config) ([]models.Prediction, error) {
	uniqueID := UniqueID(stm)
	if cached, ok, err := tiers.Counters.GetPredictions(ctx, kbID, uniqueID); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	obs := filter.FeaturesFromSTM(stm)
	candidates, err := filter.Run(ctx, tiers.Index, kbID, cfg, obs)
	if err != nil {
		return nil, err
	}

	scored, err := rank.Rank(ctx, tiers.Patterns, kbID, candidates, stm, cfg.RecallThreshold)
	if err != nil {
		return nil, err
	}

	totalSymbolFreq, totalPatternFreq, totalUniquePatterns, err := tiers.Counters.GetGlobalStats(ctx, kbID)
	if err != nil {
		return nil, err
	}
	global := GlobalStats{
		TotalSymbolFrequencies:  totalSymbolFreq,
		TotalPatternFrequencies: totalPatternFreq,
		TotalUniquePatterns:     totalUniquePatterns,
	}
	symbolStats := func(ctx context.Context, symbol string) (int64, int64, error) {
		return tiers.Counters.GetSymbolStats(ctx, kbID, symbol)
	}

	preds := make([]models.Prediction, 0, len(scored))
	for _, c := range scored {
		row, found, err := tiers.Index.Get(ctx, kbID, c.Name)
		if err != nil {
			return nil, err
		}
		tokenSetSize := len(row.TokenSet)
		if !found {
			tokenSetSize = 0
		}

		frequency, err := tiers.Counters.GetFrequency(ctx, kbID, c.Name)
		if err != nil {
			return nil, err
		}
		emotives, err := tiers.Counters.GetEmotives(ctx, kbID, c.Name)
		if err != nil {
			return nil, err
		}

		alignment := align.Align(c.Events, stm, cfg.FuzzyTokenThreshold)

		pred, err := ComputeMetrics(ctx, CandidateInputs{
			Name:          c.Name,
			PatternEvents: c.Events,
			TokenSetSize:  tokenSetSize,
			Similarity:    c.Similarity,
			Matches:       c.Matches,
			Frequency:     frequency,
			EmotiveWindow: emotives,
			Alignment:     alignment,
		}, global, symbolStats)
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}

	NormalizePosteriors(preds)
	sortPredictions(preds, cfg.RankSortAlgo)

	if cfg.MaxPredictions > 0 && len(preds) > cfg.MaxPredictions {
		preds = preds[:cfg.MaxPredictions]
	}

	if err := tiers.Counters.WritePredictions(ctx, kbID, uniqueID, preds, PredictionsTTL); err != nil {
		return nil, err
	}

	return preds, nil
}

// sortPredictions orders by the descending value of algo, with a stable
// lexicographic tie-break on name so repeated runs over the same
// candidate set always produce the same order.
func sortPredictions(preds []models.Prediction, algo models.RankSortAlgo) {
	key := rankKey(algo)
	sort.SliceStable(preds, func(i, j int) bool {
		ki, kj := key(preds[i]), key(preds[j])
		if ki != kj {
			return ki > kj
		}
		return preds[i].Name < preds[j].Name
	})
}

func rankKey(algo models.RankSortAlgo) func(models.Prediction) float64 {
	switch algo {
	case models.RankByPotential:
		return func(p models.Prediction) float64 { return p.Potential }
	case models.RankByFrequency:
		return func(p models.Prediction) float64 { return float64(p.Frequency) }
	case models.RankBySNR:
		return func(p models.Prediction) float64 { return p.SNR }
	case models.RankByFragmentation:
		return func(p models.Prediction) float64 { return p.Fragmentation }
	case models.RankByNormalizedEntropy:
		return func(p models.Prediction) float64 { return p.NormalizedEntropy }
	case models.RankByBayesianPosterior:
		return func(p models.Prediction) float64 { return p.BayesianPosterior }
	case models.RankByBayesianPrior:
		return func(p models.Prediction) float64 { return p.BayesianPrior }
	case models.RankByBayesianLikelihood:
		return func(p models.Prediction) float64 { return p.BayesianLikelihood }
	case models.RankByTFIDFScore:
		return func(p models.Prediction) float64 { return p.TFIDFScore }
	case models.RankByPredictiveInformation:
		return func(p models.Prediction) float64 { return p.PredictiveInformation }
	case models.RankByEvidence:
		return func(p models.Prediction) float64 { return p.Evidence }
	case models.RankByConfidence:
		return func(p models.Prediction) float64 { return p.Confidence }
	default: // models.RankBySimilarity and any unrecognized value
		return func(p models.Prediction) float64 { return p.Similarity }
	}
}
