package predict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/internal/align"
	"github.com/sevakavakians/kato/internal/models"
)

func ev(symbols ...string) models.Event { return models.Event(symbols) }

func noopSymbolStats(freq, pmf int64) SymbolStatsFunc {
	return func(ctx context.Context, symbol string) (int64, int64, error) {
		return freq, pmf, nil
	}
}

func TestFutureEntropyUniformDistributionIsMaxEntropy(t *testing.T) {
	future := []models.Event{ev("a", "b")}
	// one occurrence each of a, b: uniform over 2 symbols -> 1 bit
	assert.InDelta(t, 1.0, futureEntropy(future), 1e-9)
}

func TestFutureEntropySingleSymbolIsZero(t *testing.T) {
	future := []models.Event{ev("a"), ev("a")}
	assert.Equal(t, 0.0, futureEntropy(future))
}

func TestFutureEntropyEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, futureEntropy(nil))
}

func TestFragmentationRatioOfMissingToPresent(t *testing.T) {
	assert.InDelta(t, 0.5, fragmentation(1, 2), 1e-9)
	assert.Equal(t, 0.0, fragmentation(0, 0))
}

func TestAverageEmotivesOnlyAveragesPresentKeys(t *testing.T) {
	window := []map[string]float64{
		{"arousal": 1.0, "valence": 0.5},
		{"arousal": 0.5},
	}
	got := averageEmotives(window)
	assert.InDelta(t, 0.75, got["arousal"], 1e-9)
	assert.InDelta(t, 0.5, got["valence"], 1e-9)
}

func TestAverageEmotivesEmptyWindowIsNil(t *testing.T) {
	assert.Nil(t, averageEmotives(nil))
}

func TestComputeMetricsFrozenCorpus(t *testing.T) {
	pattern := []models.Event{ev("hello", "world"), ev("foo")}
	stm := []models.Event{ev("hello", "world")}
	alignment := align.Align(pattern, stm, 0)

	in := CandidateInputs{
		Name:          "PTRN|frozen",
		PatternEvents: pattern,
		TokenSetSize:  3,
		Similarity:    0.8,
		Matches:       []string{"hello", "world"},
		Frequency:     4,
		EmotiveWindow: []map[string]float64{{"arousal": 1.0}, {"arousal": 0.5}},
		Alignment:     alignment,
	}
	global := GlobalStats{TotalSymbolFrequencies: 10, TotalPatternFrequencies: 20, TotalUniquePatterns: 5}

	pred, err := ComputeMetrics(context.Background(), in, global, noopSymbolStats(10, 2))
	require.NoError(t, err)

	assert.Equal(t, "PTRN|frozen", pred.Name)
	assert.Equal(t, int64(4), pred.Frequency)
	assert.Equal(t, 0.8, pred.Similarity)
	// future = {"foo"}: a single symbol, so entropy is 0.
	assert.Equal(t, 0.0, pred.Entropy)
	assert.InDelta(t, 0.0, pred.NormalizedEntropy, 1e-9)
	assert.InDelta(t, 0.8, pred.Potential, 1e-9) // similarity * (1 - 0)
	assert.InDelta(t, 0.2, pred.BayesianPrior, 1e-9) // 4/20
	assert.Equal(t, 0.8, pred.BayesianLikelihood)
	assert.InDelta(t, 0.16, pred.BayesianPosterior, 1e-9) // unnormalized: 0.8*0.2

	// tf("hello")=1/3, tf("world")=1/3, idf = ln(5/2)
	wantIDF := 0.9162907318741551 // ln(2.5)
	wantTFIDF := (1.0/3.0)*wantIDF*2
	assert.InDelta(t, wantTFIDF, pred.TFIDFScore, 1e-6)

	assert.InDelta(t, 0.0, pred.Fragmentation, 1e-9) // exact match, nothing missing
	assert.Greater(t, pred.SNR, 1e8)                 // near-zero fragmentation dominates the denominator
	assert.InDelta(t, 0.8*0.16*1, pred.Confidence, 1e-9)
	assert.InDelta(t, 4*0.8, pred.Evidence, 1e-9)
	// predictive_information = log2(max(2,tokenSetSize)) - entropy = log2(3) - 0
	assert.InDelta(t, 1.5849625007211562, pred.PredictiveInformation, 1e-9)

	require.NotNil(t, pred.Emotives)
	assert.InDelta(t, 0.75, pred.Emotives["arousal"], 1e-9)
}

func TestNormalizePosteriorsSumsToOne(t *testing.T) {
	preds := []models.Prediction{
		{BayesianPosterior: 0.3},
		{BayesianPosterior: 0.1},
	}
	NormalizePosteriors(preds)
	assert.InDelta(t, 0.75, preds[0].BayesianPosterior, 1e-9)
	assert.InDelta(t, 0.25, preds[1].BayesianPosterior, 1e-9)
}

func TestNormalizePosteriorsZeroSumLeavesUnchanged(t *testing.T) {
	preds := []models.Prediction{{BayesianPosterior: 0}, {BayesianPosterior: 0}}
	NormalizePosteriors(preds)
	assert.Equal(t, 0.0, preds[0].BayesianPosterior)
}

func TestUniqueIDIsDeterministicAndOrderSensitive(t *testing.T) {
	a := []models.Event{ev("x"), ev("y")}
	b := []models.Event{ev("x"), ev("y")}
	c := []models.Event{ev("y"), ev("x")}

	assert.Equal(t, UniqueID(a), UniqueID(b))
	assert.NotEqual(t, UniqueID(a), UniqueID(c))
}
