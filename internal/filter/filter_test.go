package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/internal/config"
	"github.com/sevakavakians/kato/internal/hashing"
	"github.com/sevakavakians/kato/internal/models"
)

// fakeIndex is a minimal in-memory storage.PatternIndex double, enough to
// exercise every filter stage's query shape without Dgraph.
type fakeIndex struct {
	rows map[string]models.Pattern
}

func newFakeIndex() *fakeIndex { return &fakeIndex{rows: map[string]models.Pattern{}}}

func (f *fakeIndex) add(p models.Pattern) { f.rows[p.Name] = p }

func (f *fakeIndex) PutIfAbsent(ctx context.Context, kbID string, p models.Pattern) (bool, error) {
	if _, ok := f.rows[p.Name]; ok {
		return false, nil
	}
	f.rows[p.Name] = p
	return true, nil
}

func (f *fakeIndex) Get(ctx context.Context, kbID, name string) (models.Pattern, bool, error) {
	p, ok := f.rows[name]
	return p, ok, nil
}

func (f *fakeIndex) Exists(ctx context.Context, kbID, name string) (bool, error) {
	_, ok := f.rows[name]
	return ok, nil
}

func (f *fakeIndex) ByLengthRange(ctx context.Context, kbID string, minLen, maxLen int) ([]string, error) {
	var out []string
	for name, p := range f.rows {
		if p.Length >= minLen && p.Length <= maxLen {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeIndex) ByLSHBand(ctx context.Context, kbID string, bandIndex int, bandHash uint64) ([]string, error) {
	var out []string
	for name, p := range f.rows {
		if bandIndex < len(p.LSHBands) && p.LSHBands[bandIndex] == bandHash {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeIndex) ByFirstToken(ctx context.Context, kbID, token string) ([]string, error) {
	var out []string
	for name, p := range f.rows {
		if p.FirstToken == token {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeIndex) ByLastToken(ctx context.Context, kbID, token string) ([]string, error) {
	var out []string
	for name, p := range f.rows {
		if p.LastToken == token {
			out = append(out, name)
		}
	}
	return out, nil
}

func (f *fakeIndex) All(ctx context.Context, kbID string) ([]string, error) {
	var out []string
	for name := range f.rows {
		out = append(out, name)
	}
	return out, nil
}

func (f *fakeIndex) ClearKB(ctx context.Context, kbID string) error { return nil }
func (f *fakeIndex) Close() error                                  { return nil }

func patternFor(events []models.Event) models.Pattern {
	return hashing.BuildIndex("kb1", events)
}

func TestRunEmptyPipelineReturnsEverything(t *testing.T) {
	idx := newFakeIndex()
	idx.add(patternFor([]models.Event{{"a"}, {"b"}}))
	idx.add(patternFor([]models.Event{{"c"}, {"d"}}))

	cfg := config.Default()
	cfg.FilterPipeline = nil

	got, err := Run(context.Background(), idx, "kb1", cfg, Features{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRunLengthFilterExcludesOutOfRange(t *testing.T) {
	idx := newFakeIndex()
	near := patternFor([]models.Event{{"a"}, {"b"}})
	far := patternFor([]models.Event{{"a"}, {"b"}, {"c"}, {"d"}, {"e"}, {"f"}, {"g"}, {"h"}})
	idx.add(near)
	idx.add(far)

	cfg := config.Default()
	cfg.FilterPipeline = []models.FilterStage{models.FilterLength}

	got, err := Run(context.Background(), idx, "kb1", cfg, Features{Length: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{near.Name}, got)
}

func TestRunJaccardFilterRequiresOverlapAndThreshold(t *testing.T) {
	idx := newFakeIndex()
	similar := patternFor([]models.Event{{"cat", "dog"}})
	unrelated := patternFor([]models.Event{{"car", "moon"}})
	idx.add(similar)
	idx.add(unrelated)

	cfg := config.Default()
	cfg.FilterPipeline = []models.FilterStage{models.FilterJaccard}
	cfg.JaccardThreshold = 0.3
	cfg.JaccardMinOverlap = 1

	got, err := Run(context.Background(), idx, "kb1", cfg, Features{TokenSet: []string{"cat", "dog"}})
	require.NoError(t, err)
	assert.Equal(t, []string{similar.Name}, got)
}

func TestRunMinHashFilterRequiresSharedBand(t *testing.T) {
	idx := newFakeIndex()
	events := []models.Event{{"alpha", "beta", "gamma"}}
	same := patternFor(events)
	idx.add(same)
	idx.add(patternFor([]models.Event{{"zzz", "yyy", "xxx"}}))

	obs := FeaturesFromSTM(events)

	cfg := config.Default()
	cfg.FilterPipeline = []models.FilterStage{models.FilterMinHash}

	got, err := Run(context.Background(), idx, "kb1", cfg, obs)
	require.NoError(t, err)
	assert.Contains(t, got, same.Name)
}

func TestRunPipelineIsSequentialIntersection(t *testing.T) {
	idx := newFakeIndex()
	keep := patternFor([]models.Event{{"a", "b"}})
	wrongLength := patternFor([]models.Event{{"a", "b", "c", "d", "e", "f", "g", "h"}})
	idx.add(keep)
	idx.add(wrongLength)

	cfg := config.Default()
	cfg.FilterPipeline = []models.FilterStage{models.FilterLength, models.FilterPrefix}

	got, err := Run(context.Background(), idx, "kb1", cfg, Features{Length: 2, FirstToken: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{keep.Name}, got)
}

func TestRunShortCircuitsOnEmptyIntermediateResult(t *testing.T) {
	idx := newFakeIndex()
	idx.add(patternFor([]models.Event{{"a"}, {"b"}}))

	cfg := config.Default()
	cfg.FilterPipeline = []models.FilterStage{models.FilterLength, models.FilterPrefix}

	got, err := Run(context.Background(), idx, "kb1", cfg, Features{Length: 999, FirstToken: "a"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunUnknownStageErrors(t *testing.T) {
	idx := newFakeIndex()
	cfg := config.Default()
	cfg.FilterPipeline = []models.FilterStage{"bogus"}

	_, err := Run(context.Background(), idx, "kb1", cfg, Features{})
	require.Error(t, err)
}
