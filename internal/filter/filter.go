// Package filter implements the candidate filter pipeline: an ordered,
// configurable chain of cheap stages (length, Jaccard, MinHash-LSH,
// prefix, suffix) that reduces the full pattern set in a KB down to a
// small candidate set before expensive similarity ranking. Every stage
// reads only PatternIndex.
package filter

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sevakavakians/kato/internal/config"
	"github.com/sevakavakians/kato/internal/hashing"
	"github.com/sevakavakians/kato/internal/models"
	"github.com/sevakavakians/kato/internal/storage"
)

// Features are the observation-derived values each stage filters
// candidates against.
type Features struct {
	Length     int
	TokenSet   []string
	LSHBands   []uint64
	FirstToken string
	LastToken  string
}

// FeaturesFromSTM derives Features from the observed STM.
func FeaturesFromSTM(stm []models.Event) Features {
	tokenSet := hashing.TokenSet(stm)
	sig := hashing.MinHashSignature(tokenSet)
	first, last := hashing.FirstLast(stm)
	return Features{
		Length:     hashing.Length(stm),
		TokenSet:   tokenSet,
		LSHBands:   hashing.LSHBands(sig),
		FirstToken: first,
		LastToken:  last,
	}
}

// Run executes cfg.FilterPipeline over kbID's patterns, returning the
// final candidate name set. An empty pipeline means "no filtering":
// every pattern in the KB is a candidate.
func Run(ctx context.Context, index storage.PatternIndex, kbID string, cfg config.Config, obs Features) ([]string, error) {
	if len(cfg.FilterPipeline) == 0 {
		return index.All(ctx, kbID)
	}

	var candidates []string
	for i, stage := range cfg.FilterPipeline {
		isFirst := i == 0
		var err error

		switch stage {
		case models.FilterLength:
			minLen := int(math.Floor(cfg.LengthMinRatio * float64(obs.Length)))
			maxLen := int(math.Ceil(cfg.LengthMaxRatio * float64(obs.Length)))
			candidates, err = lengthStage(ctx, index, kbID, candidates, isFirst, minLen, maxLen)
		case models.FilterJaccard:
			candidates, err = jaccardStage(ctx, index, kbID, candidates, isFirst, obs.TokenSet, cfg.JaccardThreshold, cfg.JaccardMinOverlap)
		case models.FilterMinHash:
			candidates, err = minhashStage(ctx, index, kbID, candidates, isFirst, obs.LSHBands)
		case models.FilterPrefix:
			candidates, err = prefixStage(ctx, index, kbID, candidates, isFirst, obs.FirstToken)
		case models.FilterSuffix:
			candidates, err = suffixStage(ctx, index, kbID, candidates, isFirst, obs.LastToken)
		default:
			return nil, fmt.Errorf("unknown filter stage %q", stage)
		}
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return candidates, nil
		}
	}
	return candidates, nil
}

func lengthStage(ctx context.Context, index storage.PatternIndex, kbID string, source []string, isFirst bool, minLen, maxLen int) ([]string, error) {
	if isFirst {
		return index.ByLengthRange(ctx, kbID, minLen, maxLen)
	}
	var out []string
	for _, name := range source {
		p, ok, err := index.Get(ctx, kbID, name)
		if err != nil {
			return nil, err
		}
		if ok && p.Length >= minLen && p.Length <= maxLen {
			out = append(out, name)
		}
	}
	return out, nil
}

func jaccardStage(ctx context.Context, index storage.PatternIndex, kbID string, source []string, isFirst bool, obsTokens []string, threshold float64, minOverlap int) ([]string, error) {
	if isFirst {
		all, err := index.All(ctx, kbID)
		if err != nil {
			return nil, err
		}
		source = all
	}
	obsSet := toSet(obsTokens)

	var out []string
	for _, name := range source {
		p, ok, err := index.Get(ctx, kbID, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		overlap := 0
		for _, t := range p.TokenSet {
			if obsSet[t] {
				overlap++
			}
		}
		union := len(obsSet) + len(p.TokenSet) - overlap
		if union == 0 {
			continue
		}
		score := float64(overlap) / float64(union)
		if score >= threshold && overlap >= minOverlap {
			out = append(out, name)
		}
	}
	return out, nil
}

func minhashStage(ctx context.Context, index storage.PatternIndex, kbID string, source []string, isFirst bool, obsBands []uint64) ([]string, error) {
	if isFirst {
		seen := map[string]bool{}
		var out []string
		for i, band := range obsBands {
			names, err := index.ByLSHBand(ctx, kbID, i, band)
			if err != nil {
				return nil, err
			}
			for _, n := range names {
				if !seen[n] {
					seen[n] = true
					out = append(out, n)
				}
			}
		}
		sort.Strings(out)
		return out, nil
	}

	var out []string
	for _, name := range source {
		p, ok, err := index.Get(ctx, kbID, name)
		if err != nil {
			return nil, err
		}
		if ok && sharesBand(p.LSHBands, obsBands) {
			out = append(out, name)
		}
	}
	return out, nil
}

func sharesBand(a, b []uint64) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] == b[i] {
			return true
		}
	}
	return false
}

func prefixStage(ctx context.Context, index storage.PatternIndex, kbID string, source []string, isFirst bool, token string) ([]string, error) {
	if isFirst {
		return index.ByFirstToken(ctx, kbID, token)
	}
	var out []string
	for _, name := range source {
		p, ok, err := index.Get(ctx, kbID, name)
		if err != nil {
			return nil, err
		}
		if ok && p.FirstToken == token {
			out = append(out, name)
		}
	}
	return out, nil
}

func suffixStage(ctx context.Context, index storage.PatternIndex, kbID string, source []string, isFirst bool, token string) ([]string, error) {
	if isFirst {
		return index.ByLastToken(ctx, kbID, token)
	}
	var out []string
	for _, name := range source {
		p, ok, err := index.Get(ctx, kbID, name)
		if err != nil {
			return nil, err
		}
		if ok && p.LastToken == token {
			out = append(out, name)
		}
	}
	return out, nil
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
