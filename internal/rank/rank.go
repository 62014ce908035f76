// Package rank computes the longest-common-subsequence-based similarity
// score between an observed STM and candidate pattern bodies, and applies
// the recall-threshold score cutoff. Final ordering by rank_sort_algo
// happens once the prediction assembler has computed every other metric
// (internal/predict), since most sort keys depend on those metrics.
package rank

import (
	"context"

	"github.com/sevakavakians/kato/internal/models"
	"github.com/sevakavakians/kato/internal/storage"
)

// Scored is one candidate that has passed the similarity cutoff.
type Scored struct {
	Name       string
	Events     []models.Event
	Similarity float64
	Matches    []string
}

// Flatten concatenates an event sequence's symbols into one flat slice,
// the representation the LCS ratio operates over.
func Flatten(events []models.Event) []string {
	var flat []string
	for _, e := range events {
		flat = append(flat, e...)
	}
	return flat
}

// Similarity computes 2*matches/(len(a)+len(b)) where matches is the
// length of the longest common subsequence of a and b.
func Similarity(a, b []string) float64 {
	if len(a)+len(b) == 0 {
		return 0
	}
	matches := lcsLength(a, b)
	return 2 * float64(matches) / float64(len(a)+len(b))
}

// Matches returns the actual longest common subsequence of a and b — the
// symbols that matched in the optimal alignment.
func Matches(a, b []string) []string {
	return lcsSequence(a, b)
}

func lcsLength(a, b []string) int {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return 0
	}
	prev := make([]int, m+1)
	curr := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[m]
}

func lcsSequence(a, b []string) []string {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return nil
	}
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	out := make([]string, dp[n][m])
	i, j := n, m
	for i > 0 && j > 0 {
		switch {
		case a[i-1] == b[j-1]:
			out[dp[i][j]-1] = a[i-1]
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return out
}

// Rank fetches each candidate's body from patterns, scores it against stm,
// and discards candidates scoring below cutoff.
func Rank(ctx context.Context, patterns storage.PatternStore, kbID string, candidateNames []string, stm []models.Event, cutoff float64) ([]Scored, error) {
	obsFlat := Flatten(stm)

	var out []Scored
	for _, name := range candidateNames {
		events, err := patterns.Get(ctx, kbID, name)
		if err != nil {
			return nil, err
		}
		if events == nil {
			continue
		}
		patFlat := Flatten(events)
		sim := Similarity(obsFlat, patFlat)
		if sim < cutoff {
			continue
		}
		out = append(out, Scored{
			Name:       name,
			Events:     events,
			Similarity: sim,
			Matches:    Matches(obsFlat, patFlat),
		})
	}
	return out, nil
}
