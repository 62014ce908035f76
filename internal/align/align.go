// Package align implements the temporal alignment algorithm: given a
// matched pattern sequence and the observed STM, it partitions the
// pattern into past/present/future relative to the STM and computes
// missing/extras/anomalies.
package align

import (
	"github.com/sevakavakians/kato/internal/models"
	"github.com/sevakavakians/kato/internal/rank"
)

// Result is the temporal alignment of one matched pattern against the
// observed STM.
type Result struct {
	Past, Present, Future []models.Event
	// Missing[i] is the set of symbols in Present[i] not observed in the
	// corresponding STM event; len(Missing) == len(Present).
	Missing []models.Event
	// Extras[j] is the set of symbols in STM[j] not expected by the
	// corresponding Present event; len(Extras) == len(STM).
	Extras    []models.Event
	Anomalies []models.Anomaly
}

// Align partitions pattern into past/present/future relative to stm and
// computes missing/extras/anomalies. fuzzyThreshold <= 0 disables fuzzy
// anomaly detection: extras are left as hard mismatches.
func Align(pattern, stm []models.Event, fuzzyThreshold float64) Result {
	stmSymbols := symbolSet(stm)

	first, last := -1, -1
	for i, e := range pattern {
		if eventSharesAny(e, stmSymbols) {
			if first == -1 {
				first = i
			}
			last = i
		}
	}

	var past, present, future []models.Event
	if first == -1 {
		past = cloneEvents(pattern)
	} else {
		past = cloneEvents(pattern[:first])
		present = cloneEvents(pattern[first : last+1])
		future = cloneEvents(pattern[last+1:])
	}

	missing := make([]models.Event, len(present))
	for i, pe := range present {
		var correspondingSTM models.Event
		if i < len(stm) {
			correspondingSTM = stm[i]
		}
		missing[i] = difference(pe, correspondingSTM)
	}

	extras := make([]models.Event, len(stm))
	for j, se := range stm {
		var correspondingPresent models.Event
		if j < len(present) {
			correspondingPresent = present[j]
		}
		extras[j] = difference(se, correspondingPresent)
	}

	var anomalies []models.Anomaly
	if fuzzyThreshold > 0 {
		anomalies = resolveFuzzyMatches(missing, extras, fuzzyThreshold)
	}

	return Result{Past: past, Present: present, Future: future, Missing: missing, Extras: extras, Anomalies: anomalies}
}

// resolveFuzzyMatches mutates missing/extras in place, removing any pair
// that fuzzy-matches at or above threshold, and returns the anomaly
// records for those removed pairs.
func resolveFuzzyMatches(missing, extras []models.Event, threshold float64) []models.Anomaly {
	var anomalies []models.Anomaly
	for j := range extras {
		if j >= len(missing) {
			continue
		}
		var remaining models.Event
		for _, observed := range extras[j] {
			bestIdx := -1
			bestSim := 0.0
			for mi, expected := range missing[j] {
				sim := tokenSimilarity(observed, expected)
				if sim >= threshold && sim > bestSim {
					bestSim = sim
					bestIdx = mi
				}
			}
			if bestIdx >= 0 {
				anomalies = append(anomalies, models.Anomaly{
					Observed:   observed,
					Expected:   missing[j][bestIdx],
					Similarity: bestSim,
				})
				missing[j] = removeAt(missing[j], bestIdx)
			} else {
				remaining = append(remaining, observed)
			}
		}
		extras[j] = remaining
	}
	return anomalies
}

// tokenSimilarity is the same LCS-based ratio used for sequence
// similarity, applied at the character level.
func tokenSimilarity(a, b string) float64 {
	return rank.Similarity(chars(a), chars(b))
}

func chars(s string) []string {
	rs := []rune(s)
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

func symbolSet(events []models.Event) map[string]bool {
	set := map[string]bool{}
	for _, e := range events {
		for _, s := range e {
			set[s] = true
		}
	}
	return set
}

func eventSharesAny(e models.Event, set map[string]bool) bool {
	for _, s := range e {
		if set[s] {
			return true
		}
	}
	return false
}

func difference(e, other models.Event) models.Event {
	otherSet := map[string]bool{}
	for _, s := range other {
		otherSet[s] = true
	}
	var out models.Event
	for _, s := range e {
		if !otherSet[s] {
			out = append(out, s)
		}
	}
	return out
}

func cloneEvents(events []models.Event) []models.Event {
	out := make([]models.Event, len(events))
	copy(out, events)
	return out
}

func removeAt(e models.Event, i int) models.Event {
	out := make(models.Event, 0, len(e)-1)
	out = append(out, e[:i]...)
	out = append(out, e[i+1:]...)
	return out
}
