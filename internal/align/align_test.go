package align

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sevakavakians/kato/internal/models"
)

func ev(symbols ...string) models.Event { return models.Event(symbols) }

func TestAlignPastPresentFuture(t *testing.T) {
	pattern := []models.Event{ev("beginning"), ev("middle"), ev("end")}
	stm := []models.Event{ev("middle"), ev("end")}

	r := Align(pattern, stm, 0)
	assert.Equal(t, []models.Event{ev("beginning")}, r.Past)
	assert.Equal(t, []models.Event{ev("middle"), ev("end")}, r.Present)
	assert.Empty(t, r.Future)
}

func TestAlignMissingSymbols(t *testing.T) {
	pattern := []models.Event{ev("hello", "world"), ev("foo", "bar")}
	stm := []models.Event{ev("hello"), ev("foo")}

	r := Align(pattern, stm, 0)
	assert.Equal(t, []models.Event{ev("world"), ev("bar")}, r.Missing)
}

func TestAlignExtraSymbols(t *testing.T) {
	pattern := []models.Event{ev("a", "b"), ev("c", "d")}
	stm := []models.Event{ev("a", "x"), ev("c", "y")}

	r := Align(pattern, stm, 0)
	assert.Equal(t, []models.Event{ev("b"), ev("d")}, r.Missing)
	assert.Equal(t, []models.Event{ev("x"), ev("y")}, r.Extras)
}

func TestAlignmentInvariantsHold(t *testing.T) {
	pattern := []models.Event{ev("one"), ev("two"), ev("three"), ev("four")}
	stm := []models.Event{ev("two"), ev("three")}

	r := Align(pattern, stm, 0)

	assert.Len(t, r.Missing, len(r.Present))
	assert.Len(t, r.Extras, len(stm))

	reconstructed := append(append(append([]models.Event{}, r.Past...), r.Present...), r.Future...)
	assert.Equal(t, pattern, reconstructed)

	for i, present := range r.Present {
		presentSet := map[string]bool{}
		for _, s := range present {
			presentSet[s] = true
		}
		for _, s := range r.Missing[i] {
			assert.True(t, presentSet[s], "every missing symbol must appear in its corresponding present event")
		}
	}
}

func TestAlignNoOverlapLeavesPatternEntirelyPast(t *testing.T) {
	pattern := []models.Event{ev("x"), ev("y")}
	stm := []models.Event{ev("z")}

	r := Align(pattern, stm, 0)
	assert.Equal(t, pattern, r.Past)
	assert.Empty(t, r.Present)
	assert.Empty(t, r.Future)
}

func TestAlignFuzzyMatchRemovesFromMissingAndExtras(t *testing.T) {
	pattern := []models.Event{ev("hello", "world")}
	stm := []models.Event{ev("hello", "worlld")} // one-character typo

	r := Align(pattern, stm, 0.8)

	assert.Empty(t, r.Missing[0])
	assert.Empty(t, r.Extras[0])
	assert.Len(t, r.Anomalies, 1)
	assert.Equal(t, "worlld", r.Anomalies[0].Observed)
	assert.Equal(t, "world", r.Anomalies[0].Expected)
}

func TestAlignDisabledFuzzyThresholdLeavesHardMismatches(t *testing.T) {
	pattern := []models.Event{ev("hello", "world")}
	stm := []models.Event{ev("hello", "worlld")}

	r := Align(pattern, stm, 0)
	assert.Empty(t, r.Anomalies)
	assert.Equal(t, []models.Event{ev("world")}, r.Missing)
	assert.Equal(t, []models.Event{ev("worlld")}, r.Extras)
}

func TestAlignExactMatchesNeverAppearInAnomalies(t *testing.T) {
	pattern := []models.Event{ev("alpha", "beta")}
	stm := []models.Event{ev("alpha", "beta")}

	r := Align(pattern, stm, 0.5)
	assert.Empty(t, r.Anomalies)
}
