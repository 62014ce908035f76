// Package canon implements the observation processor: canonicalizing raw
// observations into events, accumulating short-term memory, and firing
// the auto-learn trigger.
package canon

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"github.com/sevakavakians/kato/internal/kerrors"
	"github.com/sevakavakians/kato/internal/models"
)

// VectorSymbol maps a dense vector to a stable "VCTR|<hex>" symbol: the
// hex SHA-1 of the vector's components encoded as big-endian float64
// bytes. Identical vectors always produce identical symbols; any
// component difference changes the hash.
func VectorSymbol(vec []float64) string {
	buf := make([]byte, 8*len(vec))
	for i, f := range vec {
		binary.BigEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	sum := sha1.Sum(buf)
	return "VCTR|" + hex.EncodeToString(sum[:])
}

// Canonicalize turns a non-empty observation into a sorted event: string
// tokens plus one VCTR symbol per vector, re-sorted together. dim is the
// session's established vector dimensionality (nil if not yet set); it is
// updated in place on the first vector observed.
func Canonicalize(obs models.Observation, dim **int) (models.Event, error) {
	symbols := append([]string(nil), obs.Strings...)

	for _, vec := range obs.Vectors {
		if *dim == nil {
			d := len(vec)
			*dim = &d
		} else if len(vec) != **dim {
			return nil, kerrors.NewInvalidVectorDim(**dim, len(vec))
		}
		symbols = append(symbols, VectorSymbol(vec))
	}

	sort.Strings(symbols)
	return models.Event(symbols), nil
}

// Learner is invoked synchronously by the auto-learn trigger; it performs
// the multi-tier pattern write and returns the learned pattern's name.
type Learner interface {
	Learn(ctx context.Context, kbID string, stm []models.Event) (string, error)
}

// ObserveResult mirrors the HTTP observe acknowledgement shape (spec.md
// §6.1): the resulting STM length and, if auto-learn fired, the learned
// pattern name.
type ObserveResult struct {
	STMLength           int
	UniqueID             string
	AutoLearnedPattern   string
}

// Observe canonicalizes obs, appends it to the session's STM and pending
// side-channel buffers, and fires auto-learn if the STM has reached
// maxPatternLength. An empty observation is a no-op and returns the
// session's current STM length unchanged.
func Observe(ctx context.Context, sess *models.Session, obs models.Observation, maxPatternLength int, stmMode models.STMMode, learner Learner) (ObserveResult, error) {
	if obs.IsEmpty() {
		return ObserveResult{STMLength: len(sess.STM), UniqueID: obs.UniqueID}, nil
	}

	event, err := Canonicalize(obs, &sess.VectorDim)
	if err != nil {
		return ObserveResult{}, err
	}
	if len(event) == 0 {
		// Emotives/metadata-only observations still travel alongside but
		// contribute no event; STM is unchanged per invariant 6.
		mergeSideChannel(sess, obs)
		return ObserveResult{STMLength: len(sess.STM), UniqueID: obs.UniqueID}, nil
	}

	sess.STM = append(sess.STM, event)
	mergeSideChannel(sess, obs)

	result := ObserveResult{STMLength: len(sess.STM), UniqueID: obs.UniqueID}

	if maxPatternLength > 0 && len(sess.STM) >= maxPatternLength {
		snapshot := append([]models.Event(nil), sess.STM...)
		name, err := learner.Learn(ctx, sess.KBID, snapshot)
		if err != nil {
			return result, err
		}
		result.AutoLearnedPattern = name
		truncateSTM(sess, stmMode, maxPatternLength)
		result.STMLength = len(sess.STM)
	}

	return result, nil
}

// mergeSideChannel appends the observation's emotives to the session's
// pending emotive list and set-unions its metadata into the session's
// pending metadata map; both await the next learn.
func mergeSideChannel(sess *models.Session, obs models.Observation) {
	if len(obs.Emotives) > 0 {
		sess.PendingEmotives = append(sess.PendingEmotives, obs.Emotives)
	}
	if len(obs.Metadata) == 0 {
		return
	}
	if sess.PendingMetadata == nil {
		sess.PendingMetadata = map[string][]interface{}{}
	}
	for k, v := range obs.Metadata {
		sess.PendingMetadata[k] = appendUnique(sess.PendingMetadata[k], v)
	}
}

func appendUnique(existing []interface{}, v interface{}) []interface{} {
	for _, e := range existing {
		if e == v {
			return existing
		}
	}
	return append(existing, v)
}

// truncateSTM applies stm_mode after an auto-learn: CLEAR empties STM,
// ROLLING retains the trailing (maxPatternLength-1) events.
func truncateSTM(sess *models.Session, mode models.STMMode, maxPatternLength int) {
	switch mode {
	case models.STMModeRolling:
		keep := maxPatternLength - 1
		if keep < 0 {
			keep = 0
		}
		if len(sess.STM) > keep {
			sess.STM = append([]models.Event(nil), sess.STM[len(sess.STM)-keep:]...)
		}
	default: // models.STMModeClear
		sess.STM = nil
	}
}
