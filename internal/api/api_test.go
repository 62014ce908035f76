package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevakavakians/kato/internal/config"
	"github.com/sevakavakians/kato/internal/models"
	"github.com/sevakavakians/kato/internal/session"
	"github.com/sevakavakians/kato/internal/storage"
)

type fakePatterns struct {
	mu     sync.Mutex
	bodies map[string][]models.Event
}

func (f *fakePatterns) PutIfAbsent(ctx context.Context, kbID, name string, events []models.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bodies[name]; ok {
		return false, nil
	}
	f.bodies[name] = events
	return true, nil
}
func (f *fakePatterns) Get(ctx context.Context, kbID, name string) ([]models.Event, error) {
	return f.bodies[name], nil
}
func (f *fakePatterns) Exists(ctx context.Context, kbID, name string) (bool, error) {
	_, ok := f.bodies[name]
	return ok, nil
}
func (f *fakePatterns) Scan(ctx context.Context, kbID string, fn func(string, []models.Event) error) error {
	return nil
}
func (f *fakePatterns) ClearKB(ctx context.Context, kbID string) error { return nil }
func (f *fakePatterns) Close() error                                  { return nil }

type fakeIndex struct {
	mu   sync.Mutex
	rows map[string]models.Pattern
}

func (f *fakeIndex) PutIfAbsent(ctx context.Context, kbID string, p models.Pattern) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[p.Name]; ok {
		return false, nil
	}
	f.rows[p.Name] = p
	return true, nil
}
func (f *fakeIndex) Get(ctx context.Context, kbID, name string) (models.Pattern, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.rows[name]
	return p, ok, nil
}
func (f *fakeIndex) Exists(ctx context.Context, kbID, name string) (bool, error) {
	_, ok := f.rows[name]
	return ok, nil
}
func (f *fakeIndex) ByLengthRange(ctx context.Context, kbID string, minLen, maxLen int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name, p := range f.rows {
		if p.Length >= minLen && p.Length <= maxLen {
			out = append(out, name)
		}
	}
	return out, nil
}
func (f *fakeIndex) ByLSHBand(ctx context.Context, kbID string, bandIndex int, bandHash uint64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name, p := range f.rows {
		if bandIndex < len(p.LSHBands) && p.LSHBands[bandIndex] == bandHash {
			out = append(out, name)
		}
	}
	return out, nil
}
func (f *fakeIndex) ByFirstToken(ctx context.Context, kbID, token string) ([]string, error) {
	return nil, nil
}
func (f *fakeIndex) ByLastToken(ctx context.Context, kbID, token string) ([]string, error) {
	return nil, nil
}
func (f *fakeIndex) All(ctx context.Context, kbID string) ([]string, error) { return nil, nil }
func (f *fakeIndex) ClearKB(ctx context.Context, kbID string) error         { return nil }
func (f *fakeIndex) Close() error                                          { return nil }

type fakeCounters struct {
	mu         sync.Mutex
	frequency  map[string]int64
	emotives   map[string][]map[string]float64
	metadata   map[string]map[string][]interface{}
	symbolFreq map[string]int64
	pmf        map[string]int64
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{
		frequency:  map[string]int64{},
		emotives:   map[string][]map[string]float64{},
		metadata:   map[string]map[string][]interface{}{},
		symbolFreq: map[string]int64{},
		pmf:        map[string]int64{},
	}
}

func (f *fakeCounters) IncrementFrequency(ctx context.Context, kbID, name string, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frequency[name] += delta
	return f.frequency[name], nil
}
func (f *fakeCounters) GetFrequency(ctx context.Context, kbID, name string) (int64, error) {
	return f.frequency[name], nil
}
func (f *fakeCounters) AppendEmotives(ctx context.Context, kbID, name string, emotives []map[string]float64, persistence int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emotives[name] = append(f.emotives[name], emotives...)
	return nil
}
func (f *fakeCounters) GetEmotives(ctx context.Context, kbID, name string) ([]map[string]float64, error) {
	return f.emotives[name], nil
}
func (f *fakeCounters) MergeMetadata(ctx context.Context, kbID, name string, metadata map[string][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metadata[name] == nil {
		f.metadata[name] = map[string][]interface{}{}
	}
	for k, vs := range metadata {
		f.metadata[name][k] = append(f.metadata[name][k], vs...)
	}
	return nil
}
func (f *fakeCounters) GetMetadata(ctx context.Context, kbID, name string) (map[string][]interface{}, error) {
	return f.metadata[name], nil
}
func (f *fakeCounters) IncrementSymbolFrequency(ctx context.Context, kbID, symbol string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbolFreq[symbol] += delta
	return nil
}
func (f *fakeCounters) IncrementPatternMemberFrequency(ctx context.Context, kbID, symbol string, delta int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pmf[symbol] += delta
	return nil
}
func (f *fakeCounters) GetSymbolStats(ctx context.Context, kbID, symbol string) (int64, int64, error) {
	return f.symbolFreq[symbol], f.pmf[symbol], nil
}
func (f *fakeCounters) IncrementGlobalSymbolCount(ctx context.Context, kbID string, delta int64) error {
	return nil
}
func (f *fakeCounters) IncrementGlobalPatternCount(ctx context.Context, kbID string, delta int64) error {
	return nil
}
func (f *fakeCounters) IncrementUniquePatternCount(ctx context.Context, kbID string, delta int64) error {
	return nil
}
func (f *fakeCounters) GetGlobalStats(ctx context.Context, kbID string) (int64, int64, int64, error) {
	return 0, 0, 0, nil
}
func (f *fakeCounters) WritePredictions(ctx context.Context, kbID, uniqueID string, preds []models.Prediction, ttl time.Duration) error {
	return nil
}
func (f *fakeCounters) GetPredictions(ctx context.Context, kbID, uniqueID string) ([]models.Prediction, bool, error) {
	return nil, false, nil
}
func (f *fakeCounters) ClearKB(ctx context.Context, kbID string) error { return nil }
func (f *fakeCounters) Close() error                                  { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	tiers := storage.Tiers{
		Patterns: &fakePatterns{bodies: map[string][]models.Event{}},
		Index:    &fakeIndex{rows: map[string]models.Pattern{}},
		Counters: newFakeCounters(),
	}
	mgr := session.New(tiers, config.Default(), 0, storage.NewKBRegistry())
	return New(mgr)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateSessionReturnsSessionID(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"node_id": "node-a"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "node-a", resp.NodeID)
}

func TestCreateSessionRejectsMissingNodeID(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSessionStmUnknownIDReturns404(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/sessions/ghost/stm", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var env map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "SESSION_NOT_FOUND", env["error"]["code"])
}

func TestObserveLearnAndPredictRoundTrip(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	createRec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"node_id": "shared"})
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))
	learnerID := created.SessionID

	doJSON(t, h, http.MethodPost, "/sessions/"+learnerID+"/observe", map[string]any{"strings": []string{"hello"}})
	doJSON(t, h, http.MethodPost, "/sessions/"+learnerID+"/observe", map[string]any{"strings": []string{"world"}})
	learnRec := doJSON(t, h, http.MethodPost, "/sessions/"+learnerID+"/learn", nil)
	require.Equal(t, http.StatusOK, learnRec.Code)

	predictRec2 := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"node_id": "shared"})
	var predictorSess createSessionResponse
	require.NoError(t, json.Unmarshal(predictRec2.Body.Bytes(), &predictorSess))
	predictorID := predictorSess.SessionID

	doJSON(t, h, http.MethodPost, "/sessions/"+predictorID+"/observe", map[string]any{"strings": []string{"hello"}})
	doJSON(t, h, http.MethodPost, "/sessions/"+predictorID+"/observe", map[string]any{"strings": []string{"world"}})

	predRec := doJSON(t, h, http.MethodGet, "/sessions/"+predictorID+"/predictions", nil)
	require.Equal(t, http.StatusOK, predRec.Code)

	var predResp map[string]any
	require.NoError(t, json.Unmarshal(predRec.Body.Bytes(), &predResp))
	assert.EqualValues(t, 1, predResp["count"])
}

func TestGetConfigReturnsEffectiveConfig(t *testing.T) {
	h := newTestServer(t).Handler()
	createRec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"node_id": "n"})
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	rec := doJSON(t, h, http.MethodGet, "/sessions/"+created.SessionID+"/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, config.Default().RecallThreshold, cfg.RecallThreshold)
}

func TestUpdateConfigThenGetConfigReflectsOverride(t *testing.T) {
	h := newTestServer(t).Handler()
	createRec := doJSON(t, h, http.MethodPost, "/sessions", map[string]any{"node_id": "n"})
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(createRec.Body.Bytes(), &created))

	rec := doJSON(t, h, http.MethodPost, "/sessions/"+created.SessionID+"/config", map[string]any{"recall_threshold": 0.5})
	require.Equal(t, http.StatusOK, rec.Code)

	got := doJSON(t, h, http.MethodGet, "/sessions/"+created.SessionID+"/config", nil)
	var cfg config.Config
	require.NoError(t, json.Unmarshal(got.Body.Bytes(), &cfg))
	assert.Equal(t, 0.5, cfg.RecallThreshold)
}

func TestGetPatternRequiresKBID(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/pattern/PTRN|deadbeef", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetPatternUnknownNameReturns404(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/pattern/PTRN|deadbeef?kb_id=KB|abc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthReportsStatusOK(t *testing.T) {
	h := newTestServer(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}
