package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sevakavakians/kato/internal/models"
)

// DgraphPatternIndex is the columnar PatternIndex tier: every filter-stage
// field (length, token set, MinHash signature, LSH bands, first/last
// token) stored as an indexed Dgraph predicate so each filter stage is a
// keyed lookup rather than a full scan.
type DgraphPatternIndex struct {
	client *dgo.Dgraph
	conn   *grpc.ClientConn
}

// NewDgraphPatternIndex dials alphaAddr and ensures the index schema
// exists.
func NewDgraphPatternIndex(ctx context.Context, alphaAddr string) (*DgraphPatternIndex, error) {
	conn, err := grpc.Dial(alphaAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to dgraph: %w", err)
	}

	client := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	store := &DgraphPatternIndex{client: client, conn: conn}
	if err := store.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init pattern index schema: %w", err)
	}
	return store, nil
}

func (s *DgraphPatternIndex) initSchema(ctx context.Context) error {
	var sb strings.Builder
	sb.WriteString(`
		type PatternIndexRow {
			idx.kbId: string
			idx.name: string
			idx.patternData: string
			idx.length: int
			idx.tokenSet: [string]
			idx.tokenCount: int
			idx.minhash: string
			idx.firstToken: string
			idx.lastToken: string
		}

		idx.kbId: string @index(exact) .
		idx.name: string @index(exact) @upsert .
		idx.patternData: string .
		idx.length: int @index(int) .
		idx.tokenSet: [string] @index(exact) .
		idx.tokenCount: int .
		idx.minhash: string .
		idx.firstToken: string @index(exact) .
		idx.lastToken: string @index(exact) .
	`)
	for i := 0; i < NumBandsSchema; i++ {
		sb.WriteString(fmt.Sprintf("idx.lshBand%d: int @index(int) .\n", i))
	}

	return s.client.Alter(ctx, &api.Operation{Schema: sb.String()})
}

// NumBandsSchema is the number of idx.lshBand<i> predicates in the index
// schema; it is a separate constant with the same value as
// hashing.NumBands.
const NumBandsSchema = 20

func lshPredicate(i int) string { return fmt.Sprintf("idx.lshBand%d", i) }

func (s *DgraphPatternIndex) findUID(ctx context.Context, kbID, name string) (string, error) {
	q := `query q($kb: string, $name: string) {
		q(func: eq(idx.name, $name)) @filter(eq(idx.kbId, $kb)) {
			uid
		}
	}`
	resp, err := s.client.NewReadOnlyTxn().QueryWithVars(ctx, q, map[string]string{"$kb": kbID, "$name": name})
	if err != nil {
		return "", err
	}
	var result struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return "", err
	}
	if len(result.Q) == 0 {
		return "", nil
	}
	return result.Q[0].UID, nil
}

func (s *DgraphPatternIndex) PutIfAbsent(ctx context.Context, kbID string, pattern models.Pattern) (bool, error) {
	existingUID, err := s.findUID(ctx, kbID, pattern.Name)
	if err != nil {
		return false, err
	}
	if existingUID != "" {
		return false, nil
	}

	patternData, err := json.Marshal(pattern.Events)
	if err != nil {
		return false, fmt.Errorf("marshal pattern_data: %w", err)
	}
	minhashJSON, err := json.Marshal(pattern.MinHash)
	if err != nil {
		return false, fmt.Errorf("marshal minhash: %w", err)
	}

	doc := map[string]any{
		"uid":              "_:row",
		"idx.kbId":         kbID,
		"idx.name":         pattern.Name,
		"idx.patternData":  string(patternData),
		"idx.length":       pattern.Length,
		"idx.tokenSet":     pattern.TokenSet,
		"idx.tokenCount":   pattern.TokenCount,
		"idx.minhash":      string(minhashJSON),
		"idx.firstToken":   pattern.FirstToken,
		"idx.lastToken":    pattern.LastToken,
		"dgraph.type":      "PatternIndexRow",
	}
	for i, band := range pattern.LSHBands {
		doc[lshPredicate(i)] = band
	}

	setJSON, err := json.Marshal(doc)
	if err != nil {
		return false, fmt.Errorf("marshal index row: %w", err)
	}

	txn := s.client.NewTxn()
	defer txn.Discard(ctx)
	if _, err := txn.Mutate(ctx, &api.Mutation{CommitNow: true, SetJson: setJSON}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *DgraphPatternIndex) Get(ctx context.Context, kbID, name string) (models.Pattern, bool, error) {
	q := `query q($kb: string, $name: string) {
		q(func: eq(idx.name, $name)) @filter(eq(idx.kbId, $kb)) {
			idx.kbId idx.name idx.patternData idx.length idx.tokenSet idx.tokenCount
			idx.minhash idx.firstToken idx.lastToken
			` + lshPredicateList() + `
		}
	}`
	resp, err := s.client.NewReadOnlyTxn().QueryWithVars(ctx, q, map[string]string{"$kb": kbID, "$name": name})
	if err != nil {
		return models.Pattern{}, false, err
	}

	var result struct {
		Q []map[string]any `json:"q"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return models.Pattern{}, false, err
	}
	if len(result.Q) == 0 {
		return models.Pattern{}, false, nil
	}
	return decodeRow(result.Q[0]), true, nil
}

func lshPredicateList() string {
	var sb strings.Builder
	for i := 0; i < NumBandsSchema; i++ {
		sb.WriteString(lshPredicate(i))
		sb.WriteString(" ")
	}
	return sb.String()
}

func decodeRow(row map[string]any) models.Pattern {
	p := models.Pattern{}
	if v, ok := row["idx.kbId"].(string); ok {
		p.KBID = v
	}
	if v, ok := row["idx.name"].(string); ok {
		p.Name = v
	}
	if v, ok := row["idx.patternData"].(string); ok {
		_ = json.Unmarshal([]byte(v), &p.Events)
	}
	if v, ok := row["idx.length"].(float64); ok {
		p.Length = int(v)
	}
	if v, ok := row["idx.tokenSet"].([]any); ok {
		for _, t := range v {
			if s, ok := t.(string); ok {
				p.TokenSet = append(p.TokenSet, s)
			}
		}
	}
	if v, ok := row["idx.tokenCount"].(float64); ok {
		p.TokenCount = int(v)
	}
	if v, ok := row["idx.minhash"].(string); ok {
		_ = json.Unmarshal([]byte(v), &p.MinHash)
	}
	if v, ok := row["idx.firstToken"].(string); ok {
		p.FirstToken = v
	}
	if v, ok := row["idx.lastToken"].(string); ok {
		p.LastToken = v
	}
	p.LSHBands = make([]uint64, NumBandsSchema)
	for i := 0; i < NumBandsSchema; i++ {
		if v, ok := row[lshPredicate(i)].(float64); ok {
			p.LSHBands[i] = uint64(v)
		}
	}
	return p
}

func (s *DgraphPatternIndex) Exists(ctx context.Context, kbID, name string) (bool, error) {
	uid, err := s.findUID(ctx, kbID, name)
	return uid != "", err
}

func (s *DgraphPatternIndex) ByLengthRange(ctx context.Context, kbID string, minLen, maxLen int) ([]string, error) {
	q := `query q($kb: string, $min: int, $max: int) {
		q(func: ge(idx.length, $min)) @filter(eq(idx.kbId, $kb) AND le(idx.length, $max)) {
			idx.name
		}
	}`
	vars := map[string]string{
		"$kb":  kbID,
		"$min": strconv.Itoa(minLen),
		"$max": strconv.Itoa(maxLen),
	}
	return s.queryNames(ctx, q, vars)
}

func (s *DgraphPatternIndex) ByLSHBand(ctx context.Context, kbID string, bandIndex int, bandHash uint64) ([]string, error) {
	pred := lshPredicate(bandIndex)
	q := fmt.Sprintf(`query q($kb: string, $hash: int) {
		q(func: eq(%s, $hash)) @filter(eq(idx.kbId, $kb)) {
			idx.name
		}
	}`, pred)
	vars := map[string]string{"$kb": kbID, "$hash": strconv.FormatUint(bandHash, 10)}
	return s.queryNames(ctx, q, vars)
}

func (s *DgraphPatternIndex) ByFirstToken(ctx context.Context, kbID, token string) ([]string, error) {
	return s.byExactField(ctx, "idx.firstToken", kbID, token)
}

func (s *DgraphPatternIndex) ByLastToken(ctx context.Context, kbID, token string) ([]string, error) {
	return s.byExactField(ctx, "idx.lastToken", kbID, token)
}

func (s *DgraphPatternIndex) byExactField(ctx context.Context, predicate, kbID, value string) ([]string, error) {
	q := fmt.Sprintf(`query q($kb: string, $val: string) {
		q(func: eq(%s, $val)) @filter(eq(idx.kbId, $kb)) {
			idx.name
		}
	}`, predicate)
	vars := map[string]string{"$kb": kbID, "$val": value}
	return s.queryNames(ctx, q, vars)
}

func (s *DgraphPatternIndex) All(ctx context.Context, kbID string) ([]string, error) {
	q := `query q($kb: string) {
		q(func: eq(idx.kbId, $kb)) {
			idx.name
		}
	}`
	return s.queryNames(ctx, q, map[string]string{"$kb": kbID})
}

func (s *DgraphPatternIndex) queryNames(ctx context.Context, q string, vars map[string]string) ([]string, error) {
	resp, err := s.client.NewReadOnlyTxn().QueryWithVars(ctx, q, vars)
	if err != nil {
		return nil, err
	}
	var result struct {
		Q []struct {
			Name string `json:"idx.name"`
		} `json:"q"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, err
	}
	names := make([]string, len(result.Q))
	for i, r := range result.Q {
		names[i] = r.Name
	}
	return names, nil
}

func (s *DgraphPatternIndex) ClearKB(ctx context.Context, kbID string) error {
	names, err := s.All(ctx, kbID)
	if err != nil {
		return err
	}
	for _, name := range names {
		uid, err := s.findUID(ctx, kbID, name)
		if err != nil {
			return err
		}
		if uid == "" {
			continue
		}
		txn := s.client.NewTxn()
		_, err = txn.Mutate(ctx, &api.Mutation{
			CommitNow: true,
			Del:       []*api.NQuad{{Subject: uid, Predicate: "*", ObjectValue: &api.Value{Val: &api.Value_DefaultVal{DefaultVal: "_STAR_ALL"}}}},
		})
		txn.Discard(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *DgraphPatternIndex) Close() error {
	return s.conn.Close()
}
