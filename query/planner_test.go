package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/registry"
	"github.com/reposcope/reposcope/store"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Version() string { return "fake:v1:3" }
func (f *fakeEmbedder) Close() error    { return nil }

type fakeSearcher struct {
	dir     string
	scores  map[string]float32 // chunk id -> score
	err     error
	stall   time.Duration
	version string
}

func (f *fakeSearcher) RepoDir() string { return f.dir }

func (f *fakeSearcher) Search(ctx context.Context, vec []float32, version string, k int) ([]store.SearchResult, uint64, error) {
	if f.stall > 0 {
		time.Sleep(f.stall)
	}
	if f.err != nil {
		return nil, 0, f.err
	}
	if f.version != "" && f.version != version {
		return nil, 0, fmt.Errorf("%w: %s", domain.ErrEmbeddingVersionMismatch, f.version)
	}
	var results []store.SearchResult
	for id, score := range f.scores {
		results = append(results, store.SearchResult{
			Chunk: store.Chunk{ID: id, FilePath: id, StartLine: 1, EndLine: 2},
			Score: score,
		})
	}
	store.SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, 1, nil
}

func lookupOf(repos map[string]Searcher) Lookup {
	return func(id string) (Searcher, error) {
		if s, ok := repos[id]; ok {
			return s, nil
		}
		return nil, &domain.RepoError{RepoID: id, Op: "lookup", Err: domain.ErrRepoNotIndexed}
	}
}

func newTestPlanner(t *testing.T, repos map[string]Searcher, opts Options) *Planner {
	t.Helper()
	p, err := NewPlanner(&fakeEmbedder{}, lookupOf(repos), opts)
	require.NoError(t, err)
	return p
}

func twoRepos() map[string]Searcher {
	return map[string]Searcher{
		"alpha": &fakeSearcher{dir: "/src/alpha", scores: map[string]float32{"a1.go": 0.9, "a2.go": 0.5}},
		"beta":  &fakeSearcher{dir: "/src/beta", scores: map[string]float32{"b1.go": 0.8, "b2.go": 0.2}},
	}
}

func hitIDs(hits []Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.RepoID + "/" + h.Chunk.ID
	}
	return ids
}

func TestQuery_InvalidInput(t *testing.T) {
	p := newTestPlanner(t, twoRepos(), Options{})

	tests := []struct {
		name  string
		repos []string
		text  string
		k     int
	}{
		{"no repositories", nil, "parser", 5},
		{"only empty ids", []string{""}, "parser", 5},
		{"blank query", []string{"alpha"}, "   ", 5},
		{"negative k", []string{"alpha"}, "parser", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Query(context.Background(), tt.repos, tt.text, tt.k)
			assert.ErrorIs(t, err, domain.ErrInvalidQuery)
		})
	}
}

func TestResolveK(t *testing.T) {
	p := newTestPlanner(t, nil, Options{DefaultK: 10, MaxK: 50})

	k, err := p.ResolveK(0)
	require.NoError(t, err)
	assert.Equal(t, 10, k)

	k, err = p.ResolveK(500)
	require.NoError(t, err)
	assert.Equal(t, 50, k)

	k, err = p.ResolveK(7)
	require.NoError(t, err)
	assert.Equal(t, 7, k)
}

func TestNewPlanner_UnknownNormalization(t *testing.T) {
	_, err := NewPlanner(&fakeEmbedder{}, lookupOf(nil), Options{Normalization: "zscore"})
	assert.Error(t, err)
}

func TestQuery_MinMaxMerge(t *testing.T) {
	p := newTestPlanner(t, twoRepos(), Options{Normalization: NormalizationMinMax})

	res, err := p.Query(context.Background(), []string{"alpha", "beta"}, "parser", 10)
	require.NoError(t, err)

	// both repos normalize to {1, 0}; ties fall back to the raw score
	assert.Equal(t, []string{"alpha/a1.go", "beta/b1.go", "alpha/a2.go", "beta/b2.go"}, hitIDs(res.Hits))
	for i, h := range res.Hits {
		assert.Equal(t, i+1, h.Rank)
	}
	assert.InDelta(t, 1.0, res.Hits[1].Score, 1e-6)
	assert.InDelta(t, 0.8, res.Hits[1].RawScore, 1e-6)
	assert.Equal(t, "/src/beta", res.Hits[1].RepoDir)
	assert.Equal(t, []string{"alpha", "beta"}, res.ReposSearched)
	assert.Empty(t, res.Failures)
	assert.Empty(t, res.Reason)
}

func TestQuery_NoNormalization(t *testing.T) {
	p := newTestPlanner(t, twoRepos(), Options{Normalization: NormalizationNone})

	res, err := p.Query(context.Background(), []string{"alpha", "beta"}, "parser", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha/a1.go", "beta/b1.go", "alpha/a2.go", "beta/b2.go"}, hitIDs(res.Hits))
	assert.InDelta(t, 0.5, res.Hits[2].Score, 1e-6)
}

func TestQuery_SingleHitRepoNormalizesToOne(t *testing.T) {
	repos := map[string]Searcher{
		"solo": &fakeSearcher{dir: "/src/solo", scores: map[string]float32{"only.go": 0.3}},
	}
	p := newTestPlanner(t, repos, Options{})

	res, err := p.Query(context.Background(), []string{"solo"}, "parser", 5)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.InDelta(t, 1.0, res.Hits[0].Score, 1e-6)
	assert.InDelta(t, 0.3, res.Hits[0].RawScore, 1e-6)
}

func TestQuery_TruncatesToK(t *testing.T) {
	p := newTestPlanner(t, twoRepos(), Options{})

	res, err := p.Query(context.Background(), []string{"alpha", "beta"}, "parser", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha/a1.go", "beta/b1.go"}, hitIDs(res.Hits))
}

func TestQuery_TiesBreakByRepoThenChunkID(t *testing.T) {
	repos := map[string]Searcher{
		"zeta":  &fakeSearcher{dir: "/z", scores: map[string]float32{"x.go": 0.5}},
		"alpha": &fakeSearcher{dir: "/a", scores: map[string]float32{"long_name.go": 0.5, "b.go": 0.5}},
	}
	p := newTestPlanner(t, repos, Options{Normalization: NormalizationNone})

	res, err := p.Query(context.Background(), []string{"zeta", "alpha"}, "parser", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha/b.go", "alpha/long_name.go", "zeta/x.go"}, hitIDs(res.Hits))
}

func TestQuery_PartialFailure(t *testing.T) {
	repos := twoRepos()
	repos["stale"] = &fakeSearcher{dir: "/src/stale", version: "other:v0:3", scores: map[string]float32{"s.go": 1}}
	p := newTestPlanner(t, repos, Options{})

	res, err := p.Query(context.Background(), []string{"alpha", "missing", "stale"}, "parser", 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha"}, res.ReposSearched)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "missing", res.Failures[0].RepoID)
	assert.Equal(t, "RepoNotIndexed", res.Failures[0].Kind)
	assert.Equal(t, "stale", res.Failures[1].RepoID)
	assert.Equal(t, "EmbeddingVersionMismatch", res.Failures[1].Kind)
	assert.Len(t, res.Hits, 2)
}

func TestQuery_SlowRepoTimesOut(t *testing.T) {
	repos := twoRepos()
	repos["slow"] = &fakeSearcher{dir: "/src/slow", stall: 2 * time.Second, scores: map[string]float32{"s.go": 1}}
	p := newTestPlanner(t, repos, Options{RepoTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := p.Query(context.Background(), []string{"alpha", "slow"}, "parser", 10)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "slow", res.Failures[0].RepoID)
	assert.Equal(t, "Timeout", res.Failures[0].Kind)
	assert.Equal(t, []string{"alpha"}, res.ReposSearched)
	assert.Len(t, res.Hits, 2)
}

func TestQuery_AllReposFail(t *testing.T) {
	p := newTestPlanner(t, nil, Options{})

	res, err := p.Query(context.Background(), []string{"ghost", "phantom"}, "parser", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Empty(t, res.ReposSearched)
	assert.Len(t, res.Failures, 2)
	assert.NotEmpty(t, res.Reason)
}

func TestQuery_EmptyRepoHasReason(t *testing.T) {
	repos := map[string]Searcher{"empty": &fakeSearcher{dir: "/e"}}
	p := newTestPlanner(t, repos, Options{})

	res, err := p.Query(context.Background(), []string{"empty"}, "parser", 5)
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
	assert.Equal(t, []string{"empty"}, res.ReposSearched)
	assert.Equal(t, "no matching chunks", res.Reason)
}

func TestQuery_DuplicateReposCollapse(t *testing.T) {
	p := newTestPlanner(t, twoRepos(), Options{})

	res, err := p.Query(context.Background(), []string{"alpha", "alpha"}, "parser", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha"}, res.ReposSearched)
	assert.Len(t, res.Hits, 2)
}

func TestQuery_EmbedFailure(t *testing.T) {
	boom := errors.New("provider down")
	p, err := NewPlanner(&fakeEmbedder{err: boom}, lookupOf(twoRepos()), Options{})
	require.NoError(t, err)

	_, err = p.Query(context.Background(), []string{"alpha"}, "parser", 5)
	assert.ErrorIs(t, err, boom)
}

func TestQuery_BoostReordersWithinRepo(t *testing.T) {
	repos := map[string]Searcher{
		"app": &fakeSearcher{dir: "/app", scores: map[string]float32{
			"pkg/parser_test.go": 0.9,
			"pkg/parser.go":      0.8,
		}},
	}
	p := newTestPlanner(t, repos, Options{
		Normalization: NormalizationNone,
		Boost:         config.BoostConfig{Enabled: true, Penalties: []config.BoostRule{{Pattern: "_test.", Factor: 0.5}}},
	})

	res, err := p.Query(context.Background(), []string{"app"}, "parser", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/pkg/parser.go", "app/pkg/parser_test.go"}, hitIDs(res.Hits))
	assert.InDelta(t, 0.45, res.Hits[1].RawScore, 1e-6)
}

func TestRegistryLookup_Unknown(t *testing.T) {
	reg := registry.New(nil, store.NewMemoryBackend(), registry.Options{})
	defer reg.Close()

	_, err := RegistryLookup(reg)("nothing-000000000000")
	assert.ErrorIs(t, err, domain.ErrRepoNotIndexed)
}
