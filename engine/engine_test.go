package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reposcope/reposcope/chat"
	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/domain"
)

const billingSource = `package billing

// computeTotal adds up all line items of an invoice.
func computeTotal(items []int) int {
	total := 0
	for _, it := range items {
		total += it
	}
	return total
}
`

const mathSource = `package mathx

// computeSum returns the sum of values.
func computeSum(values []int) int {
	sum := 0
	for _, v := range values {
		sum += v
	}
	return sum
}
`

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func newTestEngine(t *testing.T, home string, mutate func(*config.Config)) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	eng, err := New(context.Background(), cfg, Options{HomeDir: home})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func indexOK(t *testing.T, eng *Engine, dirs ...string) []IndexResult {
	t.Helper()
	results, err := eng.IndexRepositories(context.Background(), dirs)
	require.NoError(t, err)
	for _, r := range results {
		require.Equal(t, StatusOK, r.Status, r.Error)
	}
	return results
}

func TestSearch_AcrossTwoRepositories(t *testing.T) {
	eng := newTestEngine(t, t.TempDir(), nil)
	billing := writeRepo(t, map[string]string{"billing.go": billingSource})
	mathx := writeRepo(t, map[string]string{"mathx.go": mathSource})
	indexed := indexOK(t, eng, billing, mathx)

	resp, err := eng.Search(context.Background(), []string{billing, mathx}, "compute total", 5)
	require.NoError(t, err)

	assert.Equal(t, ModeMultiRepo, resp.Mode)
	assert.Equal(t, 2, resp.ReposSearched)
	assert.LessOrEqual(t, len(resp.Results), 5)

	repos := map[string]bool{}
	for i, hit := range resp.Results {
		repos[hit.RepoID] = true
		assert.Equal(t, i+1, hit.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, resp.Results[i-1].Score, hit.Score)
		}
	}
	assert.True(t, repos[indexed[0].RepoID])
	assert.True(t, repos[indexed[1].RepoID])
	assert.Len(t, repos, 2)
}

func TestIndexRepositories_PerRepositoryStatus(t *testing.T) {
	eng := newTestEngine(t, t.TempDir(), nil)
	good := writeRepo(t, map[string]string{"billing.go": billingSource})

	results, err := eng.IndexRepositories(context.Background(), []string{"/nonexistent/reposcope-test", good})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, StatusError, results[0].Status)
	assert.Equal(t, "IndexError", results[0].ErrorKind)
	assert.NotEmpty(t, results[0].Error)

	assert.Equal(t, StatusOK, results[1].Status)
	assert.Positive(t, results[1].ChunkCount)
	assert.Equal(t, 1, results[1].FileCount)
	assert.Len(t, eng.ListRepositories(), 1)

	_, err = eng.IndexRepositories(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestIndexRepositories_ReindexIsDeterministic(t *testing.T) {
	eng := newTestEngine(t, t.TempDir(), nil)
	dir := writeRepo(t, map[string]string{"billing.go": billingSource, "mathx.go": mathSource})

	first := indexOK(t, eng, dir)[0]
	before, err := eng.Search(context.Background(), []string{dir}, "compute", 10)
	require.NoError(t, err)

	second := indexOK(t, eng, dir)[0]
	after, err := eng.Search(context.Background(), []string{dir}, "compute", 10)
	require.NoError(t, err)

	assert.Equal(t, first.RepoID, second.RepoID)
	assert.Equal(t, first.ChunkCount, second.ChunkCount)
	assert.Equal(t, first.Generation+1, second.Generation)
	require.Equal(t, len(before.Results), len(after.Results))
	for i := range before.Results {
		assert.Equal(t, before.Results[i].ChunkID, after.Results[i].ChunkID)
		assert.Equal(t, before.Results[i].RawScore, after.Results[i].RawScore)
	}
}

func TestSearch_InvalidAndUnindexed(t *testing.T) {
	eng := newTestEngine(t, t.TempDir(), nil)

	_, err := eng.Search(context.Background(), nil, "query", 5)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)

	_, err = eng.Search(context.Background(), []string{t.TempDir()}, "query", -2)
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)

	resp, err := eng.Search(context.Background(), []string{t.TempDir()}, "query", 5)
	require.NoError(t, err)
	assert.Equal(t, ModeSingleRepo, resp.Mode)
	assert.Zero(t, resp.ReposSearched)
	assert.Empty(t, resp.Results)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "RepoNotIndexed", resp.Failures[0].Kind)
	assert.NotEmpty(t, resp.Reason)
}

func TestSearch_TargetsByIDAndDirCollapse(t *testing.T) {
	eng := newTestEngine(t, t.TempDir(), nil)
	dir := writeRepo(t, map[string]string{"billing.go": billingSource})
	id := indexOK(t, eng, dir)[0].RepoID

	resp, err := eng.Search(context.Background(), []string{id, dir, dir + "/."}, "total", 3)
	require.NoError(t, err)
	assert.Equal(t, ModeSingleRepo, resp.Mode)
	assert.Equal(t, []string{id}, resp.RepoIDs)
	assert.Equal(t, 1, resp.ReposSearched)
}

func TestChat_GroundedAnswer(t *testing.T) {
	eng := newTestEngine(t, t.TempDir(), nil)
	billing := writeRepo(t, map[string]string{"billing.go": billingSource})
	other := writeRepo(t, map[string]string{"notes.txt": "lunch menu\nsoup salad bread\n"})
	indexed := indexOK(t, eng, billing, other)

	resp, err := eng.Chat(context.Background(), []string{billing, other}, "how is the invoice total computed?", "explain")
	require.NoError(t, err)

	assert.Equal(t, ModeMultiRepo, resp.Mode)
	assert.False(t, resp.InsufficientEvidence)
	assert.Equal(t, "explain", resp.Analysis)
	require.NotEmpty(t, resp.RepoIDs)
	assert.Equal(t, indexed[0].RepoID, resp.RepoIDs[0])
	require.NotEmpty(t, resp.Evidence)
	assert.Equal(t, "billing.go", resp.Evidence[0].FilePath)
	assert.Contains(t, resp.Answer, "[1] "+indexed[0].RepoID+":billing.go")
}

func TestChat_InsufficientEvidence(t *testing.T) {
	eng := newTestEngine(t, t.TempDir(), func(cfg *config.Config) {
		cfg.Chat.MinRelevance = 0.5
	})
	dir := writeRepo(t, map[string]string{"billing.go": billingSource})
	indexOK(t, eng, dir)

	resp, err := eng.Chat(context.Background(), []string{dir}, "zebra giraffe migration", "")
	require.NoError(t, err)
	assert.True(t, resp.InsufficientEvidence)
	assert.Equal(t, chat.InsufficientEvidenceAnswer, resp.Answer)
	assert.Empty(t, resp.Evidence)
	assert.Empty(t, resp.RepoIDs)

	_, err = eng.Chat(context.Background(), []string{dir}, "anything", "haiku")
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestRemoveRepository(t *testing.T) {
	eng := newTestEngine(t, t.TempDir(), nil)
	dir := writeRepo(t, map[string]string{"billing.go": billingSource})
	indexOK(t, eng, dir)

	require.NoError(t, eng.RemoveRepository(context.Background(), dir))
	assert.Empty(t, eng.ListRepositories())

	err := eng.RemoveRepository(context.Background(), dir)
	assert.ErrorIs(t, err, domain.ErrRepoNotIndexed)
	err = eng.RemoveRepository(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidQuery)
}

func TestSearch_UnknownTargetReportedAsGiven(t *testing.T) {
	eng := newTestEngine(t, t.TempDir(), nil)
	dir := writeRepo(t, map[string]string{"billing.go": billingSource})
	id := indexOK(t, eng, dir)[0].RepoID
	require.NoError(t, eng.RemoveRepository(context.Background(), id))

	resp, err := eng.Search(context.Background(), []string{id}, "total", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, resp.RepoIDs)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, id, resp.Failures[0].RepoID)
	assert.Equal(t, "RepoNotIndexed", resp.Failures[0].Kind)

	err = eng.RemoveRepository(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrRepoNotIndexed)
	assert.Contains(t, err.Error(), id)
}

func TestReopenRestoresRepositories(t *testing.T) {
	home := t.TempDir()
	dir := writeRepo(t, map[string]string{"billing.go": billingSource})

	cfg := config.DefaultConfig()
	first, err := New(context.Background(), cfg, Options{HomeDir: home})
	require.NoError(t, err)
	indexed := indexOK(t, first, dir)[0]
	require.NoError(t, first.Close())

	second := newTestEngine(t, home, nil)
	repos := second.ListRepositories()
	require.Len(t, repos, 1)
	assert.Equal(t, indexed.RepoID, repos[0].RepoID)
	assert.Equal(t, indexed.ChunkCount, repos[0].ChunkCount)
	assert.Equal(t, indexed.Generation, repos[0].Generation)

	resp, err := second.Search(context.Background(), []string{indexed.RepoID}, "compute total", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Results)
}

func TestRefreshStale(t *testing.T) {
	eng := newTestEngine(t, "", nil)
	dir := writeRepo(t, map[string]string{"billing.go": billingSource})
	id := indexOK(t, eng, dir)[0].RepoID

	require.NoError(t, os.WriteFile(filepath.Join(dir, "mathx.go"), []byte(mathSource), 0644))
	require.True(t, eng.Registry().MarkStale(id))

	results := eng.RefreshStale(context.Background())
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Equal(t, 2, results[0].Repository.FileCount)
	assert.False(t, eng.ListRepositories()[0].Stale)
}
