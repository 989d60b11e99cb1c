package engine

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/reposcope/reposcope/chat"
	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/query"
	"github.com/reposcope/reposcope/registry"
)

const (
	ModeSingleRepo = "single-repo"
	ModeMultiRepo  = "multi-repo"

	StatusOK    = "ok"
	StatusError = "error"
)

// IndexResult is the outcome of indexing one directory.
type IndexResult struct {
	RepoDir    string `json:"repo_dir"`
	RepoID     string `json:"repo_id,omitempty"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count,omitempty"`
	FileCount  int    `json:"file_count,omitempty"`
	Generation uint64 `json:"generation,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// SearchHit is one ranked code chunk.
type SearchHit struct {
	RepoID    string  `json:"repo_id"`
	RepoDir   string  `json:"repo_dir"`
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	RawScore  float32 `json:"raw_score"`
	Rank      int     `json:"rank"`
	Content   string  `json:"content"`
}

type SearchResponse struct {
	Mode          string          `json:"mode"`
	ReposSearched int             `json:"repos_searched"`
	RepoIDs       []string        `json:"repo_ids"`
	Results       []SearchHit     `json:"results"`
	Failures      []query.Failure `json:"failures,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

type ChatResponse struct {
	Mode                 string          `json:"mode"`
	RepoIDs              []string        `json:"repo_ids"`
	Answer               string          `json:"answer"`
	Analysis             string          `json:"analysis_type"`
	Evidence             []chat.Evidence `json:"evidence"`
	InsufficientEvidence bool            `json:"insufficient_evidence"`
	Generator            string          `json:"generator,omitempty"`
	Failures             []query.Failure `json:"failures,omitempty"`
}

// ListRepositories returns every indexed repository ordered by id.
func (e *Engine) ListRepositories() []domain.Repository {
	return e.registry.List()
}

// IndexRepositories indexes every directory, several at a time. A failure is
// reported in that directory's result and never affects the others.
func (e *Engine) IndexRepositories(ctx context.Context, repoDirs []string) ([]IndexResult, error) {
	if len(repoDirs) == 0 {
		return nil, domain.InvalidQueryf("no repository directories given")
	}

	results := make([]IndexResult, len(repoDirs))
	var g errgroup.Group
	g.SetLimit(max(1, e.cfg.Index.Workers))
	for i, dir := range repoDirs {
		g.Go(func() error {
			results[i] = e.indexOne(ctx, dir)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (e *Engine) indexOne(ctx context.Context, dir string) IndexResult {
	result := IndexResult{RepoDir: dir}
	if norm, err := registry.NormalizeDir(dir); err == nil {
		result.RepoDir = norm
		result.RepoID = registry.RepoID(norm)
	}

	repo, err := e.registry.Register(ctx, dir)
	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
		result.ErrorKind = domain.Kind(err)
		return result
	}
	result.Status = StatusOK
	result.RepoID = repo.RepoID
	result.RepoDir = repo.RepoDir
	result.ChunkCount = repo.ChunkCount
	result.FileCount = repo.FileCount
	result.Generation = repo.Generation
	return result
}

// Resolve maps repository ids and directories to repository ids, dropping
// duplicates. Directories that were never indexed map to the id they would
// get, so searching them reports RepoNotIndexed.
func (e *Engine) Resolve(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	var ids []string
	for _, target := range targets {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		id := e.resolve(target)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func mode(ids []string) string {
	if len(ids) == 1 {
		return ModeSingleRepo
	}
	return ModeMultiRepo
}

// Search runs a ranked search over the given repositories.
func (e *Engine) Search(ctx context.Context, targets []string, text string, k int) (*SearchResponse, error) {
	ids := e.Resolve(targets)
	res, err := e.planner.Query(ctx, ids, text, k)
	if err != nil {
		return nil, err
	}

	resp := &SearchResponse{
		Mode:          mode(ids),
		ReposSearched: len(res.ReposSearched),
		RepoIDs:       ids,
		Results:       make([]SearchHit, len(res.Hits)),
		Failures:      res.Failures,
		Reason:        res.Reason,
	}
	for i, h := range res.Hits {
		resp.Results[i] = SearchHit{
			RepoID:    h.RepoID,
			RepoDir:   h.RepoDir,
			ChunkID:   h.Chunk.ID,
			FilePath:  h.Chunk.FilePath,
			StartLine: h.Chunk.StartLine,
			EndLine:   h.Chunk.EndLine,
			Score:     h.Score,
			RawScore:  h.RawScore,
			Rank:      h.Rank,
			Content:   h.Chunk.Content,
		}
	}
	return resp, nil
}

// Chat answers question from evidence found in the given repositories.
func (e *Engine) Chat(ctx context.Context, targets []string, question, analysis string) (*ChatResponse, error) {
	ids := e.Resolve(targets)
	answer, err := e.responder.Answer(ctx, ids, question, analysis)
	if err != nil {
		return nil, err
	}

	repoIDs := answer.RepoIDsUsed
	if repoIDs == nil {
		repoIDs = []string{}
	}
	evidence := answer.Evidence
	if evidence == nil {
		evidence = []chat.Evidence{}
	}
	return &ChatResponse{
		Mode:                 mode(ids),
		RepoIDs:              repoIDs,
		Answer:               answer.Text,
		Analysis:             string(answer.Analysis),
		Evidence:             evidence,
		InsufficientEvidence: answer.Insufficient,
		Generator:            answer.Generator,
		Failures:             answer.Failures,
	}, nil
}

// RemoveRepository drops a repository by id or directory.
func (e *Engine) RemoveRepository(ctx context.Context, target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return domain.InvalidQueryf("no repository given")
	}
	return e.registry.Remove(ctx, e.resolve(target))
}

// resolve maps a target to its registered repository id. Unknown targets are
// kept as given so failures name what the caller asked for.
func (e *Engine) resolve(target string) string {
	if id, ok := e.registry.Resolve(target); ok {
		return id
	}
	return target
}

// MarkStale flags a repository whose files changed since its last build.
func (e *Engine) MarkStale(repoID string) bool {
	return e.registry.MarkStale(repoID)
}

// RefreshStale rebuilds repositories whose files changed since their last
// build.
func (e *Engine) RefreshStale(ctx context.Context) []registry.RefreshResult {
	return e.registry.RefreshStale(ctx)
}
