// Package query fans one search out over several repository indexes and
// merges the per-repository results into a single ranking.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/embedder"
	"github.com/reposcope/reposcope/registry"
	"github.com/reposcope/reposcope/store"
)

const (
	NormalizationMinMax = "minmax"
	NormalizationNone   = "none"
)

var tracer = otel.Tracer("reposcope/query")

// Searcher is one repository index as seen by the planner.
type Searcher interface {
	RepoDir() string
	Search(ctx context.Context, queryVector []float32, embedderVersion string, k int) ([]store.SearchResult, uint64, error)
}

// Lookup resolves a repository id to its index.
type Lookup func(repoID string) (Searcher, error)

// RegistryLookup adapts a registry to a Lookup.
func RegistryLookup(reg *registry.Registry) Lookup {
	return func(repoID string) (Searcher, error) {
		entry, err := reg.Get(repoID)
		if err != nil {
			return nil, err
		}
		return entry, nil
	}
}

// Hit is one merged search result.
type Hit struct {
	RepoID     string
	RepoDir    string
	Generation uint64
	Chunk      store.Chunk
	// Score orders the merged list; RawScore is the boosted similarity
	// before per-repository normalization.
	Score    float32
	RawScore float32
	Rank     int
}

// Failure records a repository that could not be searched.
type Failure struct {
	RepoID string `json:"repo_id"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// Result is the outcome of a multi-repository query.
type Result struct {
	Hits          []Hit
	Failures      []Failure
	ReposSearched []string
	// Reason explains an empty Hits list.
	Reason string
}

type Options struct {
	DefaultK      int
	MaxK          int
	RepoTimeout   time.Duration
	Normalization string
	Workers       int
	Boost         config.BoostConfig
}

func OptionsFromConfig(cfg config.SearchConfig) Options {
	return Options{
		DefaultK:      cfg.DefaultK,
		MaxK:          cfg.MaxK,
		RepoTimeout:   time.Duration(cfg.RepoTimeoutMs) * time.Millisecond,
		Normalization: cfg.Normalization,
		Workers:       cfg.Workers,
		Boost:         cfg.Boost,
	}
}

// Planner embeds a query once and searches every requested repository in
// parallel.
type Planner struct {
	emb     embedder.Embedder
	lookup  Lookup
	opts    Options
	booster *Booster
}

func NewPlanner(emb embedder.Embedder, lookup Lookup, opts Options) (*Planner, error) {
	if opts.DefaultK <= 0 {
		opts.DefaultK = 10
	}
	if opts.MaxK <= 0 {
		opts.MaxK = 50
	}
	if opts.DefaultK > opts.MaxK {
		opts.DefaultK = opts.MaxK
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	switch opts.Normalization {
	case "":
		opts.Normalization = NormalizationMinMax
	case NormalizationMinMax, NormalizationNone:
	default:
		return nil, fmt.Errorf("unknown score normalization: %s", opts.Normalization)
	}
	return &Planner{
		emb:     emb,
		lookup:  lookup,
		opts:    opts,
		booster: NewBooster(opts.Boost),
	}, nil
}

// MaxK is the largest number of hits a query returns.
func (p *Planner) MaxK() int {
	return p.opts.MaxK
}

// ResolveK validates a requested result count. Zero selects the default and
// values above the maximum are capped.
func (p *Planner) ResolveK(k int) (int, error) {
	switch {
	case k < 0:
		return 0, domain.InvalidQueryf("k must not be negative, got %d", k)
	case k == 0:
		return p.opts.DefaultK, nil
	case k > p.opts.MaxK:
		return p.opts.MaxK, nil
	}
	return k, nil
}

type repoOutcome struct {
	repoID  string
	repoDir string
	gen     uint64
	results []store.SearchResult
	err     error
}

// Query searches repoIDs for text and returns at most k merged hits.
// Per-repository failures are reported in Result.Failures; an error is
// returned only for invalid input or when the query cannot be embedded.
func (p *Planner) Query(ctx context.Context, repoIDs []string, text string, k int) (*Result, error) {
	ctx, span := tracer.Start(ctx, "query.Query")
	defer span.End()

	ids := dedupe(repoIDs)
	if len(ids) == 0 {
		return nil, p.fail(span, domain.InvalidQueryf("no repositories selected"))
	}
	if strings.TrimSpace(text) == "" {
		return nil, p.fail(span, domain.InvalidQueryf("query text is empty"))
	}
	k, err := p.ResolveK(k)
	if err != nil {
		return nil, p.fail(span, err)
	}
	span.SetAttributes(
		attribute.Int("query.repos", len(ids)),
		attribute.Int("query.k", k),
	)

	vec, err := p.embed(ctx, text)
	if err != nil {
		return nil, p.fail(span, err)
	}

	outcomes := p.fanOut(ctx, ids, vec, k)

	result := &Result{}
	var hits []Hit
	for _, o := range outcomes {
		if o.err != nil {
			result.Failures = append(result.Failures, Failure{
				RepoID: o.repoID,
				Kind:   domain.Kind(o.err),
				Error:  o.err.Error(),
			})
			continue
		}
		result.ReposSearched = append(result.ReposSearched, o.repoID)
		hits = append(hits, p.score(o)...)
	}

	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	result.Hits = hits

	if len(hits) == 0 {
		switch {
		case len(result.ReposSearched) == 0:
			result.Reason = "no repository could be searched"
		default:
			result.Reason = "no matching chunks"
		}
	}
	span.SetAttributes(
		attribute.Int("query.hits", len(hits)),
		attribute.Int("query.failures", len(result.Failures)),
	)
	return result, nil
}

func (p *Planner) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (p *Planner) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "query.embed")
	defer span.End()

	vec, err := p.emb.Embed(ctx, text)
	if err != nil {
		return nil, p.fail(span, fmt.Errorf("failed to embed query: %w", err))
	}
	return embedder.Normalize(vec), nil
}

// fanOut searches every repository with bounded parallelism. Outcomes keep
// the order of ids.
func (p *Planner) fanOut(ctx context.Context, ids []string, vec []float32, k int) []repoOutcome {
	outcomes := make([]repoOutcome, len(ids))
	version := p.emb.Version()

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = p.searchRepo(ctx, id, vec, version, k)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// searchRepo runs one repository search under the per-repository timeout.
// A search that ignores cancellation is abandoned once the timeout fires.
func (p *Planner) searchRepo(ctx context.Context, repoID string, vec []float32, version string, k int) repoOutcome {
	ctx, span := tracer.Start(ctx, "query.repo", trace.WithAttributes(attribute.String("repo.id", repoID)))
	defer span.End()

	out := repoOutcome{repoID: repoID}
	idx, err := p.lookup(repoID)
	if err != nil {
		out.err = err
		p.fail(span, err)
		return out
	}
	out.repoDir = idx.RepoDir()

	if p.opts.RepoTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RepoTimeout)
		defer cancel()
	}

	type searched struct {
		results []store.SearchResult
		gen     uint64
		err     error
	}
	done := make(chan searched, 1)
	go func() {
		results, gen, err := idx.Search(ctx, vec, version, k)
		done <- searched{results: results, gen: gen, err: err}
	}()

	select {
	case s := <-done:
		out.results, out.gen, out.err = s.results, s.gen, s.err
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			out.err = p.timeoutError(repoID, out.repoDir)
		}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.err = p.timeoutError(repoID, out.repoDir)
		} else {
			out.err = &domain.RepoError{RepoID: repoID, RepoDir: out.repoDir, Op: "search", Err: ctx.Err()}
		}
	}
	if out.err != nil {
		p.fail(span, out.err)
	}
	span.SetAttributes(attribute.Int("repo.results", len(out.results)))
	return out
}

func (p *Planner) timeoutError(repoID, repoDir string) error {
	return &domain.RepoError{
		RepoID: repoID, RepoDir: repoDir, Op: "search",
		Err: fmt.Errorf("%w: no response within %s", domain.ErrTimeout, p.opts.RepoTimeout),
	}
}

// score boosts and normalizes the results of one repository.
func (p *Planner) score(o repoOutcome) []Hit {
	hits := make([]Hit, len(o.results))
	for i, r := range o.results {
		raw := p.booster.Apply(r.Chunk.FilePath, r.Score)
		hits[i] = Hit{
			RepoID:     o.repoID,
			RepoDir:    o.repoDir,
			Generation: o.gen,
			Chunk:      r.Chunk,
			Score:      raw,
			RawScore:   raw,
		}
	}
	if p.opts.Normalization == NormalizationMinMax {
		normalizeMinMax(hits)
	}
	return hits
}

// normalizeMinMax maps scores to [0, 1] within one repository. A repository
// whose hits all score the same maps them to 1.
func normalizeMinMax(hits []Hit) {
	if len(hits) == 0 {
		return
	}
	lo, hi := hits[0].RawScore, hits[0].RawScore
	for _, h := range hits[1:] {
		lo = min(lo, h.RawScore)
		hi = max(hi, h.RawScore)
	}
	for i := range hits {
		if hi == lo {
			hits[i].Score = 1
			continue
		}
		hits[i].Score = (hits[i].RawScore - lo) / (hi - lo)
	}
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.RawScore != b.RawScore {
			return a.RawScore > b.RawScore
		}
		if a.RepoID != b.RepoID {
			return a.RepoID < b.RepoID
		}
		return store.IDLess(a.Chunk.ID, b.Chunk.ID)
	})
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
