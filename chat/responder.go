package chat

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/reposcope/reposcope/config"
	"github.com/reposcope/reposcope/domain"
	"github.com/reposcope/reposcope/query"
)

var tracer = otel.Tracer("reposcope/chat")

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Planner runs the retrieval step of a chat turn.
type Planner interface {
	Query(ctx context.Context, repoIDs []string, text string, k int) (*query.Result, error)
}

type Options struct {
	EvidenceCap  int
	Oversample   int
	MinRelevance float32
	ContextChars int
	Timeout      time.Duration
}

func OptionsFromConfig(cfg config.ChatConfig) Options {
	return Options{
		EvidenceCap:  cfg.EvidenceCap,
		Oversample:   cfg.Oversample,
		MinRelevance: cfg.MinRelevance,
		ContextChars: cfg.ContextChars,
		Timeout:      time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}
}

// Answer is a grounded response to a question.
type Answer struct {
	Text         string
	Analysis     AnalysisType
	Evidence     []Evidence
	RepoIDsUsed  []string
	Insufficient bool
	Generator    string
	Failures     []query.Failure
}

// Responder retrieves evidence for a question and generates an answer from it.
type Responder struct {
	planner   Planner
	generator Generator
	assembler Assembler
	opts      Options
}

func NewResponder(planner Planner, generator Generator, opts Options) *Responder {
	if opts.EvidenceCap <= 0 {
		opts.EvidenceCap = 8
	}
	if opts.Oversample <= 0 {
		opts.Oversample = 3
	}
	if generator == nil {
		generator = ExtractiveGenerator{}
	}
	return &Responder{
		planner:   planner,
		generator: generator,
		assembler: Assembler{
			Cap:          opts.EvidenceCap,
			MinRelevance: opts.MinRelevance,
			ContextChars: opts.ContextChars,
		},
		opts: opts,
	}
}

// Answer searches repoIDs for evidence about question and answers from it.
// When nothing relevant is found the answer is InsufficientEvidenceAnswer and
// no generator is called.
func (r *Responder) Answer(ctx context.Context, repoIDs []string, question, analysis string) (*Answer, error) {
	ctx, span := tracer.Start(ctx, "chat.Answer")
	defer span.End()

	at, err := ParseAnalysisType(analysis)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, domain.InvalidQueryf("question is empty")
	}

	res, err := r.planner.Query(ctx, repoIDs, question, r.opts.EvidenceCap*r.opts.Oversample)
	if err != nil {
		return nil, err
	}

	contextText, evidence := r.assembler.BuildContext(r.assembler.Select(res.Hits))
	span.SetAttributes(
		attribute.String("chat.analysis", string(at)),
		attribute.Int("chat.evidence", len(evidence)),
	)

	answer := &Answer{
		Analysis: at,
		Failures: res.Failures,
	}
	if len(evidence) == 0 {
		answer.Text = InsufficientEvidenceAnswer
		answer.Insufficient = true
		return answer, nil
	}

	req := Request{Question: question, Analysis: at, Context: contextText, Evidence: evidence}
	text, name := r.generate(ctx, req)

	answer.Text = withSources(text, evidence)
	answer.Evidence = evidence
	answer.RepoIDsUsed = RepoIDs(evidence)
	answer.Generator = name
	return answer, nil
}

// generate calls the configured generator and falls back to quoting the
// evidence when it fails.
func (r *Responder) generate(ctx context.Context, req Request) (string, string) {
	if _, ok := r.generator.(ExtractiveGenerator); !ok {
		genCtx := ctx
		if r.opts.Timeout > 0 {
			var cancel context.CancelFunc
			genCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
			defer cancel()
		}
		text, err := r.generator.Generate(genCtx, req)
		if err == nil {
			return text, r.generator.Name()
		}
		log.Printf("Warning: %s generator failed, answering extractively: %v", r.generator.Name(), err)
	}
	text, _ := ExtractiveGenerator{}.Generate(ctx, req)
	return text, ExtractiveGenerator{}.Name()
}

// withSources appends a source list when text cites none of the evidence.
func withSources(text string, evidence []Evidence) string {
	if cites(text, len(evidence)) {
		return text
	}
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(text, "\n"))
	sb.WriteString("\n\nSources:\n")
	for _, e := range evidence {
		fmt.Fprintf(&sb, "%s\n", e.Label())
	}
	return strings.TrimRight(sb.String(), "\n")
}

func cites(text string, n int) bool {
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		if i, err := strconv.Atoi(m[1]); err == nil && i >= 1 && i <= n {
			return true
		}
	}
	return false
}
