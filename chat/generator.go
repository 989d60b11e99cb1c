package chat

import (
	"context"
	"fmt"
	"strings"
)

// Request is everything a generator may use to answer.
type Request struct {
	Question string
	Analysis AnalysisType
	Context  string
	Evidence []Evidence
}

// Generator writes an answer grounded in Request.Context.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}

const extractivePreviewLines = 4

// ExtractiveGenerator answers by quoting the evidence itself. It needs no
// model and always cites every excerpt.
type ExtractiveGenerator struct{}

func (ExtractiveGenerator) Name() string {
	return "extractive"
}

func (ExtractiveGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var sb strings.Builder

	repos := RepoIDs(req.Evidence)
	fmt.Fprintf(&sb, "Found %d relevant code %s in %d %s for %q.\n",
		len(req.Evidence), plural(len(req.Evidence), "location", "locations"),
		len(repos), plural(len(repos), "repository", "repositories"), req.Question)
	if req.Analysis != "" && req.Analysis != AnalysisGeneral {
		fmt.Fprintf(&sb, "Analysis focus: %s. %s\n", req.Analysis, analysisFocus[req.Analysis])
	}

	for _, e := range req.Evidence {
		fmt.Fprintf(&sb, "\n%s (relevance %.2f)\n", e.Label(), e.RawScore)
		for _, line := range preview(e.Content, extractivePreviewLines) {
			fmt.Fprintf(&sb, "    %s\n", line)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// preview returns the first n non-blank lines of content.
func preview(content string, n int) []string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
