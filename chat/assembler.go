// Package chat grounds answers to questions about indexed repositories in a
// bounded set of search hits.
package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/reposcope/reposcope/query"
)

// Evidence is one cited code excerpt.
type Evidence struct {
	Index     int     `json:"index"`
	RepoID    string  `json:"repo_id"`
	RepoDir   string  `json:"repo_dir"`
	ChunkID   string  `json:"chunk_id"`
	FilePath  string  `json:"file_path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float32 `json:"score"`
	RawScore  float32 `json:"raw_score"`
	Content   string  `json:"content"`
}

// Label is the citation header of the excerpt: [n] repo:path:Lx-Ly.
func (e Evidence) Label() string {
	return fmt.Sprintf("[%d] %s", e.Index, e.Location())
}

func (e Evidence) Location() string {
	return fmt.Sprintf("%s:%s:L%d-L%d", e.RepoID, e.FilePath, e.StartLine, e.EndLine)
}

func (e Evidence) overlaps(h query.Hit) bool {
	return e.RepoID == h.RepoID &&
		e.FilePath == h.Chunk.FilePath &&
		e.StartLine <= h.Chunk.EndLine &&
		h.Chunk.StartLine <= e.EndLine
}

// Assembler turns ranked hits into an evidence set.
type Assembler struct {
	Cap          int
	MinRelevance float32
	ContextChars int
}

// Select drops weak hits, removes overlapping excerpts of the same file
// keeping the better ranked one, and truncates to the cap. hits must be in
// rank order.
func (a Assembler) Select(hits []query.Hit) []Evidence {
	var evidence []Evidence
	for _, h := range hits {
		if a.Cap > 0 && len(evidence) >= a.Cap {
			break
		}
		if h.RawScore < a.MinRelevance {
			continue
		}
		duplicate := false
		for _, e := range evidence {
			if e.overlaps(h) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		evidence = append(evidence, Evidence{
			RepoID:    h.RepoID,
			RepoDir:   h.RepoDir,
			ChunkID:   h.Chunk.ID,
			FilePath:  h.Chunk.FilePath,
			StartLine: h.Chunk.StartLine,
			EndLine:   h.Chunk.EndLine,
			Score:     h.Score,
			RawScore:  h.RawScore,
			Content:   h.Chunk.Content,
		})
	}
	for i := range evidence {
		evidence[i].Index = i + 1
	}
	return evidence
}

// BuildContext renders evidence as numbered excerpts within ContextChars.
// Entries that no longer fit are dropped; the first entry is cut to fit.
// It returns the context and the evidence actually included.
func (a Assembler) BuildContext(evidence []Evidence) (string, []Evidence) {
	var sb strings.Builder
	kept := make([]Evidence, 0, len(evidence))
	for _, e := range evidence {
		block := renderExcerpt(e)
		if a.ContextChars > 0 && sb.Len()+len(block) > a.ContextChars {
			if len(kept) > 0 {
				break
			}
			content := strings.TrimRight(e.Content, "\n")
			budget := a.ContextChars - (len(block) - len(content))
			if budget <= 0 {
				break
			}
			e.Content = truncateUTF8(content, budget)
			block = renderExcerpt(e)
		}
		sb.WriteString(block)
		kept = append(kept, e)
	}
	return sb.String(), kept
}

func renderExcerpt(e Evidence) string {
	return fmt.Sprintf("%s\n```\n%s\n```\n\n", e.Label(), strings.TrimRight(e.Content, "\n"))
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// RepoIDs returns the distinct repositories of evidence in order of first use.
func RepoIDs(evidence []Evidence) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range evidence {
		if !seen[e.RepoID] {
			seen[e.RepoID] = true
			ids = append(ids, e.RepoID)
		}
	}
	return ids
}
