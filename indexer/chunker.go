package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMinLines     = 3
	DefaultMaxLines     = 80
	DefaultWindowLines  = 40
	DefaultOverlapLines = 10
	DefaultMaxChars     = 6000
)

// ChunkOptions bounds chunk sizes in lines and characters.
type ChunkOptions struct {
	MinLines     int
	MaxLines     int
	WindowLines  int
	OverlapLines int
	MaxChars     int
}

func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		MinLines:     DefaultMinLines,
		MaxLines:     DefaultMaxLines,
		WindowLines:  DefaultWindowLines,
		OverlapLines: DefaultOverlapLines,
		MaxChars:     DefaultMaxChars,
	}
}

// ChunkInfo is one retrievable region of a file. Lines are 1-based and
// inclusive.
type ChunkInfo struct {
	ID        string
	FilePath  string
	StartLine int
	EndLine   int
	Content   string
	Hash      string
}

// Chunker splits files along declaration boundaries when the language is
// known and into overlapping line windows otherwise.
type Chunker struct {
	opts   ChunkOptions
	finder BoundaryFinder
}

func NewChunker(opts ChunkOptions, finder BoundaryFinder) *Chunker {
	d := DefaultChunkOptions()
	if opts.MinLines <= 0 {
		opts.MinLines = d.MinLines
	}
	if opts.MaxLines <= 0 {
		opts.MaxLines = d.MaxLines
	}
	if opts.WindowLines <= 0 {
		opts.WindowLines = d.WindowLines
	}
	if opts.OverlapLines < 0 || opts.OverlapLines >= opts.WindowLines {
		opts.OverlapLines = opts.WindowLines / 4
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = d.MaxChars
	}
	if finder == nil {
		finder = NewRegexFinder()
	}
	return &Chunker{opts: opts, finder: finder}
}

// Mode reports which boundary finder backs the chunker.
func (c *Chunker) Mode() string {
	return c.finder.Mode()
}

// lineRange is a half-open range of 0-based line indexes.
type lineRange struct {
	start, end int
}

// Chunk splits content into chunks. The output is deterministic for a given
// input and every non-blank line belongs to at least one chunk.
func (c *Chunker) Chunk(filePath, content string) []ChunkInfo {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")

	var ranges []lineRange
	if starts, ok := c.finder.Boundaries(filePath, lines); ok {
		for _, region := range c.regions(lines, starts) {
			if region.end-region.start > c.opts.MaxLines {
				ranges = append(ranges, c.windows(region)...)
			} else {
				ranges = append(ranges, region)
			}
		}
	} else {
		ranges = c.windows(lineRange{0, len(lines)})
	}

	seen := make(map[string]bool)
	var chunks []ChunkInfo
	for _, r := range ranges {
		r = trimBlank(lines, r)
		if r.start >= r.end {
			continue
		}
		for _, ch := range c.fitChars(filePath, lines, r) {
			if seen[ch.ID] {
				continue
			}
			seen[ch.ID] = true
			chunks = append(chunks, ch)
		}
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].StartLine != chunks[j].StartLine {
			return chunks[i].StartLine < chunks[j].StartLine
		}
		return chunks[i].ID < chunks[j].ID
	})
	return chunks
}

// regions partitions the file at the given declaration starts and folds
// regions shorter than MinLines into their neighbour.
func (c *Chunker) regions(lines []string, starts []int) []lineRange {
	cuts := []int{0}
	for _, s := range starts {
		if s > cuts[len(cuts)-1] && s < len(lines) {
			cuts = append(cuts, s)
		}
	}
	cuts = append(cuts, len(lines))

	var out []lineRange
	for i := 0; i+1 < len(cuts); i++ {
		out = append(out, lineRange{cuts[i], cuts[i+1]})
	}

	var merged []lineRange
	var pending *lineRange
	for _, r := range out {
		if pending != nil {
			r.start = pending.start
			pending = nil
		}
		if nonBlankCount(lines, r) < c.opts.MinLines {
			rr := r
			pending = &rr
			continue
		}
		merged = append(merged, r)
	}
	if pending != nil {
		if len(merged) > 0 {
			merged[len(merged)-1].end = pending.end
		} else {
			merged = append(merged, *pending)
		}
	}
	return merged
}

// windows splits r into WindowLines windows overlapping by OverlapLines.
func (c *Chunker) windows(r lineRange) []lineRange {
	step := c.opts.WindowLines - c.opts.OverlapLines
	var out []lineRange
	for start := r.start; start < r.end; start += step {
		end := start + c.opts.WindowLines
		if end > r.end {
			end = r.end
		}
		out = append(out, lineRange{start, end})
		if end == r.end {
			break
		}
	}
	return out
}

// fitChars turns a line range into chunks no longer than MaxChars. Ranges
// that are too long are cut at line boundaries; a single line that is too
// long on its own is cut at rune boundaries into numbered parts.
func (c *Chunker) fitChars(filePath string, lines []string, r lineRange) []ChunkInfo {
	text := strings.Join(lines[r.start:r.end], "\n")
	if len(text) <= c.opts.MaxChars {
		return []ChunkInfo{newChunk(filePath, r.start+1, r.end, text, 0)}
	}

	var out []ChunkInfo
	start := r.start
	size := 0
	flush := func(end int) {
		sub := trimBlank(lines, lineRange{start, end})
		if sub.start < sub.end {
			out = append(out, newChunk(filePath, sub.start+1, sub.end, strings.Join(lines[sub.start:sub.end], "\n"), 0))
		}
	}
	for i := r.start; i < r.end; i++ {
		lineLen := len(lines[i]) + 1
		if len(lines[i]) > c.opts.MaxChars {
			flush(i)
			out = append(out, c.splitLine(filePath, i+1, lines[i])...)
			start, size = i+1, 0
			continue
		}
		if size+lineLen > c.opts.MaxChars+1 && i > start {
			flush(i)
			start, size = i, 0
		}
		size += lineLen
	}
	flush(r.end)
	return out
}

func (c *Chunker) splitLine(filePath string, lineNo int, line string) []ChunkInfo {
	var out []ChunkInfo
	part := 1
	for len(line) > 0 {
		cut := len(line)
		if cut > c.opts.MaxChars {
			cut = alignRuneBoundary(line, c.opts.MaxChars)
		}
		piece := line[:cut]
		line = line[cut:]
		if strings.TrimSpace(piece) == "" {
			continue
		}
		out = append(out, newChunk(filePath, lineNo, lineNo, piece, part))
		part++
	}
	return out
}

// alignRuneBoundary moves pos back until it sits on a rune boundary.
func alignRuneBoundary(s string, pos int) int {
	if pos >= len(s) {
		return len(s)
	}
	for pos > 0 && !utf8.RuneStart(s[pos]) {
		pos--
	}
	if pos == 0 {
		_, size := utf8.DecodeRuneInString(s)
		return size
	}
	return pos
}

func newChunk(filePath string, start, end int, text string, part int) ChunkInfo {
	id := ChunkID(filePath, start, end)
	if part > 0 {
		id = fmt.Sprintf("%s.p%d", id, part)
	}
	sum := sha256.Sum256([]byte(text))
	return ChunkInfo{
		ID:        id,
		FilePath:  filePath,
		StartLine: start,
		EndLine:   end,
		Content:   text,
		Hash:      hex.EncodeToString(sum[:]),
	}
}

// ChunkID formats the stable identifier of a chunk.
func ChunkID(filePath string, start, end int) string {
	return fmt.Sprintf("%s#L%d-L%d", filePath, start, end)
}

// EmbeddingText is the text sent to the embedder for a chunk: the content
// prefixed with its file path so path terms contribute to similarity.
func EmbeddingText(filePath, content string) string {
	return fmt.Sprintf("File: %s\n\n%s", filePath, content)
}

func trimBlank(lines []string, r lineRange) lineRange {
	for r.start < r.end && strings.TrimSpace(lines[r.start]) == "" {
		r.start++
	}
	for r.end > r.start && strings.TrimSpace(lines[r.end-1]) == "" {
		r.end--
	}
	return r
}

func nonBlankCount(lines []string, r lineRange) int {
	n := 0
	for i := r.start; i < r.end; i++ {
		if strings.TrimSpace(lines[i]) != "" {
			n++
		}
	}
	return n
}
