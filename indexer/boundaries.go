package indexer

import (
	"log"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// BoundaryFinder locates the lines where top-level declarations start.
// Boundaries returns 0-based line indexes and false when the file type is
// not supported, in which case the chunker falls back to line windows.
type BoundaryFinder interface {
	Boundaries(filePath string, lines []string) ([]int, bool)
	Mode() string
}

// NewBoundaryFinder returns the finder for the configured chunking mode.
// "precise" needs a binary built with the treesitter tag; without it the
// regex finder is used.
func NewBoundaryFinder(mode string) BoundaryFinder {
	if mode == "precise" {
		finder, err := newTreeSitterFinder()
		if err == nil {
			return finder
		}
		log.Printf("Warning: %v, falling back to fast chunking", err)
	}
	return NewRegexFinder()
}

type languageSpec struct {
	decls    []*regexp.Regexp
	comments []string
}

var (
	cStyleComments = []string{"//", "/*", "*", "*/", "@", "#["}
	hashComments   = []string{"#", "@"}
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

var (
	goSpec = &languageSpec{
		decls:    compileAll(`^(func|type|var|const)\b`),
		comments: []string{"//", "/*", "*", "*/"},
	}
	pythonSpec = &languageSpec{
		decls:    compileAll(`^(async\s+)?def\s`, `^class\s`, `^\s{2,8}(async\s+)?def\s`),
		comments: hashComments,
	}
	jsSpec = &languageSpec{
		decls: compileAll(
			`^(export\s+)?(default\s+)?(async\s+)?function\b`,
			`^(export\s+)?(default\s+)?(abstract\s+)?class\b`,
			`^(export\s+)?(const|let|var)\s+[\w$]+\s*(:[^=]+)?=\s*(async\s*)?(\([^)]*\)|[\w$]+)\s*(:[^=]+)?=>`,
			`^(export\s+)?(declare\s+)?(interface|type|enum|namespace)\s`,
		),
		comments: cStyleComments,
	}
	jvmSpec = &languageSpec{
		decls: compileAll(
			`^(\s{0,4})((public|private|protected|internal|static|final|abstract|sealed|open|data|inline|partial|override|virtual|async|suspend|readonly)\s+)*(class|interface|enum|record|struct|object|trait|fun|def)\s`,
			`^\s{0,4}((public|private|protected|internal)\s+)((static|final|abstract|override|virtual|async|synchronized)\s+)*[\w<>\[\],\s?]+\s+\w+\s*\([^;]*$`,
		),
		comments: cStyleComments,
	}
	rustSpec = &languageSpec{
		decls:    compileAll(`^(\s{4})?(pub(\([^)]*\))?\s+)?(async\s+)?(unsafe\s+)?(const\s+)?(fn|struct|enum|trait|impl|mod|type|macro_rules!)\b`),
		comments: cStyleComments,
	}
	rubySpec = &languageSpec{
		decls:    compileAll(`^\s{0,4}(def|class|module)\s`),
		comments: []string{"#"},
	}
	phpSpec = &languageSpec{
		decls: compileAll(
			`^\s{0,4}((public|private|protected|static|abstract|final)\s+)*function\s`,
			`^((abstract|final)\s+)?(class|interface|trait|enum)\s`,
		),
		comments: cStyleComments,
	}
	cSpec = &languageSpec{
		decls: compileAll(
			`^(struct|class|enum|union|namespace|typedef|template)\b`,
			`^[A-Za-z_][\w\s\*&:<>,]*[\s\*&]+[A-Za-z_~][\w:]*\s*\([^;]*$`,
		),
		comments: []string{"//", "/*", "*", "*/"},
	}
	swiftSpec = &languageSpec{
		decls:    compileAll(`^\s{0,4}((public|private|internal|open|fileprivate|static|final|override|mutating)\s+)*(func|class|struct|enum|protocol|extension|actor)\s`),
		comments: cStyleComments,
	}
)

var languageSpecs = map[string]*languageSpec{
	".go":    goSpec,
	".py":    pythonSpec,
	".js":    jsSpec,
	".jsx":   jsSpec,
	".mjs":   jsSpec,
	".cjs":   jsSpec,
	".ts":    jsSpec,
	".tsx":   jsSpec,
	".java":  jvmSpec,
	".kt":    jvmSpec,
	".kts":   jvmSpec,
	".scala": jvmSpec,
	".cs":    jvmSpec,
	".rs":    rustSpec,
	".rb":    rubySpec,
	".php":   phpSpec,
	".c":     cSpec,
	".h":     cSpec,
	".cc":    cSpec,
	".cpp":   cSpec,
	".cxx":   cSpec,
	".hpp":   cSpec,
	".swift": swiftSpec,
}

// RegexFinder detects declarations with per-language line patterns.
type RegexFinder struct{}

func NewRegexFinder() *RegexFinder {
	return &RegexFinder{}
}

func (f *RegexFinder) Mode() string {
	return "fast"
}

func (f *RegexFinder) Boundaries(filePath string, lines []string) ([]int, bool) {
	spec, ok := languageSpecs[strings.ToLower(filepath.Ext(filePath))]
	if !ok {
		return nil, false
	}

	var starts []int
	inBlockComment := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if inBlockComment {
			if strings.Contains(trimmed, "*/") {
				inBlockComment = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "/*") && !strings.Contains(trimmed, "*/") {
			inBlockComment = true
			continue
		}
		for _, re := range spec.decls {
			if re.MatchString(line) {
				starts = append(starts, i)
				break
			}
		}
	}

	return attachComments(lines, starts, spec.comments), true
}

// attachComments moves each declaration start up over the comment and
// annotation lines directly above it, without crossing the previous start.
func attachComments(lines []string, starts []int, prefixes []string) []int {
	sort.Ints(starts)
	out := make([]int, 0, len(starts))
	prev := -1
	for _, s := range starts {
		if s <= prev {
			continue
		}
		adjusted := s
		for adjusted-1 > prev && isCommentLine(lines[adjusted-1], prefixes) {
			adjusted--
		}
		out = append(out, adjusted)
		prev = s
	}
	return out
}

func isCommentLine(line string, prefixes []string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
