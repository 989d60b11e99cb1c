//go:build treesitter

package indexer

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// declarationNodes lists, per extension, the syntax node types that open a
// chunk.
var declarationNodes = map[string]map[string]bool{
	".go": {
		"function_declaration": true,
		"method_declaration":   true,
		"type_declaration":     true,
	},
	".js": {
		"function_declaration": true,
		"class_declaration":    true,
		"method_definition":    true,
		"export_statement":     true,
		"lexical_declaration":  true,
	},
	".ts": {
		"function_declaration":   true,
		"class_declaration":      true,
		"method_definition":      true,
		"export_statement":       true,
		"lexical_declaration":    true,
		"interface_declaration":  true,
		"type_alias_declaration": true,
		"enum_declaration":       true,
	},
	".py": {
		"function_definition":  true,
		"class_definition":     true,
		"decorated_definition": true,
	},
	".php": {
		"function_definition": true,
		"class_declaration":   true,
		"method_declaration":  true,
	},
	".cs": {
		"class_declaration":       true,
		"interface_declaration":   true,
		"struct_declaration":      true,
		"enum_declaration":        true,
		"method_declaration":      true,
		"constructor_declaration": true,
	},
}

// TreeSitterFinder finds declaration starts from a real syntax tree.
// Parsers are not safe for concurrent use, so each call takes the lock of
// its language.
type TreeSitterFinder struct {
	parsers map[string]*lockedParser
	regex   *RegexFinder
}

type lockedParser struct {
	mu     sync.Mutex
	parser *sitter.Parser
	nodes  map[string]bool
}

func newTreeSitterFinder() (BoundaryFinder, error) {
	languages := map[string]struct {
		lang  *sitter.Language
		nodes string
	}{
		".go":  {golang.GetLanguage(), ".go"},
		".js":  {javascript.GetLanguage(), ".js"},
		".jsx": {javascript.GetLanguage(), ".js"},
		".mjs": {javascript.GetLanguage(), ".js"},
		".ts":  {typescript.GetLanguage(), ".ts"},
		".py":  {python.GetLanguage(), ".py"},
		".php": {php.GetLanguage(), ".php"},
		".cs":  {csharp.GetLanguage(), ".cs"},
	}

	f := &TreeSitterFinder{
		parsers: make(map[string]*lockedParser),
		regex:   NewRegexFinder(),
	}
	for ext, l := range languages {
		parser := sitter.NewParser()
		parser.SetLanguage(l.lang)
		f.parsers[ext] = &lockedParser{parser: parser, nodes: declarationNodes[l.nodes]}
	}
	return f, nil
}

func (f *TreeSitterFinder) Mode() string {
	return "precise"
}

func (f *TreeSitterFinder) Boundaries(filePath string, lines []string) ([]int, bool) {
	ext := strings.ToLower(filepath.Ext(filePath))
	lp, ok := f.parsers[ext]
	if !ok {
		// Languages without a grammar still get regex boundaries
		return f.regex.Boundaries(filePath, lines)
	}

	content := []byte(strings.Join(lines, "\n"))

	lp.mu.Lock()
	tree, err := lp.parser.ParseCtx(context.Background(), nil, content)
	lp.mu.Unlock()
	if err != nil {
		return f.regex.Boundaries(filePath, lines)
	}
	defer tree.Close()

	var starts []int
	collectDeclarations(tree.RootNode(), lp.nodes, 0, &starts)

	prefixes := cStyleComments
	if ext == ".py" {
		prefixes = hashComments
	}
	return attachComments(lines, starts, prefixes), true
}

// collectDeclarations records declaration nodes down to class members. Deeper
// nesting (closures, local functions) stays inside its parent chunk.
func collectDeclarations(node *sitter.Node, nodes map[string]bool, depth int, starts *[]int) {
	if depth > 3 {
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if nodes[child.Type()] {
			*starts = append(*starts, int(child.StartPoint().Row))
		}
		collectDeclarations(child, nodes, depth+1, starts)
	}
}
