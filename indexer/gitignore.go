package indexer

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// OverrideFileName holds repository-local patterns that take precedence over
// .gitignore. Negations ("!pattern") re-include files git ignores.
const OverrideFileName = ".reposcopeignore"

// scopedMatcher is a compiled ignore file and the directory it lives in,
// relative to the repository root ("" for the root).
type scopedMatcher struct {
	matcher *ignore.GitIgnore
	baseDir string
}

// overrideMatcher compiles an override file twice: "full" keeps negations for
// the decision, "any" turns every pattern positive to detect whether the file
// has an opinion on a path at all.
type overrideMatcher struct {
	full    *ignore.GitIgnore
	any     *ignore.GitIgnore
	baseDir string
}

// IgnoreMatcher decides which paths of a repository are excluded from
// indexing. Paths are relative to the repository root.
type IgnoreMatcher struct {
	root         string
	names        []string // directory and file names always ignored
	gitignores   []scopedMatcher
	overrides    []overrideMatcher
	hasNegations bool
}

func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// NewIgnoreMatcher collects .gitignore and override files under root.
// extraIgnore names are skipped everywhere; externalGitignore, when set, is
// applied from the root like a top-level .gitignore.
func NewIgnoreMatcher(root string, extraIgnore []string, externalGitignore string) (*IgnoreMatcher, error) {
	m := &IgnoreMatcher{root: root, names: extraIgnore}

	if externalGitignore != "" {
		path := expandTilde(externalGitignore)
		gi, err := ignore.CompileIgnoreFile(path)
		switch {
		case os.IsNotExist(err):
			log.Printf("Warning: external gitignore file not found: %s", path)
		case err != nil:
			log.Printf("Warning: failed to load external gitignore: %v", err)
		default:
			m.gitignores = append(m.gitignores, scopedMatcher{matcher: gi})
		}
	}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && m.isNamed(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, relErr := filepath.Rel(root, filepath.Dir(path))
		if relErr != nil {
			return nil
		}
		if rel == "." {
			rel = ""
		}
		rel = filepath.ToSlash(rel)

		switch d.Name() {
		case ".gitignore":
			if gi, err := ignore.CompileIgnoreFile(path); err == nil {
				m.gitignores = append(m.gitignores, scopedMatcher{matcher: gi, baseDir: rel})
			}
		case OverrideFileName:
			om, negations, err := compileOverrideFile(path)
			if err != nil {
				return nil
			}
			om.baseDir = rel
			m.overrides = append(m.overrides, om)
			m.hasNegations = m.hasNegations || negations
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(extraIgnore) > 0 {
		m.gitignores = append(m.gitignores, scopedMatcher{matcher: ignore.CompileIgnoreLines(extraIgnore...)})
	}

	return m, nil
}

func (m *IgnoreMatcher) isNamed(name string) bool {
	for _, n := range m.names {
		if name == n {
			return true
		}
	}
	return false
}

// ShouldIgnore reports whether the file or directory at path is excluded.
func (m *IgnoreMatcher) ShouldIgnore(path string) bool {
	p := filepath.ToSlash(path)

	ignored, hasOpinion, overrideBase := m.evalOverride(p)
	if hasOpinion {
		if ignored {
			return true
		}
		// A re-include only beats .gitignore files at the same level or above
		if gitIgnored, gitBase := m.evalGitignore(p); gitIgnored && len(gitBase) > len(overrideBase) {
			return true
		}
		return false
	}

	gitIgnored, _ := m.evalGitignore(p)
	return gitIgnored
}

// ShouldSkipDir reports whether a walk can prune the directory entirely.
// Negations in an override file may re-include files below an ignored
// directory, so such directories must still be descended.
func (m *IgnoreMatcher) ShouldSkipDir(path string) bool {
	if !m.ShouldIgnore(path) {
		return false
	}
	if ignored, hasOpinion, _ := m.evalOverride(filepath.ToSlash(path)); hasOpinion {
		return ignored
	}
	return !m.hasNegations
}

// evalOverride returns the verdict of the most specific override file that
// mentions p.
func (m *IgnoreMatcher) evalOverride(p string) (ignored bool, hasOpinion bool, baseDir string) {
	var best *overrideMatcher
	for i := range m.overrides {
		om := &m.overrides[i]
		rel, ok := relativeTo(p, om.baseDir)
		if !ok {
			continue
		}
		if om.any.MatchesPath(rel) || om.any.MatchesPath(rel+"/") {
			if best == nil || len(om.baseDir) > len(best.baseDir) {
				best = om
			}
		}
	}
	if best == nil {
		return false, false, ""
	}

	rel, _ := relativeTo(p, best.baseDir)
	plain := best.full.MatchesPath(rel)
	slash := best.full.MatchesPath(rel + "/")
	if plain && !slash {
		// the directory form hit a negation
		return false, true, best.baseDir
	}
	return plain || slash, true, best.baseDir
}

// evalGitignore checks ignored names and .gitignore files, returning the
// deepest directory whose .gitignore matched.
func (m *IgnoreMatcher) evalGitignore(p string) (bool, string) {
	found := m.isNamed(filepath.Base(p))
	deepest := ""
	for _, sm := range m.gitignores {
		rel, ok := relativeTo(p, sm.baseDir)
		if !ok {
			continue
		}
		if sm.matcher.MatchesPath(rel) || sm.matcher.MatchesPath(rel+"/") {
			if !found || len(sm.baseDir) > len(deepest) {
				deepest = sm.baseDir
			}
			found = true
		}
	}
	return found, deepest
}

// relativeTo strips baseDir from p. ok is false when p lies outside baseDir.
func relativeTo(p, baseDir string) (string, bool) {
	if baseDir == "" {
		return p, true
	}
	if p == baseDir {
		return ".", true
	}
	if strings.HasPrefix(p, baseDir+"/") {
		return strings.TrimPrefix(p, baseDir+"/"), true
	}
	return "", false
}

func compileOverrideFile(path string) (overrideMatcher, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return overrideMatcher{}, false, err
	}

	var full, positive []string
	negations := false
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		full = append(full, trimmed)
		if strings.HasPrefix(trimmed, "!") {
			negations = true
			trimmed = strings.TrimPrefix(trimmed, "!")
		}
		positive = append(positive, trimmed)
	}

	return overrideMatcher{
		full: ignore.CompileIgnoreLines(full...),
		any:  ignore.CompileIgnoreLines(positive...),
	}, negations, nil
}
