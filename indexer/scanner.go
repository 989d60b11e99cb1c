package indexer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

const sniffLen = 8000

// binaryExtensions are skipped without reading the file.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true, ".webp": true,
	".pdf": true, ".zip": true, ".gz": true, ".tgz": true, ".tar": true, ".bz2": true, ".xz": true, ".7z": true, ".rar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true, ".o": true, ".obj": true, ".class": true, ".jar": true,
	".wasm": true, ".pyc": true, ".bin": true, ".dat": true, ".db": true, ".sqlite": true, ".gob": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".wav": true, ".flac": true, ".ogg": true,
	".psd": true, ".sketch": true, ".lock": true,
}

// IsIndexablePath reports whether a path could hold indexable text judging
// by its name alone.
func IsIndexablePath(path string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, ".min.js") || strings.HasSuffix(base, ".min.css") {
		return false
	}
	return !binaryExtensions[strings.ToLower(filepath.Ext(base))]
}

// FileInfo is a text file selected for indexing.
type FileInfo struct {
	Path    string // slash separated, relative to the repository root
	Size    int64
	ModTime int64
	Hash    string
	Content string
}

// SkippedFile records why a file was left out.
type SkippedFile struct {
	Path   string
	Reason string
}

// Scanner walks a repository and returns the files worth indexing.
type Scanner struct {
	root         string
	ignore       *IgnoreMatcher
	maxFileBytes int64
}

func NewScanner(root string, ignore *IgnoreMatcher, maxFileBytes int64) *Scanner {
	return &Scanner{root: root, ignore: ignore, maxFileBytes: maxFileBytes}
}

// Scan returns indexable files sorted by path, plus the files it skipped.
func (s *Scanner) Scan() ([]FileInfo, []SkippedFile, error) {
	var files []FileInfo
	var skipped []SkippedFile

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.ignore != nil && s.ignore.ShouldSkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if s.ignore != nil && s.ignore.ShouldIgnore(rel) {
			return nil
		}
		if !IsIndexablePath(rel) {
			skipped = append(skipped, SkippedFile{Path: rel, Reason: "binary extension"})
			return nil
		}

		info, err := d.Info()
		if err != nil {
			skipped = append(skipped, SkippedFile{Path: rel, Reason: err.Error()})
			return nil
		}
		if s.maxFileBytes > 0 && info.Size() > s.maxFileBytes {
			skipped = append(skipped, SkippedFile{Path: rel, Reason: fmt.Sprintf("larger than %d bytes", s.maxFileBytes)})
			return nil
		}

		file, reason := s.readFile(path, rel, info)
		if reason != "" {
			skipped = append(skipped, SkippedFile{Path: rel, Reason: reason})
			return nil
		}
		files = append(files, file)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, skipped, nil
}

func (s *Scanner) readFile(path, rel string, info fs.FileInfo) (FileInfo, string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileInfo{}, err.Error()
	}
	if isBinary(data) {
		return FileInfo{}, "binary content"
	}
	if strings.TrimSpace(string(data)) == "" {
		return FileInfo{}, "empty"
	}

	sum := sha256.Sum256(data)
	return FileInfo{
		Path:    rel,
		Size:    info.Size(),
		ModTime: info.ModTime().Unix(),
		Hash:    hex.EncodeToString(sum[:]),
		Content: string(data),
	}, ""
}

// isBinary sniffs the head of the file for NUL bytes and invalid UTF-8.
func isBinary(data []byte) bool {
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
		// do not judge a multi-byte rune cut at the sniff boundary
		for i := 0; i < utf8.UTFMax && len(head) > 0 && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	return !utf8.Valid(head)
}
