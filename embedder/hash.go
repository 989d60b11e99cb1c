package embedder

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimensions = 384

// HashEmbedder is an offline embedder based on feature hashing of identifier
// tokens. Identifiers are split on case and underscore boundaries so that
// "parseConfig" and "parse_config" share features. It needs no network and is
// fully deterministic.
type HashEmbedder struct {
	dimensions int
}

type HashOption func(*HashEmbedder)

func WithHashDimensions(dimensions int) HashOption {
	return func(e *HashEmbedder) {
		if dimensions > 0 {
			e.dimensions = dimensions
		}
	}
}

func NewHashEmbedder(opts ...HashOption) *HashEmbedder {
	e := &HashEmbedder{dimensions: defaultHashDimensions}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dimensions)
	counts := make(map[string]int)
	for _, tok := range tokenize(text) {
		counts[tok]++
	}

	for tok, n := range counts {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dimensions))
		weight := float32(1 + math.Log(float64(n)))
		if sum&(1<<63) != 0 {
			weight = -weight
		}
		vec[idx] += weight
	}

	return Normalize(vec), nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *HashEmbedder) Version() string {
	return fmt.Sprintf("hash:v1:%d", e.dimensions)
}

func (e *HashEmbedder) Close() error {
	return nil
}

// tokenize lowercases words and emits both whole identifiers and their
// camelCase / snake_case parts.
func tokenize(text string) []string {
	var tokens []string
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, field := range fields {
		parts := splitIdentifier(field)
		if len(parts) > 1 {
			tokens = append(tokens, strings.ToLower(strings.ReplaceAll(field, "_", "")))
		}
		for _, p := range parts {
			if len(p) > 1 {
				tokens = append(tokens, strings.ToLower(p))
			}
		}
	}
	return tokens
}

func splitIdentifier(s string) []string {
	var parts []string
	var cur []rune
	runes := []rune(s)
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, string(cur))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		switch {
		case r == '_':
			flush()
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return parts
}
