package query

import (
	"strings"

	"github.com/reposcope/reposcope/config"
)

// Booster rescales similarity scores by file path, so that tests, fixtures,
// generated code and docs rank below the implementation they describe.
type Booster struct {
	enabled   bool
	penalties []config.BoostRule
	bonuses   []config.BoostRule
}

func NewBooster(cfg config.BoostConfig) *Booster {
	return &Booster{
		enabled:   cfg.Enabled,
		penalties: cfg.Penalties,
		bonuses:   cfg.Bonuses,
	}
}

// Apply returns score multiplied by the first matching penalty and the
// first matching bonus for filePath.
func (b *Booster) Apply(filePath string, score float32) float32 {
	// scaling a negative similarity would invert the rule
	if b == nil || !b.enabled || score <= 0 {
		return score
	}
	// rules are written against rooted paths ("/tests/")
	path := "/" + strings.TrimPrefix(filePath, "/")

	for _, rule := range b.penalties {
		if rule.Pattern != "" && strings.Contains(path, rule.Pattern) {
			score *= rule.Factor
			break
		}
	}
	for _, rule := range b.bonuses {
		if rule.Pattern != "" && strings.Contains(path, rule.Pattern) {
			score *= rule.Factor
			break
		}
	}
	return score
}
