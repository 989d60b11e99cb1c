package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reposcope/reposcope/config"
)

func TestBooster_Apply(t *testing.T) {
	b := NewBooster(config.DefaultConfig().Search.Boost)

	tests := []struct {
		path string
		want float32
	}{
		{"pkg/parser.go", 1.0},
		{"pkg/parser_test.go", 0.5},
		{"tests/parser.py", 0.5},
		{"README.md", 0.6},
		{"internal/parser.go", 1.1},
		{"src/tests/parser.go", 0.55},
		{"api/v1/service.pb.go", 0.4},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.InDelta(t, tt.want, b.Apply(tt.path, 1.0), 1e-6)
		})
	}
}

func TestBooster_DisabledAndNegative(t *testing.T) {
	disabled := NewBooster(config.BoostConfig{
		Penalties: []config.BoostRule{{Pattern: "_test.", Factor: 0.5}},
	})
	assert.Equal(t, float32(0.8), disabled.Apply("a_test.go", 0.8))

	enabled := NewBooster(config.BoostConfig{
		Enabled:   true,
		Penalties: []config.BoostRule{{Pattern: "_test.", Factor: 0.5}},
	})
	assert.Equal(t, float32(-0.4), enabled.Apply("a_test.go", -0.4))

	var nilBooster *Booster
	assert.Equal(t, float32(0.3), nilBooster.Apply("a_test.go", 0.3))
}
