// Package upstage configures the OpenAI-compatible adapter for Upstage Solar.
package upstage

import (
	"strings"

	"github.com/tokligence/chatstream/internal/adapter/openai"
)

const (
	DefaultBaseURL = "https://api.upstage.ai/v1"
	DefaultModel   = "solar-mini"
	modelPrefix    = "upstage-"
)

// New returns an adapter named "upstage".
func New(cfg openai.Config) (*openai.OpenAIAdapter, error) {
	cfg.Name = "upstage"
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	cfg.ModelRewrite = NormalizeModel
	return openai.New(cfg)
}

// NormalizeModel strips the catalog prefix: "upstage-solar-pro" becomes "solar-pro".
func NormalizeModel(model string) string {
	return strings.TrimPrefix(model, modelPrefix)
}
