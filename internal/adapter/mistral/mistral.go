// Package mistral configures the OpenAI-compatible adapter for La Plateforme.
package mistral

import (
	"strings"

	"github.com/tokligence/chatstream/internal/adapter/openai"
)

const (
	DefaultBaseURL = "https://api.mistral.ai/v1"
	DefaultModel   = "mistral-small-latest"
)

// New returns an adapter named "mistral".
func New(cfg openai.Config) (*openai.OpenAIAdapter, error) {
	cfg.Name = "mistral"
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	cfg.ModelRewrite = NormalizeModel
	return openai.New(cfg)
}

// NormalizeModel maps catalog aliases such as "mistral-codestral-latest" to the
// vendor id "codestral-latest". Only codestral and ministral models carry the
// extra prefix; "mistral-large-latest" is already a vendor id.
func NormalizeModel(model string) string {
	if strings.Contains(model, "codestral") || strings.Contains(model, "ministral") {
		return strings.ReplaceAll(model, "mistral-", "")
	}
	return model
}
