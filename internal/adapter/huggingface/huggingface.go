// Package huggingface configures the OpenAI-compatible adapter for the
// Hugging Face inference router.
package huggingface

import (
	"strings"

	"github.com/tokligence/chatstream/internal/adapter/openai"
)

const (
	DefaultBaseURL = "https://router.huggingface.co/v1"
	DefaultModel   = "meta-llama/Llama-3.3-70B-Instruct"
	modelPrefix    = "huggingface/"
)

// New returns an adapter named "huggingface".
func New(cfg openai.Config) (*openai.OpenAIAdapter, error) {
	cfg.Name = "huggingface"
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	cfg.ModelRewrite = NormalizeModel
	return openai.New(cfg)
}

// NormalizeModel drops the catalog prefix, so "huggingface/Qwen/Qwen2.5-72B-Instruct"
// becomes "Qwen/Qwen2.5-72B-Instruct".
func NormalizeModel(model string) string {
	return strings.Replace(model, modelPrefix, "", 1)
}
