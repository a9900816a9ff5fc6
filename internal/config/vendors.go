package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Vendor identifiers shared by adapters, routes and the model catalog.
const (
	VendorOpenAI      = "openai"
	VendorAnthropic   = "anthropic"
	VendorGemini      = "gemini"
	VendorHuggingFace = "huggingface"
	VendorMistral     = "mistral"
	VendorUpstage     = "upstage"
)

// Vendors holds upstream credentials. They come from the vendors' usual
// environment variables and fall back to the INI keys of the same name in
// lower case (openai_api_key, ...).
type Vendors struct {
	OpenAIAPIKey       string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL      string `env:"OPENAI_BASE_URL"`
	OpenAIOrganization string `env:"OPENAI_ORGANIZATION"`
	AnthropicAPIKey    string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL   string `env:"ANTHROPIC_BASE_URL"`
	AnthropicVersion   string `env:"ANTHROPIC_VERSION"`
	GoogleAPIKey       string `env:"GOOGLE_API_KEY"`
	GeminiBaseURL      string `env:"GEMINI_BASE_URL"`
	HuggingFaceToken   string `env:"HUGGINGFACE_TOKEN"`
	HuggingFaceBaseURL string `env:"HUGGINGFACE_BASE_URL"`
	MistralAPIKey      string `env:"MISTRAL_API_KEY"`
	MistralBaseURL     string `env:"MISTRAL_BASE_URL"`
	UpstageAPIKey      string `env:"UPSTAGE_API_KEY"`
	UpstageBaseURL     string `env:"UPSTAGE_BASE_URL"`
}

func loadVendors(ini map[string]string) (Vendors, error) {
	var v Vendors
	if err := env.Parse(&v); err != nil {
		return Vendors{}, fmt.Errorf("parse vendor environment: %w", err)
	}
	fields := []struct {
		key string
		dst *string
	}{
		{"openai_api_key", &v.OpenAIAPIKey},
		{"openai_base_url", &v.OpenAIBaseURL},
		{"openai_organization", &v.OpenAIOrganization},
		{"anthropic_api_key", &v.AnthropicAPIKey},
		{"anthropic_base_url", &v.AnthropicBaseURL},
		{"anthropic_version", &v.AnthropicVersion},
		{"google_api_key", &v.GoogleAPIKey},
		{"gemini_base_url", &v.GeminiBaseURL},
		{"huggingface_token", &v.HuggingFaceToken},
		{"huggingface_base_url", &v.HuggingFaceBaseURL},
		{"mistral_api_key", &v.MistralAPIKey},
		{"mistral_base_url", &v.MistralBaseURL},
		{"upstage_api_key", &v.UpstageAPIKey},
		{"upstage_base_url", &v.UpstageBaseURL},
	}
	for _, f := range fields {
		*f.dst = strings.TrimSpace(firstNonEmpty(*f.dst, ini[f.key]))
	}
	return v, nil
}

// Configured reports whether credentials for vendor are present.
func (v Vendors) Configured(vendor string) bool {
	switch vendor {
	case VendorOpenAI:
		return v.OpenAIAPIKey != ""
	case VendorAnthropic:
		return v.AnthropicAPIKey != ""
	case VendorGemini:
		return v.GoogleAPIKey != ""
	case VendorHuggingFace:
		return v.HuggingFaceToken != ""
	case VendorMistral:
		return v.MistralAPIKey != ""
	case VendorUpstage:
		return v.UpstageAPIKey != ""
	default:
		return false
	}
}

// ConfiguredList returns the configured vendors in a stable order.
func (v Vendors) ConfiguredList() []string {
	var out []string
	for _, name := range []string{VendorOpenAI, VendorAnthropic, VendorGemini, VendorHuggingFace, VendorMistral, VendorUpstage} {
		if v.Configured(name) {
			out = append(out, name)
		}
	}
	return out
}
