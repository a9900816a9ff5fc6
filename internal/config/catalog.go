package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// CatalogModel is one selectable model.
type CatalogModel struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}

// CatalogGroup lists the models of one vendor under a display label.
type CatalogGroup struct {
	Vendor string         `yaml:"vendor"`
	Label  string         `yaml:"label"`
	Models []CatalogModel `yaml:"models"`
}

// Catalog is the model list offered to the front-end.
type Catalog struct {
	Groups []CatalogGroup `yaml:"vendors"`
}

// DefaultCatalog is used when no models file exists.
func DefaultCatalog() Catalog {
	return Catalog{Groups: []CatalogGroup{
		{Vendor: VendorOpenAI, Label: "OpenAI", Models: []CatalogModel{
			{Code: "gpt-4o", Name: "GPT-4o"},
			{Code: "gpt-4o-mini", Name: "GPT-4o Mini"},
		}},
		{Vendor: VendorGemini, Label: "Google", Models: []CatalogModel{
			{Code: "gemini-2.0-flash", Name: "Gemini 2.0 Flash"},
			{Code: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite"},
		}},
		{Vendor: VendorMistral, Label: "Mistral.AI", Models: []CatalogModel{
			{Code: "mistral-large-latest", Name: "Mistral Large"},
			{Code: "mistral-codestral-latest", Name: "Codestral"},
			{Code: "mistral-ministral-8b-latest", Name: "Ministral 8B"},
			{Code: "mistral-ministral-3b-latest", Name: "Ministral 3B"},
		}},
		{Vendor: VendorHuggingFace, Label: "Hugging Face", Models: []CatalogModel{
			{Code: "huggingface/meta-llama/Llama-3.3-70B-Instruct", Name: "Llama 3.3 70B Instruct"},
			{Code: "huggingface/Qwen/Qwen2.5-72B-Instruct", Name: "Qwen 2.5 72B Instruct"},
			{Code: "huggingface/deepseek-ai/DeepSeek-R1-Distill-Qwen-32B", Name: "DeepSeek R1 Distilled Qwen 32B"},
		}},
		{Vendor: VendorAnthropic, Label: "Anthropic", Models: []CatalogModel{
			{Code: "claude-3.5-sonnet-latest", Name: "Claude 3.5 Sonnet"},
			{Code: "claude-3.7-sonnet-latest", Name: "Claude 3.7 Sonnet"},
		}},
		{Vendor: VendorUpstage, Label: "Upstage", Models: []CatalogModel{
			{Code: "upstage-solar-mini", Name: "Solar Mini"},
			{Code: "upstage-solar-pro", Name: "Solar Pro"},
		}},
	}}
}

// LoadCatalog reads a YAML model catalog. A missing file yields the default.
func LoadCatalog(path string) (Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCatalog(), nil
	}
	if err != nil {
		return Catalog{}, fmt.Errorf("read models file: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse models file %s: %w", path, err)
	}
	for i, g := range c.Groups {
		if g.Vendor == "" {
			return Catalog{}, fmt.Errorf("models file %s: group %d has no vendor", path, i)
		}
		if g.Label == "" {
			c.Groups[i].Label = g.Vendor
		}
	}
	return c, nil
}

// Available groups the models of configured vendors by label.
func (c Catalog) Available(v Vendors) map[string][]CatalogModel {
	out := make(map[string][]CatalogModel)
	for _, g := range c.Groups {
		if !v.Configured(g.Vendor) {
			continue
		}
		out[g.Label] = append(out[g.Label], g.Models...)
	}
	return out
}
