package summary

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Prompts holds the summarization templates. Templates use $name or ${name}
// placeholders; unknown placeholders are left untouched.
type Prompts struct {
	Summarization struct {
		Prompt       string `toml:"prompt"`
		SystemPrompt string `toml:"system_prompt"`
	} `toml:"summarization"`
}

const defaultSystemPrompt = `You are a $persona assistant that maintains a running summary of a conversation.
Write the summary in Markdown, keep it concise and preserve facts, decisions and open questions.`

const defaultPrompt = `Update the summary below with the latest exchange. Return only the new summary.

## Previous summary
$previous_summary

## Latest exchange
$latest_conversation`

// DefaultPrompts returns the built-in templates.
func DefaultPrompts() Prompts {
	var p Prompts
	p.Summarization.Prompt = defaultPrompt
	p.Summarization.SystemPrompt = defaultSystemPrompt
	return p
}

// LoadPrompts reads a TOML prompt file. An empty path or a missing file
// yields the defaults; templates absent from the file keep their default.
func LoadPrompts(path string) (Prompts, error) {
	p := DefaultPrompts()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultPrompts(), nil
		}
		return Prompts{}, fmt.Errorf("summary: load prompts %s: %w", path, err)
	}
	if strings.TrimSpace(p.Summarization.Prompt) == "" {
		p.Summarization.Prompt = defaultPrompt
	}
	if strings.TrimSpace(p.Summarization.SystemPrompt) == "" {
		p.Summarization.SystemPrompt = defaultSystemPrompt
	}
	return p, nil
}

// Render fills both templates.
func (p Prompts) Render(previousSummary string, latest Exchange, persona string) (system, prompt string) {
	vars := map[string]string{
		"previous_summary":    previousSummary,
		"latest_conversation": fmt.Sprintf("User:%s\n\nAssistant:%s", latest.UserText, latest.AIResponse),
		"persona":             persona,
	}
	return expand(p.Summarization.SystemPrompt, vars), expand(p.Summarization.Prompt, vars)
}

func expand(tmpl string, vars map[string]string) string {
	return os.Expand(tmpl, func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return "$" + name
	})
}
