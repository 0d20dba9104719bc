package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/capitalize-ai/whatsapp-assistant/internal/session"
)

// Prompts holds the assistant's fixed texts.
type Prompts struct {
	SystemPrompt   string `yaml:"system_prompt"`
	WelcomeMessage string `yaml:"welcome_message"`
}

// DefaultPrompts returns the built-in prompts.
func DefaultPrompts() Prompts {
	return Prompts{
		SystemPrompt:   session.DefaultSystemPrompt,
		WelcomeMessage: session.DefaultWelcomeMessage,
	}
}

// LoadPrompts reads prompts from path. YAML files carry both texts; any other
// extension is read whole as the system prompt. An empty path or a missing file
// yields the defaults, and blank fields fall back individually.
func LoadPrompts(path string) (Prompts, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return prompts, nil
	}
	if err != nil {
		return prompts, fmt.Errorf("failed to read prompts file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var loaded Prompts
		if err := yaml.Unmarshal(data, &loaded); err != nil {
			return prompts, fmt.Errorf("failed to parse prompts file: %w", err)
		}
		if s := strings.TrimSpace(loaded.SystemPrompt); s != "" {
			prompts.SystemPrompt = s
		}
		if s := strings.TrimSpace(loaded.WelcomeMessage); s != "" {
			prompts.WelcomeMessage = s
		}
	default:
		if s := strings.TrimSpace(string(data)); s != "" {
			prompts.SystemPrompt = s
		}
	}

	return prompts, nil
}
