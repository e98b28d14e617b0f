// Package config loads the harness configuration: a json5 file overlaid with
// EVERLOOP_ environment variables, plus operator prompt files with {{var}}
// substitution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Config is the full configuration surface.
type Config struct {
	ModelEndpoint string  `json:"model_endpoint"`
	ModelName     string  `json:"model_name"`
	ModelAPIKey   string  `json:"model_api_key"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`

	SearchAPIKey string `json:"search_api_key"`

	ListenPort     int      `json:"listen_port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPM   int      `json:"rate_limit_rpm"`

	WorkspacePath       string `json:"workspace_path"`
	RestrictToWorkspace bool   `json:"restrict_to_workspace"`
	ContextSize         int    `json:"context_size"`

	SystemPromptPath     string `json:"system_prompt_path"`
	AutonomousPromptPath string `json:"autonomous_prompt_path"`

	StoreDriver string `json:"store_driver"` // sqlite | postgres
	PostgresDSN string `json:"postgres_dsn"`

	WakeCron string `json:"wake_cron"`

	OTLPEndpoint string `json:"otlp_endpoint"`
	OTLPProtocol string `json:"otlp_protocol"` // grpc | http

	// Ollama convenience values exposed to prompt templates.
	OllamaEndpoint string `json:"ollama_endpoint"`
	OllamaModel    string `json:"ollama_model"`
}

// Default returns a Config with sensible defaults: a local Ollama endpoint
// and a workspace under the home directory.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		ModelEndpoint:       "http://localhost:11434/v1",
		ModelName:           "qwen3:8b",
		MaxTokens:           4096,
		Temperature:         0.7,
		ListenPort:          8787,
		RateLimitRPM:        60,
		WorkspacePath:       filepath.Join(home, ".everloop", "workspace"),
		RestrictToWorkspace: true,
		ContextSize:         32768,
		StoreDriver:         "sqlite",
		OTLPProtocol:        "grpc",
		OllamaEndpoint:      "http://localhost:11434",
		OllamaModel:         "qwen3:8b",
	}
}

// Load reads config from a json5 file, then overlays env vars. A missing
// file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.WorkspacePath = expandHome(cfg.WorkspacePath)
	return cfg, nil
}

// StorePath is the sqlite database location inside the workspace.
func (c *Config) StorePath() string {
	return filepath.Join(c.WorkspacePath, ".everloop", "everloop.db")
}

// applyEnvOverrides overlays EVERLOOP_ env vars; they take precedence over
// file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	envStr("EVERLOOP_MODEL_ENDPOINT", &c.ModelEndpoint)
	envStr("EVERLOOP_MODEL_NAME", &c.ModelName)
	envStr("EVERLOOP_MODEL_API_KEY", &c.ModelAPIKey)
	envStr("EVERLOOP_SEARCH_API_KEY", &c.SearchAPIKey)
	envInt("EVERLOOP_PORT", &c.ListenPort)
	envStr("EVERLOOP_WORKSPACE", &c.WorkspacePath)
	envInt("EVERLOOP_CONTEXT_SIZE", &c.ContextSize)
	envStr("EVERLOOP_STORE_DRIVER", &c.StoreDriver)
	envStr("EVERLOOP_POSTGRES_DSN", &c.PostgresDSN)
	envStr("EVERLOOP_WAKE_CRON", &c.WakeCron)
	envStr("EVERLOOP_OTLP_ENDPOINT", &c.OTLPEndpoint)
	envStr("EVERLOOP_OTLP_PROTOCOL", &c.OTLPProtocol)
	envInt("EVERLOOP_RATE_LIMIT_RPM", &c.RateLimitRPM)
}

// TemplateVars are the substitution values available to prompt files.
func (c *Config) TemplateVars() map[string]string {
	return map[string]string{
		"port":            strconv.Itoa(c.ListenPort),
		"workspace":       c.WorkspacePath,
		"ollama_endpoint": c.OllamaEndpoint,
		"ollama_model":    c.OllamaModel,
		"context_size":    strconv.Itoa(c.ContextSize),
	}
}

// RenderTemplate substitutes {{var}} placeholders. Unknown placeholders are
// left in place so typos stay visible in the prompt.
func RenderTemplate(text string, vars map[string]string) string {
	for k, v := range vars {
		text = strings.ReplaceAll(text, "{{"+k+"}}", v)
	}
	return text
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
