package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors Config with yaml struct tags matching the option names
// from the external configuration surface (llm.mockMode, llm.retry.maxAttempts, ...).
type yamlConfig struct {
	LLM struct {
		MockMode    bool    `yaml:"mockMode"`
		Model       string  `yaml:"model"`
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int     `yaml:"maxTokens"`
		Retry       struct {
			MaxAttempts int `yaml:"maxAttempts"`
			BaseMs      int `yaml:"baseMs"`
		} `yaml:"retry"`
	} `yaml:"llm"`
	Store struct {
		Type string `yaml:"type"`
	} `yaml:"store"`
	Orchestrator struct {
		PhaseTimeoutSec int `yaml:"phaseTimeoutSec"`
	} `yaml:"orchestrator"`
	Revisions struct {
		Retain int `yaml:"retain"`
	} `yaml:"revisions"`
	TaskSweep struct {
		StalenessMinutes int `yaml:"stalenessMinutes"`
	} `yaml:"taskSweep"`
}

// LoadFile reads and parses a YAML configuration file into a Config, applying
// documented defaults for any option the file omits.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	cfg := Config{
		LLM: LLM{
			MockMode:    y.LLM.MockMode,
			Model:       y.LLM.Model,
			Temperature: y.LLM.Temperature,
			MaxTokens:   y.LLM.MaxTokens,
			Retry: Retry{
				MaxAttempts: y.LLM.Retry.MaxAttempts,
				BaseMs:      y.LLM.Retry.BaseMs,
			},
		},
		Store:        Store{Type: y.Store.Type},
		Orchestrator: Orchestrator{PhaseTimeoutSec: y.Orchestrator.PhaseTimeoutSec},
		Revisions:    Revisions{Retain: y.Revisions.Retain},
		TaskSweep:    TaskSweep{StalenessMinutes: y.TaskSweep.StalenessMinutes},
	}
	return cfg.Defaulted(), nil
}
