// Package config defines the recognized configuration options for the
// itinerary engine. Embedders construct a Config and pass it to the
// component constructors (api.New, orchestrator.New, tasks.New, ...); each
// constructor applies its own defaults for zero-valued fields.
package config

import "time"

// Config aggregates the recognized options from every component. Components
// only read the sub-struct relevant to them, so embedders that only need,
// say, the LLM Gateway can leave the rest zero-valued.
type Config struct {
	LLM          LLM
	Store        Store
	Orchestrator Orchestrator
	Revisions    Revisions
	TaskSweep    TaskSweep
}

// LLM configures the LLM Gateway.
type LLM struct {
	// MockMode records that the engine runs on canned responses. No
	// constructor reads it: canned responses come from passing an
	// llm.MockBackend as the Completer to api.New.
	MockMode bool
	// Model is the default model identifier passed to the provider.
	Model string
	// Temperature is the default sampling temperature.
	Temperature float64
	// MaxTokens is the default completion cap.
	MaxTokens int
	Retry     Retry
}

// Retry configures the Gateway's exponential backoff on transient failures.
type Retry struct {
	// MaxAttempts caps retry attempts (including the first try). Defaults to 3.
	MaxAttempts int
	// BaseMs is the base delay in milliseconds for exponential backoff. Defaults to 500.
	BaseMs int
}

// Store selects the Store Adapter backend.
type Store struct {
	// Type is "inmemory" or "remoteKV". Defaults to "inmemory".
	Type string
}

// Orchestrator configures the five-phase generation pipeline.
type Orchestrator struct {
	// PhaseTimeoutSec bounds the wall-clock time of the skeleton and
	// population phases, the two that call the LLM; enrichment and cost
	// estimation run without it. Defaults to 120.
	PhaseTimeoutSec int
}

// Revisions configures revision retention.
type Revisions struct {
	// Retain is the number of revisions kept per itinerary. Defaults to 50.
	Retain int
}

// TaskSweep configures the durable task queue's zombie-recovery sweep.
type TaskSweep struct {
	// StalenessMinutes is how long a running task may go without a heartbeat
	// before the sweep resets it to pending. Defaults to 10.
	StalenessMinutes int
	// HardTimeoutMinutes unconditionally resets tasks running longer than this,
	// regardless of heartbeat. Defaults to 30.
	HardTimeoutMinutes int
	// Interval is how often the sweep runs. Defaults to 30s.
	Interval time.Duration
}

// Defaulted returns a copy of c with zero-valued fields replaced by their
// documented defaults.
func (c Config) Defaulted() Config {
	out := c
	if out.LLM.Retry.MaxAttempts <= 0 {
		out.LLM.Retry.MaxAttempts = 3
	}
	if out.LLM.Retry.BaseMs <= 0 {
		out.LLM.Retry.BaseMs = 500
	}
	if out.Store.Type == "" {
		out.Store.Type = "inmemory"
	}
	if out.Orchestrator.PhaseTimeoutSec <= 0 {
		out.Orchestrator.PhaseTimeoutSec = 120
	}
	if out.Revisions.Retain <= 0 {
		out.Revisions.Retain = 50
	}
	if out.TaskSweep.StalenessMinutes <= 0 {
		out.TaskSweep.StalenessMinutes = 10
	}
	if out.TaskSweep.HardTimeoutMinutes <= 0 {
		out.TaskSweep.HardTimeoutMinutes = 30
	}
	if out.TaskSweep.Interval <= 0 {
		out.TaskSweep.Interval = 30 * time.Second
	}
	return out
}
