// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config assembles the immutable configuration value the CLI layer
// constructs once and passes by reference into every component. Four
// layers contribute, lowest precedence first: built-in defaults, a
// reviewd.yaml file (if present), environment variables, and finally CLI
// flags, which always win on conflict. Grounded on cmd/aleutian/main.go's
// PersistentPreRun YAML-load pattern, generalized here into a function
// that doesn't log.Fatal on a missing file — an absent reviewd.yaml is the
// common case, not an error.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully-resolved, read-only value passed to the orchestrator
// and the transports it constructs. Every field has a zero-value-safe
// default applied by Load.
type Config struct {
	Mode  string `yaml:"mode"`  // "api" or "browser"
	Model string `yaml:"model"`

	APITimeout     time.Duration `yaml:"api_timeout"`
	CommandTimeout time.Duration `yaml:"command_timeout"`

	Iterations   int    `yaml:"iterations"`
	BranchPrefix string `yaml:"branch_prefix"`
	Remote       string `yaml:"remote"`
	NoPush       bool   `yaml:"no_push"`

	RunCmd string `yaml:"run_cmd"`

	LogDir         string `yaml:"log_dir"`
	LogJSON        bool   `yaml:"log_json"`
	MaxBacklogDays int    `yaml:"max_backlog_days"`

	ConversationWindow int `yaml:"conversation_window"`
	TailBytes          int `yaml:"tail_bytes"`
	PromptCharBudget   int `yaml:"prompt_char_budget"`

	APIKeyEnv  string `yaml:"api_key_env"`
	APIBaseURL string `yaml:"api_base_url"`

	BrowserHeadless    bool   `yaml:"browser_headless"`
	BrowserUserDataDir string `yaml:"browser_user_data_dir"`
	BrowserControlURL  string `yaml:"browser_control_url"`
}

// defaults mirrors Orchestrator.Config.withDefaults's conservative choices
// so the same values apply whether or not reviewd.yaml or an env var is
// present.
func defaults() Config {
	return Config{
		Mode:               "api",
		Model:              "gpt-4o-mini",
		APITimeout:         2 * time.Minute,
		CommandTimeout:     5 * time.Minute,
		Iterations:         1,
		BranchPrefix:       "iteration",
		Remote:             "origin",
		LogDir:             "",
		MaxBacklogDays:     7,
		ConversationWindow: 6,
		TailBytes:          64 * 1024,
		PromptCharBudget:   1500,
		APIKeyEnv:          "OPENAI_API_KEY",
		BrowserHeadless:    true,
		BrowserUserDataDir: "",
		BrowserControlURL:  "ws://127.0.0.1:9222",
	}
}

// Load builds a Config from defaults, then yamlPath (if it exists), then
// the environment. CLI flags are applied afterward by the caller
// (cmd/reviewd's applyFlagOverrides), since cobra already owns flag parsing and "was this flag
// explicitly set" state that this package has no need to duplicate.
func Load(yamlPath string) (Config, error) {
	cfg := defaults()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, err
			}
		} else if !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays recognized environment variables, a second-class
// source that a CLI flag always overrides later.
func applyEnv(cfg *Config) {
	if v := os.Getenv("REVIEWD_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("REVIEWD_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("REVIEWD_API_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.APITimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("REVIEWD_COMMAND_TIMEOUT_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.CommandTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("REVIEWD_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Iterations = n
		}
	}
	if v := os.Getenv("REVIEWD_BRANCH_PREFIX"); v != "" {
		cfg.BranchPrefix = v
	}
	if v := os.Getenv("REVIEWD_REMOTE"); v != "" {
		cfg.Remote = v
	}
	if v := os.Getenv("REVIEWD_NO_PUSH"); v != "" {
		cfg.NoPush = v == "1" || v == "true"
	}
	if v := os.Getenv("REVIEWD_LOG_DIR"); v != "" {
		cfg.LogDir = v
	}
	if v := os.Getenv("REVIEWD_LOG_JSON"); v != "" {
		cfg.LogJSON = v == "1" || v == "true"
	}
	if v := os.Getenv("REVIEWD_MAX_BACKLOG_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxBacklogDays = n
		}
	}
	if v := os.Getenv("REVIEWD_CONVERSATION_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ConversationWindow = n
		}
	}
	if v := os.Getenv("REVIEWD_TAIL_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TailBytes = n
		}
	}
	if v := os.Getenv("REVIEWD_PROMPT_CHAR_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PromptCharBudget = n
		}
	}
	if v := os.Getenv("REVIEWD_API_KEY_ENV"); v != "" {
		cfg.APIKeyEnv = v
	}
	if v := os.Getenv("REVIEWD_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv("REVIEWD_BROWSER_HEADLESS"); v != "" {
		cfg.BrowserHeadless = v == "1" || v == "true"
	}
	if v := os.Getenv("REVIEWD_BROWSER_USER_DATA_DIR"); v != "" {
		cfg.BrowserUserDataDir = v
	}
	if v := os.Getenv("REVIEWD_BROWSER_CONTROL_URL"); v != "" {
		cfg.BrowserControlURL = v
	}
}
