// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jinterlante1206/reviewd/pkg/config"
	"github.com/jinterlante1206/reviewd/services/review/transport"
)

// buildTransport constructs the realization named by cfg.Mode. The
// Orchestrator never branches on which one it receives.
func buildTransport(cfg config.Config) (transport.Transport, error) {
	switch cfg.Mode {
	case "", "api":
		return transport.NewHTTPTransport(transport.HTTPConfig{
			Model:     cfg.Model,
			BaseURL:   cfg.APIBaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
		}, logger.Slog())
	case "browser":
		return transport.NewBrowserTransport(transport.BrowserConfig{
			UserDataDir: cfg.BrowserUserDataDir,
			ControlURL:  cfg.BrowserControlURL,
			IdleWindow:  2 * time.Second,
			UIWaitMax:   2 * time.Minute,
		}, logger.Slog())
	default:
		return nil, fmt.Errorf("unknown --mode %q, want api or browser", cfg.Mode)
	}
}

// historyDirFor is where the Badger resume-history index lives for a given
// repo; distinct from repoRoot's tracked files so it's never accidentally
// committed.
func historyDirFor(repoRoot string) string {
	return filepath.Join(repoRoot, ".reviewd", "history")
}
