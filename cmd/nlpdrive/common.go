package main

import (
	"log/slog"

	"github.com/longregen/nlpdrive/internal/config"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Shared global variables, populated by rootCmd's PersistentPreRunE.
var (
	cfg    *config.Config
	logger *slog.Logger
)

// maskSecret masks a secret string for display.
func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// boolStatus returns a status string for a boolean.
func boolStatus(b bool) string {
	if b {
		return "configured"
	}
	return "not configured"
}
