// Package logging builds slog loggers with console and JSON handlers plus
// attribute helpers shared across the daemon, sync engine, and CLI.
package logging
