package main

import (
	"os"

	"github.com/mattn/go-isatty"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

func shouldColorize() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorize(value, color string) string {
	if !shouldColorize() {
		return value
	}
	return color + value + ansiReset
}

func renderRunState(running bool) string {
	if running {
		return colorize("running", ansiGreen)
	}
	return colorize("stopped", ansiRed)
}

func renderNetState(online bool) string {
	if online {
		return colorize("online", ansiGreen)
	}
	return colorize("offline", ansiRed)
}
