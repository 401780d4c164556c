package main

import (
	"fmt"
	"os"
	"strings"
)

type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func readUIMode(value string) (uiMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return uiModeAuto, nil
	case "on":
		return uiModeOn, nil
	case "off":
		return uiModeOff, nil
	default:
		return "", fmt.Errorf("invalid --ui value %q (expected auto|on|off)", value)
	}
}

// shouldUseTUI decides whether to draw the progress view. Writing the
// trace to stdout or running with --quiet rules it out in auto mode.
func shouldUseTUI(mode uiMode, toStdout, quiet bool) bool {
	switch mode {
	case uiModeOn:
		return !toStdout
	case uiModeOff:
		return false
	default:
		return !toStdout && !quiet && isTerminal(os.Stdout)
	}
}
