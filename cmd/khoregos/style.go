package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// isTerminal mirrors the teacher's cmd/goclaw/main.go check
// (isatty.IsTerminal(os.Stdout.Fd())): styled output only when stdout is a
// real terminal, so piping `khoregos report` output to a file or another
// tool never embeds ANSI escapes.
var isTerminal = isatty.IsTerminal(os.Stdout.Fd())

var (
	criticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	goodStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	badStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
)

func styleSeverity(severity string) string {
	if !isTerminal {
		return severity
	}
	switch severity {
	case "critical":
		return criticalStyle.Render(severity)
	case "warning":
		return warningStyle.Render(severity)
	default:
		return infoStyle.Render(severity)
	}
}

func styleBool(label string, ok bool) string {
	if !isTerminal {
		return label
	}
	if ok {
		return goodStyle.Render(label)
	}
	return badStyle.Render(label)
}
