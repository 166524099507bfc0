package main

import "github.com/charmbracelet/lipgloss"

var (
	nameStyle    = lipgloss.NewStyle().Bold(true)
	modeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	unreadStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	contextStyle = lipgloss.NewStyle().Faint(true).Italic(true)
)
