// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders terminal output for the neuroatlas CLI.
//
// Styled output is only used when stdout is a terminal; pipes and
// redirects get plain text so the CLI stays script-friendly.
package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Icon is a small glyph prefix for a line of output.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconError   Icon = "✗"
	IconWarning Icon = "!"
	IconInfo    Icon = "·"
)

// Styles holds the lipgloss styles for CLI output.
type Styles struct {
	Title   lipgloss.Style
	Label   lipgloss.Style
	Value   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
}

func defaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Label:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Value:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

// Printer writes styled or plain output depending on the destination.
type Printer struct {
	styles Styles
	plain  bool
}

// NewPrinter creates a printer for stdout, falling back to plain text
// when stdout is not a terminal.
func NewPrinter() *Printer {
	fd := os.Stdout.Fd()
	plain := !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
	return &Printer{styles: defaultStyles(), plain: plain}
}

// NewPlainPrinter creates a printer that never styles. Used in tests
// and when --no-color is set.
func NewPlainPrinter() *Printer {
	return &Printer{styles: defaultStyles(), plain: true}
}

// Title renders a section heading.
func (p *Printer) Title(text string) string {
	if p.plain {
		return text
	}
	return p.styles.Title.Render(text)
}

// KV renders an aligned "label: value" line.
func (p *Printer) KV(label string, value any) string {
	val := fmt.Sprintf("%v", value)
	if p.plain {
		return fmt.Sprintf("  %-18s %s", label+":", val)
	}
	return fmt.Sprintf("  %s %s",
		p.styles.Label.Render(fmt.Sprintf("%-18s", label+":")),
		p.styles.Value.Render(val))
}

// Line renders an icon-prefixed status line.
func (p *Printer) Line(icon Icon, text string) string {
	if p.plain {
		return fmt.Sprintf("%s %s", icon, text)
	}
	var style lipgloss.Style
	switch icon {
	case IconSuccess:
		style = p.styles.Success
	case IconError:
		style = p.styles.Error
	case IconWarning:
		style = p.styles.Warning
	default:
		style = p.styles.Muted
	}
	return fmt.Sprintf("%s %s", style.Render(string(icon)), text)
}

// Block joins lines into a printable block ending with a newline.
func Block(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}
