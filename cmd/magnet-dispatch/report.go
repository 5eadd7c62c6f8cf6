// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/prithivirajasingh/public-files/dispatch"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	nameStyle    = lipgloss.NewStyle().Bold(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// render prints one line per outcome. Without color the line is exactly
// Outcome.String prefixed with "ok" or "FAIL".
func render(w io.Writer, outcomes []dispatch.Outcome, color bool) {
	for _, outcome := range outcomes {
		if !color {
			status := "ok  "
			if !outcome.Success {
				status = "FAIL"
			}
			fmt.Fprintf(w, "%s %s\n", status, outcome)
			continue
		}

		marker := successStyle.Render("✓")
		detail := outcome.Detail
		if !outcome.Success {
			marker = failureStyle.Render("✗")
		} else {
			detail = detailStyle.Render(detail)
		}
		fmt.Fprintf(w, "%s %s %s\n", marker, nameStyle.Render(outcome.Backend+":"), detail)
	}
}

// report renders outcomes and turns any failure into exit status 1.
func report(env environment, outcomes []dispatch.Outcome) error {
	render(env.stdout, outcomes, env.color)
	if dispatch.Failed(outcomes) {
		return &exitError{code: 1}
	}
	return nil
}
