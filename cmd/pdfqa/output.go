package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/kalambet/pdfqa/internal/flow"
	"github.com/kalambet/pdfqa/internal/status"
)

var (
	successColor = color.New(color.FgGreen)
	errorColor   = color.New(color.FgRed)
	warningColor = color.New(color.FgYellow)
	stepColor    = color.New(color.FgCyan)
	boldColor    = color.New(color.Bold)
	userColor    = color.New(color.FgHiCyan, color.Bold)
	botColor     = color.New(color.FgHiMagenta, color.Bold)
)

func printSuccess(w io.Writer, format string, args ...any) {
	successColor.Fprintln(w, "✓ "+fmt.Sprintf(format, args...))
}

func printError(w io.Writer, format string, args ...any) {
	errorColor.Fprintln(w, "✗ "+fmt.Sprintf(format, args...))
}

func printWarning(w io.Writer, format string, args ...any) {
	warningColor.Fprintln(w, "⚠ "+fmt.Sprintf(format, args...))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	fmt.Fprintf(w, "  %s %s\n", boldColor.Sprint(label+":"), fmt.Sprintf(format, args...))
}

func printStep(w io.Writer, format string, args ...any) {
	stepColor.Fprintln(w, "→ "+fmt.Sprintf(format, args...))
}

// printResult prints a status flash as a success or error line.
func printResult(w io.Writer, r *status.Result) {
	if r == nil {
		return
	}
	if r.Kind == status.Error {
		printError(w, "%s", r.Text)
		return
	}
	printSuccess(w, "%s", r.Text)
}

// printMessage writes one transcript entry. Sources go on their own line.
func printMessage(w io.Writer, m flow.Message) {
	if m.Sender == flow.SenderUser {
		fmt.Fprintf(w, "%s %s\n", userColor.Sprint("You:"), m.Text)
		return
	}
	label := "Bot"
	if m.Model != "" {
		label += " (" + m.Model + ")"
	}
	fmt.Fprintf(w, "%s %s\n", botColor.Sprint(label+":"), strings.TrimSpace(m.Content()))
	if m.Answer != nil && m.Answer.Source != "" {
		fmt.Fprintf(w, "%s %s\n", boldColor.Sprint("Sources:"), m.Answer.Source)
	}
}
