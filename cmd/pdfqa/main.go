package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		printError(os.Stderr, "%v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	var noColor bool
	cmd := &cobra.Command{
		Use:   "pdfqa",
		Short: "Ask questions about a PDF corpus from the terminal",
		Long: `pdfqa talks to a PDF question-answering backend. Ask questions against the
ingested corpus, fetch new papers from scholar sources when the corpus has no
answer, and manage the PDFs the backend knows about.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newResetCmd())
	cmd.AddCommand(newPDFsCmd())
	cmd.AddCommand(newScholarCmd())
	cmd.AddCommand(newWikiCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newStubBackendCmd())
	return cmd
}
