package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/pdfqa/internal/mcpserver"
	"github.com/kalambet/pdfqa/internal/stubbackend"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the corpus to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol; setup logs to stderr.
			return withApp(func(a *app) error {
				s := mcpserver.New(mcpserver.Deps{
					Controller: a.ctrl,
					Inventory:  a.inv,
					Store:      a.store,
					Version:    version,
				})
				a.logger.Info("MCP server started (stdio transport)")
				stdio := server.NewStdioServer(s)
				if err := stdio.Listen(cmd.Context(), os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("mcp stdio server: %w", err)
				}
				return nil
			})
		},
	}
}

func newStubBackendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stub-backend",
		Short: "Run an in-memory backend for local development",
		Long: `Run an in-memory backend that speaks the same HTTP API as the real one.
Answers are canned, scholar downloads are fabricated and nothing is persisted.

Example:
  pdfqa stub-backend --addr 127.0.0.1:8000 --pdf Vaswani__2017__Attention.pdf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			docs, _ := cmd.Flags().GetStringSlice("pdf")
			level, _ := cmd.Flags().GetString("log-level")
			return serveStub(cmd.Context(), addr, docs, level)
		},
	}
	cmd.Flags().String("addr", "127.0.0.1:8000", "listen address")
	cmd.Flags().StringSlice("pdf", nil, "seed the inventory with these file names")
	cmd.Flags().String("log-level", "info", "log level")
	return cmd
}

func serveStub(ctx context.Context, addr string, docs []string, level string) error {
	logger := newLogger(os.Stderr, level)
	stub := stubbackend.New(stubbackend.WithLogger(logger), stubbackend.WithDocuments(docs...))

	srv := &http.Server{
		Addr:    addr,
		Handler: stub.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "stub backend listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
