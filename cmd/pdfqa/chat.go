package main

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kalambet/pdfqa/internal/tui"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Open the interactive chat",
		Long: `Open the interactive chat. The conversation continues where the last
one ended until you run /reset. Logs go to log.file since the chat owns
the terminal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			logFile := &lumberjack.Logger{
				Filename:   cfg.LogFile(),
				MaxSize:    10, // megabytes
				MaxBackups: 5,
				MaxAge:     30, // days
			}
			defer logFile.Close()

			a, err := openApp(cfg, newLogger(logFile, cfg.Log.Level))
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			m := tui.New(ctx, a.ctrl, tui.Options{
				Inventory: a.inv,
				Uploader:  a.uploader,
				PDFURL:    a.client.PDFURL,
			})
			p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil {
				if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("running chat: %w", err)
			}
			return nil
		},
	}
}
