package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/pdfqa/internal/flow"
	"github.com/kalambet/pdfqa/internal/storage"
)

const defaultAcquisitionLimit = 20

type historyMessage struct {
	Time   time.Time `yaml:"time"`
	Sender string    `yaml:"sender"`
	Model  string    `yaml:"model,omitempty"`
	Text   string    `yaml:"text"`
	Source string    `yaml:"source,omitempty"`
}

type historyAcquisition struct {
	Time     time.Time `yaml:"time"`
	Origin   string    `yaml:"origin"`
	Query    string    `yaml:"query"`
	Question string    `yaml:"question,omitempty"`
	Source   string    `yaml:"source"`
	NumPDFs  int       `yaml:"num_pdfs"`
	Ingested []string  `yaml:"ingested"`
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the conversation transcript or recent acquisitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			limit, _ := cmd.Flags().GetInt("limit")
			acqs, _ := cmd.Flags().GetBool("acquisitions")
			if format != "text" && format != "yaml" {
				return fmt.Errorf("unknown format %q (want text or yaml)", format)
			}

			return withApp(func(a *app) error {
				w := cmd.OutOrStdout()
				if acqs {
					n := limit
					if n <= 0 {
						n = defaultAcquisitionLimit
					}
					list, err := a.store.RecentAcquisitions(n)
					if err != nil {
						return fmt.Errorf("loading acquisitions: %w", err)
					}
					return writeAcquisitions(w, list, format)
				}
				msgs, err := a.store.Messages(limit)
				if err != nil {
					return fmt.Errorf("loading transcript: %w", err)
				}
				return writeMessages(w, msgs, format)
			})
		},
	}
	cmd.Flags().String("format", "text", "output format: text or yaml")
	cmd.Flags().Int("limit", 0, "show only the most recent N entries")
	cmd.Flags().Bool("acquisitions", false, "show recent scholar acquisitions instead")
	return cmd
}

func writeMessages(w io.Writer, msgs []storage.Message, format string) error {
	if format == "yaml" {
		out := make([]historyMessage, len(msgs))
		for i, m := range msgs {
			text := m.Text
			if m.Structured {
				text = m.Answer
			}
			out[i] = historyMessage{Time: m.CreatedAt.UTC(), Sender: m.Sender, Model: m.Model, Text: text, Source: m.Source}
		}
		return encodeYAML(w, out)
	}

	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return nil
	}
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] ", m.CreatedAt.Local().Format(time.DateTime))
		printMessage(w, storageToFlow(m))
	}
	return nil
}

func writeAcquisitions(w io.Writer, list []storage.Acquisition, format string) error {
	if format == "yaml" {
		out := make([]historyAcquisition, len(list))
		for i, a := range list {
			out[i] = historyAcquisition{
				Time:     a.CreatedAt.UTC(),
				Origin:   a.Origin,
				Query:    a.Query,
				Question: a.Question,
				Source:   a.Source,
				NumPDFs:  a.NumPDFs,
				Ingested: a.Ingested,
			}
		}
		return encodeYAML(w, out)
	}

	if len(list) == 0 {
		fmt.Fprintln(w, "No acquisitions.")
		return nil
	}
	for _, a := range list {
		fmt.Fprintf(w, "[%s] %s %q via %s ×%d\n", a.CreatedAt.Local().Format(time.DateTime), a.Origin, a.Query, a.Source, a.NumPDFs)
		if a.Question != "" {
			printStatus(w, "question", "%s", a.Question)
		}
		printStatus(w, "ingested", "%s", strings.Join(a.Ingested, ", "))
	}
	return nil
}

func encodeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding yaml: %w", err)
	}
	return enc.Close()
}

func storageToFlow(m storage.Message) flow.Message {
	fm := flow.Message{Sender: flow.Sender(m.Sender), Text: m.Text, Model: m.Model, Timestamp: m.CreatedAt}
	if m.Structured {
		fm.Answer = &flow.Answer{Answer: m.Answer, Source: m.Source}
	}
	return fm
}
