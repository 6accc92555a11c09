package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/pdfqa/internal/config"
	"github.com/kalambet/pdfqa/internal/flow"
	"github.com/kalambet/pdfqa/internal/inventory"
	"github.com/kalambet/pdfqa/internal/upload"
)

// withApp runs fn against a freshly opened app and closes it afterwards.
func withApp(fn func(a *app) error) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// --- ask ---

func newAskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question against the PDF corpus",
		Long: `Ask a question against the PDF corpus.

Examples:
  pdfqa ask "what is multi-head attention"
  pdfqa ask --alpha 0.3 --years 2018-2021 "graph neural networks for molecules"
  pdfqa ask --past 2 "diffusion models"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := filtersFromFlags(cmd)
			if err != nil {
				return err
			}
			question := strings.Join(args, " ")

			return withApp(func(a *app) error {
				a.echoStatus(cmd.ErrOrStderr())
				before := len(a.ctrl.Snapshot().Messages)
				if err := a.ctrl.Submit(cmd.Context(), question, filters); err != nil {
					return err
				}

				snap := a.ctrl.Snapshot()
				for _, m := range snap.Messages[min(before, len(snap.Messages)):] {
					if m.Sender == flow.SenderBot {
						printMessage(cmd.OutOrStdout(), m)
					}
				}
				if snap.State == flow.AwaitingScholarConsent {
					printWarning(cmd.ErrOrStderr(), "The corpus has no answer. Fetch papers with: pdfqa scholar search %q --all", question)
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64("alpha", 0, "relevance/recency weight in [0,1]")
	cmd.Flags().Int("year", 0, "only papers from this year")
	cmd.Flags().String("years", "", "only papers from a range, e.g. 2018-2021")
	cmd.Flags().Int("past", 0, "only papers from the last N years")
	cmd.MarkFlagsMutuallyExclusive("year", "years", "past")
	return cmd
}

func filtersFromFlags(cmd *cobra.Command) (flow.Filters, error) {
	var f flow.Filters
	flags := cmd.Flags()
	if flags.Changed("alpha") {
		a, _ := flags.GetFloat64("alpha")
		f = f.WithAlpha(a)
	}
	switch {
	case flags.Changed("year"):
		y, _ := flags.GetInt("year")
		f = f.WithYear(flow.SingleYear(y))
	case flags.Changed("years"):
		s, _ := flags.GetString("years")
		from, to, ok := strings.Cut(s, "-")
		start, err1 := strconv.Atoi(strings.TrimSpace(from))
		end, err2 := strconv.Atoi(strings.TrimSpace(to))
		if !ok || err1 != nil || err2 != nil {
			return flow.Filters{}, fmt.Errorf("--years %q must look like 2018-2021", s)
		}
		f = f.WithYear(flow.YearRange(start, end))
	case flags.Changed("past"):
		n, _ := flags.GetInt("past")
		f = f.WithYear(flow.PastYears(n))
	}
	if err := f.Validate(time.Now()); err != nil {
		return flow.Filters{}, err
	}
	return f, nil
}

// --- reset ---

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget the conversation and start a new session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				if err := a.ctrl.Reset(cmd.Context()); err != nil {
					return err
				}
				printSuccess(cmd.OutOrStdout(), "Conversation reset")
				return nil
			})
		},
	}
}

// --- pdfs ---

func newPDFsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdfs",
		Short: "Manage the PDFs in the corpus",
	}

	list := &cobra.Command{
		Use:   "list [filter]",
		Short: "List ingested PDFs, optionally filtered by name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showURLs, _ := cmd.Flags().GetBool("urls")
			return withApp(func(a *app) error {
				entries, err := a.inv.Refresh(cmd.Context())
				if err != nil {
					return fmt.Errorf("listing pdfs: %w", err)
				}
				if len(args) == 1 {
					entries = inventory.Filter(entries, args[0])
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No PDFs.")
					return nil
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				header := "NAME\tSIZE\tINGESTED"
				if showURLs {
					header += "\tURL"
				}
				fmt.Fprintln(tw, header)
				for _, e := range entries {
					row := fmt.Sprintf("%s\t%.1f KB\t%s", e.Name, e.SizeKB, e.Date.Format(inventory.DateLayout))
					if showURLs {
						row += "\t" + a.client.PDFURL(e.Name)
					}
					fmt.Fprintln(tw, row)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().Bool("urls", false, "include the view link of each PDF")

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an ingested PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				ok, err := a.inv.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					printWarning(cmd.ErrOrStderr(), "The backend did not confirm deleting %s", args[0])
					return nil
				}
				printSuccess(cmd.OutOrStdout(), "PDF deleted successfully")
				return nil
			})
		},
	}

	up := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Upload local PDFs named Author__Year__Title.pdf",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				results := a.uploader.UploadAll(cmd.Context(), args)
				failed := 0
				for _, r := range results {
					if r.Err != nil {
						failed++
						printError(cmd.ErrOrStderr(), "%s: %s", r.Name, upload.ErrorText(r.Err))
						continue
					}
					printSuccess(cmd.OutOrStdout(), "%s (%d pages): %s", r.Name, r.Pages, r.Message)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d uploads failed", failed, len(results))
				}
				return nil
			})
		},
	}

	url := &cobra.Command{
		Use:   "url <name>",
		Short: "Print the view link of a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.client.PDFURL(args[0]))
				return nil
			})
		},
	}

	cmd.AddCommand(list, del, up, url)
	return cmd
}

// --- scholar ---

func newScholarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scholar",
		Short: "Fetch papers from scholar sources",
	}

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Download candidate PDFs and optionally ingest some of them",
		Long: `Download candidate PDFs for a query into staging and list them. With
--select or --all the chosen candidates are ingested and the rest discarded.

Examples:
  pdfqa scholar search "graph kernels"
  pdfqa scholar search --source arxiv --num 5 "protein folding" --select 1,3
  pdfqa scholar search "diffusion models" --all`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			selectArgs, _ := cmd.Flags().GetStringSlice("select")
			all, _ := cmd.Flags().GetBool("all")
			query := strings.Join(args, " ")

			return withApp(func(a *app) error {
				if err := applyScholarFlags(cmd, a.ctrl); err != nil {
					return err
				}
				a.echoStatus(cmd.ErrOrStderr())

				if err := a.ctrl.SearchScholar(cmd.Context(), query); err != nil {
					return err
				}
				snap := a.ctrl.Snapshot()
				printResult(cmd.ErrOrStderr(), snap.Status.Result)
				if len(snap.Candidates) == 0 {
					if snap.Notice != "" {
						printWarning(cmd.ErrOrStderr(), "%s", snap.Notice)
					}
					return a.ctrl.Dismiss()
				}

				fmt.Fprintf(cmd.OutOrStdout(), "Candidates for %q:\n", query)
				for i, name := range snap.Candidates {
					fmt.Fprintf(cmd.OutOrStdout(), "  %d. %s\n", i+1, name)
				}

				chosen, err := chooseCandidates(snap.Candidates, selectArgs, all)
				if err != nil {
					a.ctrl.Dismiss()
					return err
				}
				if len(chosen) == 0 {
					printStep(cmd.ErrOrStderr(), "Re-run with --select or --all to ingest candidates")
					return a.ctrl.Dismiss()
				}
				for _, name := range chosen {
					if err := a.ctrl.ToggleCandidate(name); err != nil {
						return err
					}
				}
				if err := a.ctrl.Ingest(cmd.Context()); err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), a.status.Snapshot().Result)
				return nil
			})
		},
	}
	search.Flags().Int("num", 0, "how many PDFs to fetch (1-10, default from config)")
	search.Flags().String("source", "", "All, IEEE, Springer or Arxiv (default from config)")
	search.Flags().StringSlice("select", nil, "candidates to ingest, by name or 1-based number")
	search.Flags().Bool("all", false, "ingest every candidate")
	search.MarkFlagsMutuallyExclusive("select", "all")

	cmd.AddCommand(search)
	return cmd
}

func applyScholarFlags(cmd *cobra.Command, ctrl *flow.Controller) error {
	s := ctrl.Settings()
	n, src := s.NumPDFs, s.Source
	if cmd.Flags().Changed("num") {
		n, _ = cmd.Flags().GetInt("num")
	}
	if cmd.Flags().Changed("source") {
		name, _ := cmd.Flags().GetString("source")
		var err error
		if src, err = flow.ParseSource(name); err != nil {
			return err
		}
	}
	return ctrl.SetScholarOptions(n, src)
}

// chooseCandidates resolves --select entries, which are names or 1-based
// positions, against the candidate list.
func chooseCandidates(candidates, sel []string, all bool) ([]string, error) {
	if all {
		return candidates, nil
	}
	seen := map[string]bool{}
	var out []string
	for _, s := range sel {
		s = strings.TrimSpace(s)
		name := s
		if i, err := strconv.Atoi(s); err == nil {
			if i < 1 || i > len(candidates) {
				return nil, fmt.Errorf("candidate %d is out of range 1-%d", i, len(candidates))
			}
			name = candidates[i-1]
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

// --- wiki ---

func newWikiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wiki",
		Short: "Find or extend wiki articles with the last answer",
	}

	articles := &cobra.Command{
		Use:   "articles [text]",
		Short: "List wiki articles related to text or the last answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				text, err := wikiText(a, args)
				if err != nil {
					return err
				}
				titles, err := a.client.WikiArticles(cmd.Context(), text, a.ctrl.Settings().Model)
				if err != nil {
					return fmt.Errorf("searching wiki: %w", err)
				}
				if len(titles) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No articles.")
					return nil
				}
				for _, t := range titles {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			})
		},
	}

	add := &cobra.Command{
		Use:   "add <title> [text]",
		Short: "Add text or the last answer to a wiki article",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				text, err := wikiText(a, args[1:])
				if err != nil {
					return err
				}
				msg, err := a.client.AddToWiki(cmd.Context(), args[0], text, a.ctrl.Settings().Model)
				if err != nil {
					return fmt.Errorf("adding to wiki: %w", err)
				}
				printSuccess(cmd.OutOrStdout(), "%s", msg)
				return nil
			})
		},
	}

	cmd.AddCommand(articles, add)
	return cmd
}

func wikiText(a *app, args []string) (string, error) {
	if text := strings.TrimSpace(strings.Join(args, " ")); text != "" {
		return text, nil
	}
	if buf := a.ctrl.AnswerBuffer(); buf != "" {
		return buf, nil
	}
	return "", errors.New("no answer to use yet: ask a question first or pass the text")
}

// --- config ---

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or update configuration",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, k := range config.ShowAll(cfg) {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", boldColor.Sprint(k.Key), k.Value)
			}
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := config.SetKey(key, value); err != nil {
				return err
			}
			printSuccess(cmd.OutOrStdout(), "Set %s = %s", key, value)
			return nil
		},
	}

	cmd.AddCommand(show, set)
	return cmd
}
