// Package mcpserver exposes the conversation controller to MCP clients over
// stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pdfqa/internal/flow"
	"github.com/kalambet/pdfqa/internal/inventory"
	"github.com/kalambet/pdfqa/internal/status"
	"github.com/kalambet/pdfqa/internal/storage"
)

// Deps holds dependencies for the MCP server.
type Deps struct {
	Controller *flow.Controller
	Inventory  *inventory.Cache
	Store      *storage.Store // optional; without it the acquisitions resource is empty
	Version    string
}

// New creates an MCP server with the pdfqa tools and resources registered.
func New(deps Deps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"pdfqa",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pdfqa answers questions from an ingested PDF corpus and can fetch new papers from scholar sources."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_pdfs",
			mcp.WithDescription("Ask a question against the ingested PDF corpus. Returns the answer and its sources, or says that no answer was found."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithNumber("alpha", mcp.Description("Relevance/recency weight in [0,1]")),
			mcp.WithNumber("year", mcp.Description("Only consider papers from this year")),
			mcp.WithNumber("start_year", mcp.Description("Start of a year range (requires end_year)")),
			mcp.WithNumber("end_year", mcp.Description("End of a year range (requires start_year)")),
			mcp.WithNumber("past_years", mcp.Description("Only consider papers from the last N years")),
		),
		askPDFs(deps),
	)

	s.AddTool(
		mcp.NewTool("list_pdfs",
			mcp.WithDescription("List the PDFs in the corpus, optionally filtered by a case-insensitive name substring."),
			mcp.WithString("filter", mcp.Description("Substring to match against PDF names")),
		),
		listPDFs(deps),
	)

	s.AddTool(
		mcp.NewTool("scholar_search",
			mcp.WithDescription("Download candidate PDFs from a scholar source into staging and list them."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("num_pdfs", mcp.Description("How many PDFs to fetch (1-10)")),
			mcp.WithString("source", mcp.Description("All, IEEE, Springer or Arxiv")),
		),
		scholarSearch(deps),
	)

	s.AddTool(
		mcp.NewTool("scholar_ingest",
			mcp.WithDescription("Ingest the named staged candidates into the corpus and discard the rest."),
			mcp.WithArray("names", mcp.Description("Candidate file names to keep"), mcp.Required()),
		),
		scholarIngest(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_session",
			mcp.WithDescription("Forget the conversation and start a new session."),
		),
		resetSession(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"pdfqa://transcript",
			"Transcript",
			mcp.WithResourceDescription("Messages of the current conversation"),
			mcp.WithMIMEType("application/json"),
		),
		resourceTranscript(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"pdfqa://acquisitions",
			"Recent Acquisitions",
			mcp.WithResourceDescription("Last 10 scholar acquisitions and the PDFs they ingested"),
			mcp.WithMIMEType("application/json"),
		),
		resourceAcquisitions(deps),
	)

	return s
}

func filtersFrom(req mcp.CallToolRequest) (flow.Filters, error) {
	args := req.GetArguments()
	has := func(k string) bool {
		_, ok := args[k]
		return ok
	}

	var f flow.Filters
	if has("alpha") {
		f = f.WithAlpha(req.GetFloat("alpha", 0))
	}

	shapes := 0
	if has("year") {
		shapes++
		f = f.WithYear(flow.SingleYear(req.GetInt("year", 0)))
	}
	if has("start_year") || has("end_year") {
		if !has("start_year") || !has("end_year") {
			return flow.Filters{}, errors.New("start_year and end_year must be given together")
		}
		shapes++
		f = f.WithYear(flow.YearRange(req.GetInt("start_year", 0), req.GetInt("end_year", 0)))
	}
	if has("past_years") {
		shapes++
		f = f.WithYear(flow.PastYears(req.GetInt("past_years", 0)))
	}
	if shapes > 1 {
		return flow.Filters{}, errors.New("use only one of year, start_year/end_year, past_years")
	}
	return f, nil
}

func askPDFs(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return mcpError("question is required"), nil
		}
		filters, err := filtersFrom(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		before := len(deps.Controller.Snapshot().Messages)
		if err := deps.Controller.Submit(ctx, question, filters); err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		snap := deps.Controller.Snapshot()
		var b strings.Builder
		for _, m := range snap.Messages[min(before, len(snap.Messages)):] {
			if m.Sender != flow.SenderBot {
				continue
			}
			b.WriteString(m.Content())
			if m.Answer != nil && m.Answer.Source != "" {
				b.WriteString("\n\nSources: ")
				b.WriteString(m.Answer.Source)
			}
		}
		if snap.State == flow.AwaitingScholarConsent {
			b.WriteString("\n\nThe corpus has no answer. Use scholar_search to fetch papers, then scholar_ingest and ask again.")
			// Tools run acquisition directly; close the prompt.
			deps.Controller.ResolveScholarConsent(false)
		}
		return mcpText(strings.TrimSpace(b.String())), nil
	}
}

type pdfResult struct {
	Name   string  `json:"name"`
	SizeKB float64 `json:"size_kb"`
	Date   string  `json:"date"`
}

func listPDFs(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		entries, err := deps.Inventory.Entries(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing pdfs failed: %v", err)), nil
		}
		entries = inventory.Filter(entries, req.GetString("filter", ""))

		results := make([]pdfResult, len(entries))
		for i, e := range entries {
			results[i] = pdfResult{Name: e.Name, SizeKB: e.SizeKB, Date: e.Date.Format(inventory.DateLayout)}
		}
		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal pdfs: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

type candidatesResult struct {
	Query      string   `json:"query"`
	Source     string   `json:"source"`
	Candidates []string `json:"candidates"`
	Notice     string   `json:"notice,omitempty"`
	Status     string   `json:"status,omitempty"`
}

func scholarSearch(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return mcpError("query is required"), nil
		}

		settings := deps.Controller.Settings()
		num := req.GetInt("num_pdfs", settings.NumPDFs)
		src := settings.Source
		if raw := req.GetString("source", ""); raw != "" {
			if src, err = flow.ParseSource(raw); err != nil {
				return mcpError(err.Error()), nil
			}
		}
		if err := deps.Controller.SetScholarOptions(num, src); err != nil {
			return mcpError(err.Error()), nil
		}

		if err := deps.Controller.SearchScholar(ctx, query); err != nil {
			return mcpError(fmt.Sprintf("scholar search failed: %v", err)), nil
		}

		snap := deps.Controller.Snapshot()
		out := candidatesResult{
			Query:      query,
			Source:     string(src),
			Candidates: snap.Candidates,
			Notice:     snap.Notice,
		}
		if r := snap.Status.Result; r != nil {
			out.Status = r.Text
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal candidates: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func scholarIngest(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names := req.GetStringSlice("names", nil)
		if len(names) == 0 {
			return mcpError("names must list at least one candidate"), nil
		}
		if st := deps.Controller.State(); st != flow.ShowingCandidates {
			return mcpError("no candidates staged; run scholar_search first"), nil
		}

		snap := deps.Controller.Snapshot()
		for _, n := range names {
			if snap.IsSelected(n) {
				continue
			}
			if err := deps.Controller.ToggleCandidate(n); err != nil {
				return mcpError(err.Error()), nil
			}
		}
		if err := deps.Controller.Ingest(ctx); err != nil {
			return mcpError(fmt.Sprintf("ingest failed: %v", err)), nil
		}

		result := deps.Controller.Snapshot().Status.Result
		if result == nil {
			return mcpText(fmt.Sprintf("Ingested %d PDF(s).", len(names))), nil
		}
		if result.Kind == status.Error {
			return mcpError(result.Text), nil
		}
		return mcpText(result.Text), nil
	}
}

func resetSession(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Controller.Reset(ctx); err != nil {
			return mcpError(fmt.Sprintf("reset failed: %v", err)), nil
		}
		return mcpText("Conversation reset."), nil
	}
}

type transcriptEntry struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Source    string `json:"source,omitempty"`
	Model     string `json:"model,omitempty"`
	Timestamp string `json:"timestamp"`
}

func resourceTranscript(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		msgs := deps.Controller.Snapshot().Messages
		entries := make([]transcriptEntry, len(msgs))
		for i, m := range msgs {
			e := transcriptEntry{
				ID:        m.ID,
				Sender:    string(m.Sender),
				Text:      m.Content(),
				Model:     m.Model,
				Timestamp: m.Timestamp.Format(time.RFC3339),
			}
			if m.Answer != nil {
				e.Source = m.Answer.Source
			}
			entries[i] = e
		}
		return jsonResource(req.Params.URI, entries)
	}
}

type acquisitionSummary struct {
	Origin    string   `json:"origin"`
	Query     string   `json:"query"`
	Source    string   `json:"source"`
	Ingested  []string `json:"ingested"`
	CreatedAt string   `json:"created_at"`
}

func resourceAcquisitions(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries := []acquisitionSummary{}
		if deps.Store != nil {
			acqs, err := deps.Store.RecentAcquisitions(10)
			if err != nil {
				return nil, fmt.Errorf("failed to get recent acquisitions: %w", err)
			}
			for _, a := range acqs {
				summaries = append(summaries, acquisitionSummary{
					Origin:    a.Origin,
					Query:     a.Query,
					Source:    a.Source,
					Ingested:  a.Ingested,
					CreatedAt: a.CreatedAt.Format(time.RFC3339),
				})
			}
		}
		return jsonResource(req.Params.URI, summaries)
	}
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
