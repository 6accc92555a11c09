package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kalambet/pdfqa/internal/flow"
	"github.com/kalambet/pdfqa/internal/inventory"
	"github.com/kalambet/pdfqa/internal/upload"
)

const helpText = `/scholar <query>       fetch candidate PDFs from scholar sources
/source <name> [count] set scholar source (All, IEEE, Springer, Arxiv) and count
/model <name>          switch model (` + "4o, 4o-mini, o1, o1-mini, o3-mini" + `)
/filter alpha=<0..1> year=<y> | years=<from>-<to> | past=<n>
/filter clear          drop query filters
/pdfs [text]           list ingested PDFs
/delete <name>         delete an ingested PDF
/upload <path>...      upload local PDFs
/reset                 start a new conversation`

var errUnavailable = errors.New("not available in this session")

// command runs a slash command typed into the input.
func (m Model) command(input string) (tea.Model, tea.Cmd) {
	name, rest, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	rest = strings.TrimSpace(rest)
	m.info = ""

	switch name {
	case "help":
		m.info = helpText
		m.layout()
		return m, nil

	case "reset":
		return m.run("reset", m.ctrl.Reset)

	case "scholar":
		if rest == "" {
			m.err = errors.New("usage: /scholar <query>")
			return m, nil
		}
		return m.run("scholar", func(ctx context.Context) error { return m.ctrl.SearchScholar(ctx, rest) })

	case "model":
		return m.sync("model", func() error { return m.ctrl.SetModel(rest) })

	case "source":
		return m.sync("source", func() error { return m.setSource(rest) })

	case "filter":
		f, err := parseFilters(rest)
		if err == nil {
			err = f.Validate(time.Now())
		}
		if err != nil {
			m.err = opError("filter", err)
			return m, nil
		}
		m.filters = f
		m.layout()
		return m, nil

	case "pdfs":
		return m.listPDFs(rest)

	case "delete":
		return m.deletePDF(rest)

	case "upload":
		return m.uploadPDFs(strings.Fields(rest))
	}

	m.err = fmt.Errorf("unknown command /%s, try /help", name)
	return m, nil
}

func (m Model) setSource(args string) error {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return errors.New("usage: /source <name> [count]")
	}
	src, err := flow.ParseSource(fields[0])
	if err != nil {
		return err
	}
	n := m.ctrl.Settings().NumPDFs
	if len(fields) == 2 {
		if n, err = strconv.Atoi(fields[1]); err != nil {
			return fmt.Errorf("count %q is not a number", fields[1])
		}
	}
	return m.ctrl.SetScholarOptions(n, src)
}

// parseFilters reads space-separated key=value pairs. An empty string or
// "clear" yields no filters.
func parseFilters(s string) (flow.Filters, error) {
	var f flow.Filters
	if s == "" || s == "clear" {
		return f, nil
	}
	for _, kv := range strings.Fields(s) {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return flow.Filters{}, fmt.Errorf("expected key=value, got %q", kv)
		}
		switch key {
		case "alpha":
			a, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return flow.Filters{}, fmt.Errorf("alpha %q is not a number", val)
			}
			f = f.WithAlpha(a)
		case "year":
			y, err := strconv.Atoi(val)
			if err != nil {
				return flow.Filters{}, fmt.Errorf("year %q is not a number", val)
			}
			f = f.WithYear(flow.SingleYear(y))
		case "years":
			from, to, ok := strings.Cut(val, "-")
			start, err1 := strconv.Atoi(from)
			end, err2 := strconv.Atoi(to)
			if !ok || err1 != nil || err2 != nil {
				return flow.Filters{}, fmt.Errorf("years %q must look like 2018-2021", val)
			}
			f = f.WithYear(flow.YearRange(start, end))
		case "past":
			n, err := strconv.Atoi(val)
			if err != nil {
				return flow.Filters{}, fmt.Errorf("past %q is not a number", val)
			}
			f = f.WithYear(flow.PastYears(n))
		default:
			return flow.Filters{}, fmt.Errorf("unknown filter %q", key)
		}
	}
	return f, nil
}

func (m Model) listPDFs(query string) (tea.Model, tea.Cmd) {
	inv := m.opts.Inventory
	if inv == nil {
		m.err = opError("pdfs", errUnavailable)
		return m, nil
	}
	pdfURL := m.opts.PDFURL
	ctx := m.ctx
	m.inFlight++
	return m, func() tea.Msg {
		entries, err := inv.Refresh(ctx)
		if err != nil {
			return opDoneMsg{op: "pdfs", err: opError("pdfs", err)}
		}
		entries = inventory.Filter(entries, query)
		if len(entries) == 0 {
			return infoMsg("No PDFs.")
		}
		var b strings.Builder
		for i, e := range entries {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%s  %.1f KB  %s", e.Name, e.SizeKB, e.Date.Format(inventory.DateLayout))
			if pdfURL != nil {
				b.WriteString("  " + pdfURL(e.Name))
			}
		}
		return infoMsg(b.String())
	}
}

func (m Model) deletePDF(name string) (tea.Model, tea.Cmd) {
	inv := m.opts.Inventory
	if inv == nil {
		m.err = opError("delete", errUnavailable)
		return m, nil
	}
	if name == "" {
		m.err = errors.New("usage: /delete <name>")
		return m, nil
	}
	ctx := m.ctx
	m.inFlight++
	return m, func() tea.Msg {
		ok, err := inv.Delete(ctx, name)
		if err != nil {
			return opDoneMsg{op: "delete", err: opError("delete", err)}
		}
		if !ok {
			return infoMsg("Delete of " + name + " was not confirmed.")
		}
		return infoMsg("PDF deleted successfully")
	}
}

func (m Model) uploadPDFs(paths []string) (tea.Model, tea.Cmd) {
	up := m.opts.Uploader
	if up == nil {
		m.err = opError("upload", errUnavailable)
		return m, nil
	}
	if len(paths) == 0 {
		m.err = errors.New("usage: /upload <path>...")
		return m, nil
	}
	ctx := m.ctx
	m.inFlight++
	return m, func() tea.Msg {
		results := up.UploadAll(ctx, paths)
		lines := make([]string, 0, len(results))
		for _, r := range results {
			if r.Err != nil {
				lines = append(lines, fmt.Sprintf("%s: %s", r.Name, upload.ErrorText(r.Err)))
				continue
			}
			lines = append(lines, fmt.Sprintf("%s (%d pages): %s", r.Name, r.Pages, r.Message))
		}
		return infoMsg(strings.Join(lines, "\n"))
	}
}
