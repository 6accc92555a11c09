// Package tui is the interactive chat front end. It holds no conversation
// state of its own: every frame is drawn from a controller snapshot, and every
// key either edits the input or calls a controller operation.
package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"github.com/kalambet/pdfqa/internal/flow"
	"github.com/kalambet/pdfqa/internal/inventory"
	"github.com/kalambet/pdfqa/internal/status"
	"github.com/kalambet/pdfqa/internal/upload"
)

// Controller is the part of flow.Controller the UI drives.
type Controller interface {
	Snapshot() flow.Snapshot
	Settings() flow.Settings
	Status() *status.Channel

	Submit(ctx context.Context, question string, filters flow.Filters) error
	ResolveSatisfaction(satisfied bool) error
	ResolveScholarConsent(consent bool) error
	ResolveRephrase(ctx context.Context, rephrase bool) error
	SubmitRephrased(ctx context.Context, text string) error
	SearchScholar(ctx context.Context, query string) error
	ToggleCandidate(name string) error
	DownloadMore(ctx context.Context) error
	Ingest(ctx context.Context) error
	Dismiss() error
	Reset(ctx context.Context) error
	SetModel(model string) error
	SetScholarOptions(numPDFs int, src flow.Source) error
}

// Options are the optional collaborators of the chat UI.
type Options struct {
	Inventory *inventory.Cache
	Uploader  *upload.Uploader
	// PDFURL builds the view link for an inventory entry.
	PDFURL func(name string) string
	// Style is the glamour style name; empty selects one from the terminal.
	Style string
}

type opDoneMsg struct {
	op  string
	err error
}

type statusMsg struct{}

type infoMsg string

// Model is the bubbletea model for the chat screen.
type Model struct {
	ctrl    Controller
	opts    Options
	ctx     context.Context
	changes chan struct{}

	snap     flow.Snapshot
	filters  flow.Filters
	cursor   int
	inFlight int
	info     string
	err      error

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer

	width  int
	height int
}

// New builds the chat model and subscribes to the controller's status
// channel.
func New(ctx context.Context, ctrl Controller, opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask a question, or /help"
	ta.Focus()
	ta.CharLimit = 0
	ta.ShowLineNumbers = false
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.KeyMap.InsertNewline.SetEnabled(false)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	m := Model{
		ctrl:     ctrl,
		opts:     opts,
		ctx:      ctx,
		changes:  make(chan struct{}, 1),
		textarea: ta,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		width:    80,
		height:   30,
	}
	m.renderer = newRenderer(opts.Style, m.width)

	ch := m.changes
	ctrl.Status().OnChange(func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	m.refresh()
	return m
}

func newRenderer(style string, width int) *glamour.TermRenderer {
	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(max(width-4, 20)))
	if err != nil {
		return nil
	}
	return r
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.waitForStatus(), m.spinner.Tick)
}

// waitForStatus blocks until the status channel reports a change.
func (m Model) waitForStatus() tea.Cmd {
	ch := m.changes
	return func() tea.Msg {
		<-ch
		return statusMsg{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(msg.Width, 20)
		m.height = max(msg.Height, 10)
		m.textarea.SetWidth(m.width - 4)
		m.renderer = newRenderer(m.opts.Style, m.width)
		m.layout()
		return m, nil

	case statusMsg:
		m.refresh()
		return m, m.waitForStatus()

	case opDoneMsg:
		m.inFlight--
		if msg.err != nil {
			m.err = msg.err
		}
		m.refresh()
		return m, nil

	case infoMsg:
		m.inFlight--
		m.info = string(msg)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	m.err = nil
	state := m.snap.State

	if state.Busy() {
		return m, nil
	}

	empty := strings.TrimSpace(m.textarea.Value()) == ""
	switch state {
	case flow.AwaitingSatisfaction, flow.AwaitingScholarConsent:
		if empty && (key == "y" || key == "n") {
			return m.resolvePrompt(state, key == "y")
		}
	case flow.AwaitingRephraseConsent:
		if empty && (key == "y" || key == "n") {
			yes := key == "y"
			return m.run("rephrase", func(ctx context.Context) error { return m.ctrl.ResolveRephrase(ctx, yes) })
		}
	case flow.AwaitingRephraseText:
		switch key {
		case "esc":
			return m.sync("dismiss", m.ctrl.Dismiss)
		case "enter":
			text := m.textarea.Value()
			m.textarea.Reset()
			return m.run("rephrase", func(ctx context.Context) error { return m.ctrl.SubmitRephrased(ctx, text) })
		}
	case flow.ShowingCandidates:
		return m.handleCandidateKey(key)
	}

	if key == "enter" {
		input := strings.TrimSpace(m.textarea.Value())
		m.textarea.Reset()
		if strings.HasPrefix(input, "/") {
			return m.command(input)
		}
		filters := m.filters
		return m.run("ask", func(ctx context.Context) error { return m.ctrl.Submit(ctx, input, filters) })
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m Model) resolvePrompt(state flow.State, yes bool) (tea.Model, tea.Cmd) {
	if state == flow.AwaitingSatisfaction {
		return m.sync("satisfaction", func() error { return m.ctrl.ResolveSatisfaction(yes) })
	}
	return m.sync("consent", func() error { return m.ctrl.ResolveScholarConsent(yes) })
}

func (m Model) handleCandidateKey(key string) (tea.Model, tea.Cmd) {
	cands := m.snap.Candidates
	switch key {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(cands)-1 {
			m.cursor++
		}
	case " ", "x":
		if m.cursor < len(cands) {
			name := cands[m.cursor]
			return m.sync("toggle", func() error { return m.ctrl.ToggleCandidate(name) })
		}
	case "enter":
		return m.run("ingest", m.ctrl.Ingest)
	case "m":
		return m.run("download more", m.ctrl.DownloadMore)
	case "esc":
		return m.sync("dismiss", m.ctrl.Dismiss)
	}
	m.layout()
	return m, nil
}

// sync applies a non-blocking controller operation immediately.
func (m Model) sync(op string, fn func() error) (tea.Model, tea.Cmd) {
	if err := fn(); err != nil {
		m.err = opError(op, err)
	}
	m.refresh()
	return m, nil
}

// run starts a network-bound controller operation in the background. Its
// progress arrives through the status channel.
func (m Model) run(op string, fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	ctx := m.ctx
	m.inFlight++
	m.info = ""
	return m, tea.Batch(func() tea.Msg {
		return opDoneMsg{op: op, err: opError(op, fn(ctx))}
	}, m.spinner.Tick)
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, flow.ErrBusy) {
		return errors.New("busy, wait for the current operation to finish")
	}
	return errors.New(op + ": " + err.Error())
}

// refresh pulls a new snapshot and redraws the transcript.
func (m *Model) refresh() {
	m.snap = m.ctrl.Snapshot()
	if m.cursor >= len(m.snap.Candidates) {
		m.cursor = max(len(m.snap.Candidates)-1, 0)
	}
	if m.snap.State.Busy() || m.snap.State == flow.ShowingCandidates {
		m.textarea.Blur()
	} else {
		m.textarea.Focus()
	}
	m.layout()
}

func (m *Model) layout() {
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-m.chromeHeight(), 3)
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}
