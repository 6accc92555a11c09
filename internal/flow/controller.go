// Package flow is the conversation controller: it dispatches questions to the
// PDF corpus, runs the scholar acquisition chain when the corpus has no
// answer, and keeps the message log and flow state consistent while network
// calls are in flight.
//
// Every operation that talks to the backend runs without the controller lock
// held. Completions are applied only if no Reset happened in between; stale
// completions are dropped.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pdfqa/internal/backend"
	"github.com/kalambet/pdfqa/internal/inventory"
	"github.com/kalambet/pdfqa/internal/status"
	"github.com/kalambet/pdfqa/internal/storage"
)

// Backend is the subset of backend.Client the controller drives.
type Backend interface {
	ClearStaging(ctx context.Context) error
	DownloadPDFs(ctx context.Context, req backend.DownloadRequest) error
	ListStaged(ctx context.Context) ([]string, error)
	DeleteUnselected(ctx context.Context, keep []string) error
	IngestStaged(ctx context.Context, req backend.DownloadRequest) error
	QueryPDF(ctx context.Context, req backend.QueryRequest) (backend.Answer, error)
}

// Sessions provides the session id every query is scoped by.
type Sessions interface {
	GetOrCreate() string
	Reset(ctx context.Context) (bool, error)
}

// Inventory is refreshed after every ingestion.
type Inventory interface {
	Refresh(ctx context.Context) ([]inventory.Entry, error)
}

// Transcript mirrors the message log to durable storage.
type Transcript interface {
	AppendMessage(m storage.Message) error
	ClearMessages() error
	SaveAcquisition(a storage.Acquisition) error
}

// Rewrite replaces every occurrence of From in answers with To.
type Rewrite struct {
	From string
	To   string
}

// DefaultModel is used when no model is configured.
const DefaultModel = "4o-mini"

// Models lists the model identifiers the backend accepts.
var Models = []string{"4o", "4o-mini", "o1", "o1-mini", "o3-mini"}

// Settings are the user-chosen parameters applied to new operations.
type Settings struct {
	Model        string
	NumPDFs      int
	Source       Source
	LinkRewrites []Rewrite
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{Model: DefaultModel, NumPDFs: 3, Source: SourceAll}
}

// Validate checks every field.
func (s Settings) Validate() error {
	if !slices.Contains(Models, s.Model) {
		return fmt.Errorf("unknown model %q (want one of %s)", s.Model, strings.Join(Models, ", "))
	}
	if s.NumPDFs < MinPDFs || s.NumPDFs > MaxPDFs {
		return fmt.Errorf("number of PDFs %d outside %d..%d", s.NumPDFs, MinPDFs, MaxPDFs)
	}
	if _, err := ParseSource(string(s.Source)); err != nil {
		return err
	}
	return nil
}

// Controller owns the conversation. It is safe for concurrent use, but only
// one network-bound operation runs at a time; others get ErrBusy.
type Controller struct {
	backend    Backend
	sessions   Sessions
	inventory  Inventory
	status     *status.Channel
	transcript Transcript
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	mu              sync.Mutex
	epoch           uint64
	state           State
	messages        []Message
	candidates      []string
	selection       map[string]struct{}
	acq             *Acquisition
	pendingQuestion string
	answerBuffer    string
	notice          string
	settings        Settings
}

// Option configures a Controller.
type Option func(*Controller)

func WithInventory(inv Inventory) Option { return func(c *Controller) { c.inventory = inv } }

func WithStatus(ch *status.Channel) Option { return func(c *Controller) { c.status = ch } }

func WithTranscript(t Transcript) Option { return func(c *Controller) { c.transcript = t } }

func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

func WithIDs(newID func() string) Option { return func(c *Controller) { c.newID = newID } }

// WithSettings sets the initial settings. Invalid settings are ignored.
func WithSettings(s Settings) Option {
	return func(c *Controller) {
		if err := s.Validate(); err != nil {
			c.logger.Warn("ignoring invalid settings", "error", err)
			return
		}
		c.settings = s
	}
}

// New creates a Controller in the Idle state.
func New(b Backend, sessions Sessions, opts ...Option) *Controller {
	c := &Controller{
		backend:   b,
		sessions:  sessions,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
		selection: map[string]struct{}{},
		settings:  DefaultSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.status == nil {
		c.status = status.New(status.DefaultResultTTL)
	}
	return c
}

// Status returns the channel the controller reports progress to.
func (c *Controller) Status() *status.Channel {
	return c.status
}

// Snapshot is an immutable view of the conversation for presentation layers.
type Snapshot struct {
	State           State
	Messages        []Message
	Candidates      []string
	Selection       []string
	Notice          string
	AnswerBuffer    string
	PendingQuestion string
	Acquisition     *Acquisition
	Settings        Settings
	Status          status.Snapshot
}

// IsSelected reports whether name is in the selection.
func (s Snapshot) IsSelected(name string) bool {
	_, found := slices.BinarySearch(s.Selection, name)
	return found
}

// Snapshot returns a copy of the current conversation.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{
		State:           c.state,
		Messages:        slices.Clone(c.messages),
		Candidates:      slices.Clone(c.candidates),
		Selection:       c.selectionLocked(),
		Notice:          c.notice,
		AnswerBuffer:    c.answerBuffer,
		PendingQuestion: c.pendingQuestion,
		Settings:        c.settings,
	}
	s.Settings.LinkRewrites = slices.Clone(c.settings.LinkRewrites)
	if c.acq != nil {
		a := *c.acq
		s.Acquisition = &a
	}
	c.mu.Unlock()

	s.Status = c.status.Snapshot()
	return s
}

// State returns the current flow state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AnswerBuffer returns the last corpus answer with its sources appended.
func (c *Controller) AnswerBuffer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answerBuffer
}

// Settings returns the current settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.settings
	s.LinkRewrites = slices.Clone(c.settings.LinkRewrites)
	return s
}

// SetModel selects the model used for subsequent queries.
func (c *Controller) SetModel(model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.settings
	next.Model = model
	if err := next.Validate(); err != nil {
		return err
	}
	c.settings = next
	return nil
}

// SetScholarOptions sets the count and source used by new acquisitions.
func (c *Controller) SetScholarOptions(numPDFs int, src Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.settings
	next.NumPDFs = numPDFs
	next.Source = src
	if err := next.Validate(); err != nil {
		return err
	}
	c.settings = next
	return nil
}

// Restore loads a persisted transcript into an empty log without writing it
// back. The answer buffer is rebuilt from the last sourced answer.
func (c *Controller) Restore(records []storage.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) > 0 {
		return
	}
	for _, r := range records {
		m := Message{
			ID:        r.ID,
			Sender:    Sender(r.Sender),
			Text:      r.Text,
			Timestamp: r.CreatedAt,
			Model:     r.Model,
		}
		if r.Structured {
			m.Answer = &Answer{Answer: r.Answer, Source: r.Source}
			if r.Source != "" {
				c.answerBuffer = r.Answer + answerSourcesJoin + r.Source
			}
		}
		c.messages = append(c.messages, m)
	}
}

// Reset forgets the session on the backend, then clears the log and every
// piece of flow state whatever the backend said. Without a session it does
// nothing. In-flight operations finish but their results are discarded.
func (c *Controller) Reset(ctx context.Context) error {
	existed, err := c.sessions.Reset(ctx)
	if err != nil {
		c.logger.Warn("clearing session", "error", err)
	}
	if !existed && err == nil {
		c.logger.Debug("nothing to reset")
		return nil
	}

	c.mu.Lock()
	c.epoch++
	c.logger.Debug("flow transition", "from", c.state, "event", EvReset, "to", Idle)
	c.state = Idle
	c.messages = nil
	c.pendingQuestion = ""
	c.answerBuffer = ""
	c.clearChainLocked()
	if c.transcript != nil {
		if err := c.transcript.ClearMessages(); err != nil {
			c.logger.Warn("clearing transcript", "error", err)
		}
	}
	c.mu.Unlock()

	c.status.Clear()
	c.status.ClearResult()
	return nil
}

// fire applies e to the current state. Callers hold c.mu.
func (c *Controller) fire(e Event) error {
	next, err := Next(c.state, e)
	if err != nil {
		c.logger.Debug("flow transition rejected", "state", c.state, "event", e, "error", err)
		return err
	}
	c.logger.Debug("flow transition", "from", c.state, "event", e, "to", next)
	c.state = next
	return nil
}

// clearStatus clears the status line unless a reset overtook the operation
// started at epoch.
func (c *Controller) clearStatus(epoch uint64) {
	c.mu.Lock()
	current := c.epoch == epoch
	c.mu.Unlock()
	if current {
		c.status.Clear()
	}
}

// stale reports whether a completion started at epoch was overtaken by a
// Reset. Callers hold c.mu.
func (c *Controller) stale(epoch uint64, op string) bool {
	if c.epoch == epoch {
		return false
	}
	c.logger.Debug("discarding stale completion", "op", op)
	return true
}

func (c *Controller) clearChainLocked() {
	c.candidates = nil
	c.selection = map[string]struct{}{}
	c.acq = nil
	c.notice = ""
}

func (c *Controller) selectionLocked() []string {
	out := make([]string, 0, len(c.selection))
	for name := range c.selection {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func (c *Controller) appendLocked(m Message) {
	m.ID = c.newID()
	m.Timestamp = c.now()
	c.messages = append(c.messages, m)

	if c.transcript == nil {
		return
	}
	rec := storage.Message{
		ID:        m.ID,
		Sender:    string(m.Sender),
		Text:      m.Text,
		Model:     m.Model,
		CreatedAt: m.Timestamp,
	}
	if m.Answer != nil {
		rec.Structured = true
		rec.Answer = m.Answer.Answer
		rec.Source = m.Answer.Source
	}
	if err := c.transcript.AppendMessage(rec); err != nil {
		c.logger.Warn("persisting message", "error", err)
	}
}

func (c *Controller) botTextLocked(text string) {
	c.appendLocked(Message{Sender: SenderBot, Text: text})
}

func (c *Controller) rewriteLocked(answer string) string {
	for _, r := range c.settings.LinkRewrites {
		if r.From != "" {
			answer = strings.ReplaceAll(answer, r.From, r.To)
		}
	}
	return answer
}

// ParseRewrites parses "from=to" pairs separated by commas.
func ParseRewrites(s string) ([]Rewrite, error) {
	var out []Rewrite
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		from, to, ok := strings.Cut(pair, "=")
		if !ok || from == "" {
			return nil, fmt.Errorf("invalid rewrite %q (want from=to)", pair)
		}
		out = append(out, Rewrite{From: from, To: to})
	}
	return out, nil
}
