// Package status holds the single progress line every conversation flow
// writes to, plus a success or error result that clears itself after a delay.
package status

import (
	"strings"
	"sync"
	"time"
)

// Span is a run of status text. Strong spans are emphasised by renderers.
type Span struct {
	Text   string
	Strong bool
}

// Plain returns an unemphasised span.
func Plain(s string) Span { return Span{Text: s} }

// Strong returns an emphasised span.
func Strong(s string) Span { return Span{Text: s, Strong: true} }

// Line is a status line made of spans.
type Line []Span

// String flattens the line to plain text.
func (l Line) String() string {
	var b strings.Builder
	for _, s := range l {
		b.WriteString(s.Text)
	}
	return b.String()
}

// Kind classifies a result flash.
type Kind int

const (
	Success Kind = iota
	Error
)

func (k Kind) String() string {
	if k == Error {
		return "error"
	}
	return "success"
}

// Result is a transient success or error message.
type Result struct {
	Kind Kind
	Text string
}

// Snapshot is a copy of the channel contents.
type Snapshot struct {
	Line   Line
	Result *Result
}

// Channel is safe for concurrent use.
type Channel struct {
	mu        sync.Mutex
	line      Line
	result    *Result
	ttl       time.Duration
	gen       uint64
	timer     *time.Timer
	closed    bool
	listeners []func()
}

// DefaultResultTTL is how long a result stays visible unless overridden.
const DefaultResultTTL = 5 * time.Second

// New creates a Channel whose results clear after ttl.
func New(ttl time.Duration) *Channel {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &Channel{ttl: ttl}
}

// OnChange registers fn to be called after every change. fn runs without the
// channel lock held and must not block.
func (c *Channel) OnChange(fn func()) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Set replaces the status line.
func (c *Channel) Set(spans ...Span) {
	c.mu.Lock()
	c.line = append(Line(nil), spans...)
	c.mu.Unlock()
	c.notify()
}

// Clear empties the status line. The result, if any, is left alone.
func (c *Channel) Clear() {
	c.mu.Lock()
	if len(c.line) == 0 {
		c.mu.Unlock()
		return
	}
	c.line = nil
	c.mu.Unlock()
	c.notify()
}

// Flash shows a result for the channel's default TTL.
func (c *Channel) Flash(kind Kind, text string) {
	c.FlashFor(kind, text, c.ttl)
}

// FlashFor shows a result for ttl. A pending clear from an earlier flash is
// cancelled so it cannot wipe the new result.
func (c *Channel) FlashFor(kind Kind, text string, ttl time.Duration) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.result = &Result{Kind: kind, Text: text}
	c.timer = time.AfterFunc(ttl, func() { c.expire(gen) })
	c.mu.Unlock()
	c.notify()
}

// expire clears the result only if no newer flash replaced it.
func (c *Channel) expire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.result == nil {
		c.mu.Unlock()
		return
	}
	c.result = nil
	c.timer = nil
	c.mu.Unlock()
	c.notify()
}

// ClearResult dismisses the current result immediately.
func (c *Channel) ClearResult() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	had := c.result != nil
	c.result = nil
	c.mu.Unlock()
	if had {
		c.notify()
	}
}

// Snapshot returns a copy of the current contents.
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{Line: append(Line(nil), c.line...)}
	if c.result != nil {
		r := *c.result
		s.Result = &r
	}
	return s
}

// Close stops any pending clear. Later flashes are ignored.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) notify() {
	c.mu.Lock()
	fns := append([]func(){}, c.listeners...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
