package flow

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/pdfqa/internal/backend"
	"github.com/kalambet/pdfqa/internal/status"
)

const (
	msgNoAnswer       = "No relevant answer found in the PDF database."
	msgQueryFailed    = "Error communicating with chatbot."
	statusRetrieving  = "Retrieving Answer..."
	answerSourcesJoin = " Sources: "
)

var noResponse = regexp.MustCompile(`(?i)["']?No-Response[.,]?\s*["']?`)

// IsNoResponse reports whether a backend answer is the "no answer" sentinel.
func IsNoResponse(answer string) bool {
	return noResponse.MatchString(answer)
}

// Submit asks question against the PDF corpus. Staged downloads are cleared
// first, even for blank input or invalid filters; blank input is then ignored. Backend failures
// become a bot message and are not returned.
func (c *Controller) Submit(ctx context.Context, question string, filters Filters) error {
	c.mu.Lock()
	busy := c.state.Busy()
	c.mu.Unlock()
	if busy {
		return ErrBusy
	}

	if err := c.backend.ClearStaging(ctx); err != nil {
		c.logger.Warn("clear staging failed", "error", err)
	}
	if err := filters.Validate(c.now()); err != nil {
		return fmt.Errorf("invalid filters: %w", err)
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return nil
	}

	c.mu.Lock()
	if err := c.fire(EvSubmit); err != nil {
		c.mu.Unlock()
		return err
	}
	c.appendLocked(Message{Sender: SenderUser, Text: question})
	c.clearChainLocked()
	c.answerBuffer = ""
	c.pendingQuestion = question
	epoch := c.epoch
	model := c.settings.Model
	c.mu.Unlock()

	c.status.Set(status.Plain(statusRetrieving))
	defer c.clearStatus(epoch)

	ans, err := c.backend.QueryPDF(ctx, backend.QueryRequest{
		SessionID: c.sessions.GetOrCreate(),
		Model:     model,
		Question:  question,
		Filters:   filters.Wire(),
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale(epoch, "submit") {
		return nil
	}

	switch {
	case err != nil:
		c.logger.Warn("query failed", "error", err)
		c.botTextLocked(msgQueryFailed)
		c.fire(EvQueryFailed)
	case IsNoResponse(ans.Answer):
		c.appendLocked(Message{Sender: SenderBot, Answer: &Answer{Answer: msgNoAnswer}})
		c.fire(EvNoAnswer)
	default:
		c.recordAnswerLocked(ans, model)
		c.fire(EvAnswered)
	}
	return nil
}

// recordAnswerLocked appends a corpus answer and remembers it in the answer
// buffer.
func (c *Controller) recordAnswerLocked(ans backend.Answer, model string) {
	text := c.rewriteLocked(ans.Answer)
	c.answerBuffer = text + answerSourcesJoin + ans.Source
	c.appendLocked(Message{
		Sender: SenderBot,
		Answer: &Answer{Answer: text, Source: ans.Source},
		Model:  model,
	})
}

// ResolveSatisfaction answers the "were you satisfied" prompt. A negative
// answer offers a scholar search.
func (c *Controller) ResolveSatisfaction(satisfied bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if satisfied {
		return c.fire(EvSatisfied)
	}
	return c.fire(EvDissatisfied)
}
