package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/pdfqa/internal/backend"
	"github.com/kalambet/pdfqa/internal/status"
	"github.com/kalambet/pdfqa/internal/storage"
)

const (
	msgFetchFailed   = "Error fetching PDFs."
	msgNoCandidates  = "No PDFs found, try rephrasing your query."
	msgIngestFailed  = "Error ingesting PDF(s). Please try again."
	statusPleaseWait = ". Please wait..."
)

func pdfs(n int) string {
	if n == 1 {
		return "PDF"
	}
	return "PDFs"
}

// ResolveScholarConsent answers the "search scholar sources?" prompt.
func (c *Controller) ResolveScholarConsent(consent bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if consent {
		return c.fire(EvConsentGiven)
	}
	if err := c.fire(EvConsentDeclined); err != nil {
		return err
	}
	c.clearChainLocked()
	return nil
}

// ResolveRephrase answers the "rephrase the search?" prompt. Declining
// downloads with the original question as the search query.
func (c *Controller) ResolveRephrase(ctx context.Context, rephrase bool) error {
	c.mu.Lock()
	if rephrase {
		defer c.mu.Unlock()
		return c.fire(EvRephraseAccepted)
	}
	if err := c.fire(EvRephraseDeclined); err != nil {
		c.mu.Unlock()
		return err
	}
	acq := c.newAcquisitionLocked(OriginFallback, c.pendingQuestion, c.pendingQuestion)
	epoch := c.epoch
	c.mu.Unlock()

	c.download(ctx, epoch, acq, false)
	return nil
}

// SubmitRephrased downloads candidates for a rephrased search query. The
// question re-asked after ingestion stays the original one. Blank text is
// ignored.
func (c *Controller) SubmitRephrased(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)

	c.mu.Lock()
	if _, err := Next(c.state, EvRephraseSubmitted); err != nil {
		c.mu.Unlock()
		return err
	}
	if text == "" {
		c.mu.Unlock()
		return nil
	}
	c.fire(EvRephraseSubmitted)
	acq := c.newAcquisitionLocked(OriginFallback, text, c.pendingQuestion)
	epoch := c.epoch
	c.mu.Unlock()

	c.download(ctx, epoch, acq, false)
	return nil
}

// SearchScholar starts a proactive acquisition from any non-busy state,
// skipping the consent prompts. Blank queries are ignored.
func (c *Controller) SearchScholar(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)

	c.mu.Lock()
	if c.state.Busy() {
		c.mu.Unlock()
		return ErrBusy
	}
	if query == "" {
		c.mu.Unlock()
		return nil
	}
	c.fire(EvSearchScholar)
	c.clearChainLocked()
	acq := c.newAcquisitionLocked(OriginSidebar, query, "")
	epoch := c.epoch
	c.mu.Unlock()

	c.download(ctx, epoch, acq, false)
	return nil
}

// ToggleCandidate adds name to the selection, or removes it if present.
func (c *Controller) ToggleCandidate(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ShowingCandidates {
		if c.state.Busy() {
			return ErrBusy
		}
		return fmt.Errorf("%w: toggle on %s", ErrInvalidTransition, c.state)
	}
	found := false
	for _, cand := range c.candidates {
		if cand == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownCandidate, name)
	}
	if _, ok := c.selection[name]; ok {
		delete(c.selection, name)
	} else {
		c.selection[name] = struct{}{}
	}
	return nil
}

// DownloadMore fetches another batch for the current acquisition. Staged
// candidates are kept, and so are selections that are still staged.
func (c *Controller) DownloadMore(ctx context.Context) error {
	c.mu.Lock()
	if err := c.fire(EvDownloadMore); err != nil {
		c.mu.Unlock()
		return err
	}
	acq := *c.acq
	c.notice = ""
	epoch := c.epoch
	c.mu.Unlock()

	c.download(ctx, epoch, acq, true)
	return nil
}

// Dismiss closes the rephrase prompt or the candidate list.
func (c *Controller) Dismiss() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fire(EvDismiss); err != nil {
		return err
	}
	c.clearChainLocked()
	return nil
}

func (c *Controller) newAcquisitionLocked(origin Origin, query, question string) Acquisition {
	acq := Acquisition{
		Origin:   origin,
		Query:    query,
		Question: question,
		NumPDFs:  c.settings.NumPDFs,
		Source:   c.settings.Source,
	}
	c.acq = &acq
	return acq
}

func (acq Acquisition) request() backend.DownloadRequest {
	return backend.DownloadRequest{Query: acq.Query, NumPDFs: acq.NumPDFs, Source: string(acq.Source)}
}

// download runs in the Downloading state and always finishes in
// ShowingCandidates, with whatever the staging area holds.
func (c *Controller) download(ctx context.Context, epoch uint64, acq Acquisition, more bool) {
	word := ""
	if more {
		word = "More "
	}
	c.status.Set(
		status.Plain(fmt.Sprintf("Downloading %d %s%s from Site: ", acq.NumPDFs, word, pdfs(acq.NumPDFs))),
		status.Strong(fmt.Sprintf("%q", acq.Source)),
		status.Plain(". Query: "),
		status.Strong(fmt.Sprintf("%q", acq.Query)),
		status.Plain(statusPleaseWait),
	)
	defer c.clearStatus(epoch)

	if !more {
		if err := c.backend.ClearStaging(ctx); err != nil {
			c.logger.Warn("clear staging failed", "error", err)
		}
	}

	dlErr := c.backend.DownloadPDFs(ctx, acq.request())
	if dlErr != nil {
		c.logger.Warn("download failed", "query", acq.Query, "source", acq.Source, "error", dlErr)
	}

	names, err := c.backend.ListStaged(ctx)
	if err != nil {
		c.logger.Warn("listing staged pdfs failed", "error", err)
		names = nil
	}

	c.mu.Lock()
	if c.stale(epoch, "download") {
		c.mu.Unlock()
		return
	}

	var flash func()
	switch {
	case dlErr != nil:
		c.botTextLocked(msgFetchFailed)
		if !more {
			text := fmt.Sprintf("Error downloading %s. Please try again.", pdfs(acq.NumPDFs))
			flash = func() { c.status.Flash(status.Error, text) }
		}
	case !more:
		text := fmt.Sprintf("%d %s downloaded successfully!", acq.NumPDFs, pdfs(acq.NumPDFs))
		flash = func() { c.status.Flash(status.Success, text) }
	}

	c.candidates = append([]string{}, names...)
	kept := map[string]struct{}{}
	if more {
		for _, n := range names {
			if _, ok := c.selection[n]; ok {
				kept[n] = struct{}{}
			}
		}
	}
	c.selection = kept
	c.notice = ""
	if len(names) == 0 {
		c.notice = msgNoCandidates
	}
	c.fire(EvDownloadFinished)
	c.mu.Unlock()

	if flash != nil {
		flash()
	}
}

// Ingest keeps only the selected candidates, ingests them and refreshes the
// inventory. A fallback acquisition then re-asks its original question; a
// sidebar acquisition does not query at all. The flow ends Idle either way.
func (c *Controller) Ingest(ctx context.Context) error {
	c.mu.Lock()
	if _, err := Next(c.state, EvIngestStarted); err != nil {
		c.mu.Unlock()
		return err
	}
	if len(c.selection) == 0 {
		c.mu.Unlock()
		return ErrEmptySelection
	}
	c.fire(EvIngestStarted)
	keep := c.selectionLocked()
	acq := *c.acq
	model := c.settings.Model
	epoch := c.epoch
	c.mu.Unlock()

	n := len(keep)
	if acq.Origin == OriginFallback {
		c.status.Set(status.Plain(fmt.Sprintf("Ingesting %d %s in PDF Database%s", n, pdfs(n), statusPleaseWait)))
	} else {
		c.status.Set(status.Plain(fmt.Sprintf("Embedding %d %s%s", n, pdfs(n), statusPleaseWait)))
	}
	defer c.clearStatus(epoch)

	ingestErr := c.ingestSelection(ctx, keep, acq)

	var (
		ans      backend.Answer
		queryErr error
		asked    bool
	)
	if ingestErr == nil && acq.Origin == OriginFallback && acq.Question != "" {
		c.status.Set(status.Plain("Ingested Successfully. "), status.Plain(statusRetrieving))
		ans, queryErr = c.backend.QueryPDF(ctx, backend.QueryRequest{
			SessionID: c.sessions.GetOrCreate(),
			Model:     model,
			Question:  acq.Question,
		})
		asked = true
	}

	c.mu.Lock()
	if c.stale(epoch, "ingest") {
		c.mu.Unlock()
		return nil
	}

	var flash func()
	if ingestErr != nil {
		c.logger.Warn("ingest failed", "query", acq.Query, "error", ingestErr)
		if acq.Origin == OriginFallback {
			c.botTextLocked(msgFetchFailed)
		}
		flash = func() { c.status.Flash(status.Error, msgIngestFailed) }
	} else {
		c.saveAcquisitionLocked(acq, keep)
		text := pdfs(n) + " Ingested Successfully"
		flash = func() { c.status.Flash(status.Success, text) }
		if asked {
			switch {
			case queryErr != nil:
				c.logger.Warn("query after ingest failed", "error", queryErr)
				c.botTextLocked(msgFetchFailed)
			case IsNoResponse(ans.Answer):
				c.appendLocked(Message{Sender: SenderBot, Answer: &Answer{Answer: msgNoAnswer}})
			default:
				c.recordAnswerLocked(ans, model)
			}
		}
	}
	c.fire(EvIngestFinished)
	c.clearChainLocked()
	c.mu.Unlock()

	flash()
	return nil
}

func (c *Controller) ingestSelection(ctx context.Context, keep []string, acq Acquisition) error {
	if err := c.backend.DeleteUnselected(ctx, keep); err != nil {
		return fmt.Errorf("deleting unselected: %w", err)
	}
	if err := c.backend.IngestStaged(ctx, acq.request()); err != nil {
		return fmt.Errorf("ingesting: %w", err)
	}
	if c.inventory != nil {
		if _, err := c.inventory.Refresh(ctx); err != nil {
			c.logger.Warn("inventory refresh after ingest failed", "error", err)
		}
	}
	return nil
}

func (c *Controller) saveAcquisitionLocked(acq Acquisition, ingested []string) {
	if c.transcript == nil {
		return
	}
	err := c.transcript.SaveAcquisition(storage.Acquisition{
		ID:        c.newID(),
		Origin:    string(acq.Origin),
		Query:     acq.Query,
		Question:  acq.Question,
		Source:    string(acq.Source),
		NumPDFs:   acq.NumPDFs,
		Ingested:  ingested,
		CreatedAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("persisting acquisition", "error", err)
	}
}
