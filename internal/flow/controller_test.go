package flow

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/pdfqa/internal/backend"
	"github.com/kalambet/pdfqa/internal/status"
	"github.com/kalambet/pdfqa/internal/storage"
)

var ignoreMeta = cmpopts.IgnoreFields(Message{}, "ID", "Timestamp")

func TestSubmit_Answer(t *testing.T) {
	f := &fakeBackend{answers: []backend.Answer{{Answer: "Paris is the capital.", Source: "a.pdf | b.pdf"}}}
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "What is the capital of France?", Filters{}))

	snap := c.Snapshot()
	assert.Equal(t, AwaitingSatisfaction, snap.State)
	want := []Message{
		{Sender: SenderUser, Text: "What is the capital of France?"},
		{Sender: SenderBot, Answer: &Answer{Answer: "Paris is the capital.", Source: "a.pdf | b.pdf"}, Model: DefaultModel},
	}
	if diff := cmp.Diff(want, snap.Messages, ignoreMeta); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "Paris is the capital. Sources: a.pdf | b.pdf", snap.AnswerBuffer)

	assert.Equal(t, []string{"clear", "query"}, f.callLog())
	require.Len(t, f.queries, 1)
	assert.NotEmpty(t, f.queries[0].SessionID)
	assert.Equal(t, DefaultModel, f.queries[0].Model)
	assert.Empty(t, snap.Status.Line, "status line cleared after the query")
}

func TestSubmit_NoResponseSentinel(t *testing.T) {
	f := &fakeBackend{answers: []backend.Answer{{Answer: "No-Response."}}}
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "unknown topic", Filters{}))

	snap := c.Snapshot()
	assert.Equal(t, AwaitingScholarConsent, snap.State)
	require.Len(t, snap.Messages, 2)
	bots := 0
	for _, m := range snap.Messages {
		if m.Sender == SenderBot {
			bots++
			assert.Equal(t, msgNoAnswer, m.Content())
		}
	}
	assert.Equal(t, 1, bots)
	assert.Empty(t, snap.AnswerBuffer)
}

func TestSubmit_QueryFailure(t *testing.T) {
	f := &fakeBackend{queryErr: errors.New("connection refused")}
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "q", Filters{}))

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, msgQueryFailed, snap.Messages[1].Text)
	assert.Nil(t, snap.Messages[1].Answer)
}

func TestSubmit_BlankStillClearsStaging(t *testing.T) {
	f := &fakeBackend{}
	c := newTestController(f)

	require.NoError(t, c.Submit(context.Background(), "   \n", Filters{}))

	assert.Equal(t, []string{"clear"}, f.callLog())
	assert.Empty(t, c.Snapshot().Messages)
	assert.Equal(t, Idle, c.State())
}

func TestSubmit_InvalidFiltersStillClearStaging(t *testing.T) {
	f := &fakeBackend{}
	c := newTestController(f)

	err := c.Submit(context.Background(), "q", Filters{}.WithAlpha(1.5))
	require.Error(t, err)
	assert.Equal(t, []string{"clear"}, f.callLog())
	assert.Empty(t, c.Snapshot().Messages)
	assert.Equal(t, Idle, c.State())
}

func TestSubmit_SendsFilters(t *testing.T) {
	f := &fakeBackend{answers: []backend.Answer{{Answer: "a", Source: "s"}}}
	c := newTestController(f)

	filters := Filters{}.WithAlpha(0.3).WithYear(YearRange(2018, 2021))
	require.NoError(t, c.Submit(context.Background(), "q", filters))

	require.Len(t, f.queries, 1)
	got := f.queries[0].Filters
	require.NotNil(t, got.Alpha)
	assert.Equal(t, 0.3, *got.Alpha)
	assert.Equal(t, &backend.YearRange{StartYear: 2018, EndYear: 2021}, got.YearRange)
	assert.Nil(t, got.Year)
	assert.Nil(t, got.PastYears)
}

func TestSubmit_LinkRewrites(t *testing.T) {
	f := &fakeBackend{answers: []backend.Answer{{Answer: "see (http://localhost:8000/pdfs/a.pdf)", Source: "a.pdf"}}}
	rewrites, err := ParseRewrites("http://localhost=http://pdfqa.lan")
	require.NoError(t, err)
	settings := DefaultSettings()
	settings.LinkRewrites = rewrites
	c := newTestController(f, WithSettings(settings))

	require.NoError(t, c.Submit(context.Background(), "q", Filters{}))

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "see (http://pdfqa.lan:8000/pdfs/a.pdf)", msgs[1].Answer.Answer)
}

func TestSubmit_BusyReturnsErrBusy(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeBackend{gate: gate, answers: []backend.Answer{{Answer: "ok", Source: "s"}}}
	c := newTestController(f)

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), "first", Filters{}) }()

	require.Eventually(t, func() bool { return c.State() == AwaitingAnswer }, time.Second, time.Millisecond)

	assert.ErrorIs(t, c.Submit(context.Background(), "second", Filters{}), ErrBusy)
	assert.ErrorIs(t, c.SearchScholar(context.Background(), "x"), ErrBusy)
	assert.ErrorIs(t, c.ResolveSatisfaction(true), ErrBusy)

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, AwaitingSatisfaction, c.State())
	assert.Len(t, c.Snapshot().Messages, 2)
}

func TestResolveSatisfaction(t *testing.T) {
	answered := func(t *testing.T) *Controller {
		f := &fakeBackend{answers: []backend.Answer{{Answer: "a", Source: "s"}}}
		c := newTestController(f)
		require.NoError(t, c.Submit(context.Background(), "q", Filters{}))
		return c
	}

	t.Run("satisfied", func(t *testing.T) {
		c := answered(t)
		require.NoError(t, c.ResolveSatisfaction(true))
		assert.Equal(t, Idle, c.State())
	})
	t.Run("dissatisfied", func(t *testing.T) {
		c := answered(t)
		require.NoError(t, c.ResolveSatisfaction(false))
		assert.Equal(t, AwaitingScholarConsent, c.State())
	})
	t.Run("not awaiting", func(t *testing.T) {
		c := newTestController(&fakeBackend{})
		assert.ErrorIs(t, c.ResolveSatisfaction(true), ErrInvalidTransition)
	})
}

func TestScholarConsentDeclined(t *testing.T) {
	f := &fakeBackend{}
	c := newTestController(f)
	require.NoError(t, c.Submit(context.Background(), "q", Filters{}))
	require.Equal(t, AwaitingScholarConsent, c.State())

	require.NoError(t, c.ResolveScholarConsent(false))
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, 0, f.count("download"))
}

func TestFallback_OriginalQuery(t *testing.T) {
	f := &fakeBackend{
		answers: []backend.Answer{
			{Answer: "No-Response"},
			{Answer: "BERT is a transformer.", Source: "Devlin__2018__BERT.pdf"},
		},
		staged: []string{"Devlin__2018__BERT.pdf", "Other__2020__X.pdf"},
	}
	c := newTestController(f, WithSettings(Settings{Model: "o1", NumPDFs: 2, Source: SourceArxiv}))
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "what is bert?", Filters{}))
	require.NoError(t, c.ResolveScholarConsent(true))
	require.Equal(t, AwaitingRephraseConsent, c.State())
	require.NoError(t, c.ResolveRephrase(ctx, false))

	snap := c.Snapshot()
	require.Equal(t, ShowingCandidates, snap.State)
	assert.Equal(t, []string{"Devlin__2018__BERT.pdf", "Other__2020__X.pdf"}, snap.Candidates)
	require.Len(t, f.downloads, 1)
	assert.Equal(t, backend.DownloadRequest{Query: "what is bert?", NumPDFs: 2, Source: "Arxiv"}, f.downloads[0])
	require.NotNil(t, snap.Acquisition)
	assert.Equal(t, OriginFallback, snap.Acquisition.Origin)

	require.NoError(t, c.ToggleCandidate("Devlin__2018__BERT.pdf"))
	require.NoError(t, c.Ingest(ctx))

	snap = c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Candidates)
	assert.Nil(t, snap.Acquisition)
	assert.Equal(t, [][]string{{"Devlin__2018__BERT.pdf"}}, f.kept)
	require.Len(t, f.ingests, 1)
	assert.Equal(t, "what is bert?", f.ingests[0].Query)

	require.Len(t, f.queries, 2)
	assert.Equal(t, "what is bert?", f.queries[1].Question)
	assert.Equal(t, "o1", f.queries[1].Model)
	last := snap.Messages[len(snap.Messages)-1]
	require.NotNil(t, last.Answer)
	assert.Equal(t, "BERT is a transformer.", last.Answer.Answer)
	require.NotNil(t, snap.Status.Result)
	assert.Equal(t, status.Success, snap.Status.Result.Kind)
}

func TestFallback_Rephrased(t *testing.T) {
	f := &fakeBackend{
		answers: []backend.Answer{{Answer: "no-response"}, {Answer: "found it", Source: "x.pdf"}},
		staged:  []string{"x.pdf"},
	}
	c := newTestController(f)
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "original question", Filters{}))
	require.NoError(t, c.ResolveScholarConsent(true))
	require.NoError(t, c.ResolveRephrase(ctx, true))
	require.Equal(t, AwaitingRephraseText, c.State())

	require.NoError(t, c.SubmitRephrased(ctx, "  "))
	require.Equal(t, AwaitingRephraseText, c.State(), "blank rephrase ignored")

	require.NoError(t, c.SubmitRephrased(ctx, "better search terms"))
	require.Equal(t, ShowingCandidates, c.State())
	assert.Equal(t, "better search terms", f.downloads[0].Query)

	require.NoError(t, c.ToggleCandidate("x.pdf"))
	require.NoError(t, c.Ingest(ctx))

	assert.Equal(t, "better search terms", f.ingests[0].Query)
	require.Len(t, f.queries, 2)
	assert.Equal(t, "original question", f.queries[1].Question)
}

func TestSidebar_IngestNeverQueries(t *testing.T) {
	f := &fakeBackend{staged: []string{"a.pdf", "b.pdf"}}
	inv := &countingInventory{}
	c := newTestController(f, WithInventory(inv))
	ctx := context.Background()

	require.NoError(t, c.SearchScholar(ctx, "graph neural networks"))
	require.Equal(t, ShowingCandidates, c.State())
	require.NoError(t, c.ToggleCandidate("b.pdf"))
	require.NoError(t, c.Ingest(ctx))

	assert.Equal(t, 0, f.count("query"))
	assert.Equal(t, 1, inv.calls)
	assert.Equal(t, "graph neural networks", f.ingests[0].Query)
	assert.Equal(t, Idle, c.State())
	assert.Empty(t, c.Snapshot().Messages)
}

func TestSearchScholar_BlankIgnored(t *testing.T) {
	f := &fakeBackend{}
	c := newTestController(f)
	require.NoError(t, c.SearchScholar(context.Background(), " "))
	assert.Empty(t, f.callLog())
	assert.Equal(t, Idle, c.State())
}

func TestDownload_EmptyCandidates(t *testing.T) {
	f := &fakeBackend{}
	c := newTestController(f, WithSettings(Settings{Model: DefaultModel, NumPDFs: 10, Source: SourceArxiv}))

	require.NoError(t, c.SearchScholar(context.Background(), "nothing matches"))

	snap := c.Snapshot()
	assert.Equal(t, ShowingCandidates, snap.State)
	assert.Empty(t, snap.Candidates)
	assert.NotNil(t, snap.Candidates)
	assert.Equal(t, msgNoCandidates, snap.Notice)
	assert.Equal(t, backend.DownloadRequest{Query: "nothing matches", NumPDFs: 10, Source: "Arxiv"}, f.downloads[0])
	assert.ErrorIs(t, c.Ingest(context.Background()), ErrEmptySelection)
}

func TestDownload_FailureStillShowsCandidates(t *testing.T) {
	f := &fakeBackend{downloadErr: errors.New("scholar blocked"), staged: []string{"partial.pdf"}}
	c := newTestController(f)

	require.NoError(t, c.SearchScholar(context.Background(), "q"))

	snap := c.Snapshot()
	assert.Equal(t, ShowingCandidates, snap.State)
	assert.Equal(t, []string{"partial.pdf"}, snap.Candidates)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, msgFetchFailed, snap.Messages[0].Text)
	require.NotNil(t, snap.Status.Result)
	assert.Equal(t, status.Error, snap.Status.Result.Kind)
}

func TestToggleCandidate(t *testing.T) {
	f := &fakeBackend{staged: []string{"a.pdf", "b.pdf"}}
	c := newTestController(f)
	require.NoError(t, c.SearchScholar(context.Background(), "q"))

	before := c.Snapshot().Selection
	require.NoError(t, c.ToggleCandidate("a.pdf"))
	assert.True(t, c.Snapshot().IsSelected("a.pdf"))
	require.NoError(t, c.ToggleCandidate("a.pdf"))
	assert.Equal(t, before, c.Snapshot().Selection)

	assert.ErrorIs(t, c.ToggleCandidate("zzz.pdf"), ErrUnknownCandidate)

	require.NoError(t, c.Dismiss())
	assert.ErrorIs(t, c.ToggleCandidate("a.pdf"), ErrInvalidTransition)
}

func TestDownloadMore_KeepsStagingAndSelection(t *testing.T) {
	f := &fakeBackend{staged: []string{"a.pdf"}}
	c := newTestController(f)
	ctx := context.Background()

	require.NoError(t, c.SearchScholar(ctx, "q"))
	require.NoError(t, c.ToggleCandidate("a.pdf"))
	clears := f.count("clear")

	f.mu.Lock()
	f.staged = []string{"a.pdf", "b.pdf"}
	f.mu.Unlock()
	require.NoError(t, c.DownloadMore(ctx))

	snap := c.Snapshot()
	assert.Equal(t, ShowingCandidates, snap.State)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, snap.Candidates)
	assert.Equal(t, []string{"a.pdf"}, snap.Selection)
	assert.Equal(t, clears, f.count("clear"), "download more must not clear staging")
	require.Len(t, f.downloads, 2)
	assert.Equal(t, f.downloads[0], f.downloads[1])
}

func TestIngest_FailureEndsIdle(t *testing.T) {
	f := &fakeBackend{staged: []string{"a.pdf"}, ingestErr: errors.New("embedding failed")}
	c := newTestController(f)
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "q", Filters{}))
	require.NoError(t, c.ResolveScholarConsent(true))
	require.NoError(t, c.ResolveRephrase(ctx, false))
	require.NoError(t, c.ToggleCandidate("a.pdf"))
	require.NoError(t, c.Ingest(ctx))

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Equal(t, msgFetchFailed, snap.Messages[len(snap.Messages)-1].Text)
	assert.Equal(t, 1, f.count("query"), "no re-ask after a failed ingest")
	assert.Empty(t, snap.Status.Line)
}

func TestReset(t *testing.T) {
	f := &fakeBackend{answers: []backend.Answer{{Answer: "a", Source: "s"}}}
	c := newTestController(f)
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "q", Filters{}))
	require.NoError(t, c.Reset(ctx))

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Messages)
	assert.Empty(t, snap.AnswerBuffer)
	assert.Equal(t, 1, f.count("reset"))
}

func TestReset_DiscardsInFlightCompletion(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeBackend{gate: gate, answers: []backend.Answer{{Answer: "late", Source: "s"}}}
	c := newTestController(f)

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), "q", Filters{}) }()
	require.Eventually(t, func() bool { return f.count("query") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Reset(context.Background()))
	close(gate)
	require.NoError(t, <-done)

	snap := c.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Messages)
}

func TestReset_KeepsNewerStatusLine(t *testing.T) {
	gate := make(chan struct{})
	f := &fakeBackend{gate: gate, answers: []backend.Answer{{Answer: "late", Source: "s"}}}
	c := newTestController(f)

	done := make(chan error, 1)
	go func() { done <- c.Submit(context.Background(), "q", Filters{}) }()
	require.Eventually(t, func() bool { return f.count("query") == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Reset(context.Background()))
	assert.Empty(t, c.Status().Snapshot().Line)

	c.Status().Set(status.Plain("Embedding 1 PDF"))
	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, "Embedding 1 PDF", c.Status().Snapshot().Line.String())
}

func TestReset_WithoutSessionDoesNothing(t *testing.T) {
	f := &fakeBackend{staged: []string{"a.pdf"}}
	c := newTestController(f)
	ctx := context.Background()

	require.NoError(t, c.SearchScholar(ctx, "sidebar"))
	require.NoError(t, c.ToggleCandidate("a.pdf"))
	before := c.Snapshot()

	require.NoError(t, c.Reset(ctx))

	after := c.Snapshot()
	assert.Equal(t, ShowingCandidates, after.State)
	assert.Equal(t, []string{"a.pdf"}, after.Candidates)
	assert.Equal(t, []string{"a.pdf"}, after.Selection)
	if diff := cmp.Diff(before.Messages, after.Messages); diff != "" {
		t.Errorf("log changed (-before +after):\n%s", diff)
	}
	assert.Zero(t, f.count("reset"))
}

func TestTranscriptMirrorsLog(t *testing.T) {
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fakeBackend{
		answers: []backend.Answer{{Answer: "No-Response"}, {Answer: "ok", Source: "a.pdf"}},
		staged:  []string{"a.pdf"},
	}
	c := newTestController(f, WithTranscript(store))
	ctx := context.Background()

	require.NoError(t, c.Submit(ctx, "q", Filters{}))
	require.NoError(t, c.ResolveScholarConsent(true))
	require.NoError(t, c.ResolveRephrase(ctx, false))
	require.NoError(t, c.ToggleCandidate("a.pdf"))
	require.NoError(t, c.Ingest(ctx))

	records, err := store.Messages(0)
	require.NoError(t, err)
	require.Len(t, records, len(c.Snapshot().Messages))
	assert.Equal(t, "user", records[0].Sender)
	assert.True(t, records[len(records)-1].Structured)

	acqs, err := store.RecentAcquisitions(5)
	require.NoError(t, err)
	require.Len(t, acqs, 1)
	assert.Equal(t, []string{"a.pdf"}, acqs[0].Ingested)

	restored := newTestController(&fakeBackend{})
	restored.Restore(records)
	if diff := cmp.Diff(c.Snapshot().Messages, restored.Snapshot().Messages, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("restored log mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, c.Reset(ctx))
	records, err = store.Messages(0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSettings(t *testing.T) {
	c := newTestController(&fakeBackend{})

	require.NoError(t, c.SetModel("o3-mini"))
	assert.Error(t, c.SetModel("gpt-2"))
	assert.Equal(t, "o3-mini", c.Settings().Model)

	require.NoError(t, c.SetScholarOptions(10, SourceSpringer))
	assert.Error(t, c.SetScholarOptions(11, SourceSpringer))
	assert.Error(t, c.SetScholarOptions(0, SourceSpringer))
	assert.Error(t, c.SetScholarOptions(3, Source("Scopus")))
	assert.Equal(t, 10, c.Settings().NumPDFs)
}

// TestRandomWalkStaysConsistent drives random operation sequences and checks that
// the log only grows between resets and that chain payload only exists in the
// acquisition states.
func TestRandomWalkStaysConsistent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for run := 0; run < 50; run++ {
		f := &fakeBackend{
			answers: []backend.Answer{{Answer: "No-Response"}, {Answer: "a", Source: "s"}, {Answer: "No-Response."}},
			staged:  []string{"a.pdf", "b.pdf", "c.pdf"},
		}
		c := newTestController(f)
		prevLen := 0

		for step := 0; step < 40; step++ {
			reset := false
			switch rng.Intn(12) {
			case 0:
				c.Submit(ctx, "question", Filters{})
			case 1:
				c.ResolveSatisfaction(rng.Intn(2) == 0)
			case 2:
				c.ResolveScholarConsent(rng.Intn(2) == 0)
			case 3:
				c.ResolveRephrase(ctx, rng.Intn(2) == 0)
			case 4:
				c.SubmitRephrased(ctx, "rephrased")
			case 5:
				c.SearchScholar(ctx, "sidebar")
			case 6, 7:
				c.ToggleCandidate([]string{"a.pdf", "b.pdf", "c.pdf", "x.pdf"}[rng.Intn(4)])
			case 8:
				c.DownloadMore(ctx)
			case 9:
				c.Ingest(ctx)
			case 10:
				c.Dismiss()
			case 11:
				if rng.Intn(4) == 0 {
					n := f.count("reset")
					c.Reset(ctx)
					reset = f.count("reset") > n
				}
			}

			snap := c.Snapshot()
			if reset {
				require.Empty(t, snap.Messages)
			} else {
				require.GreaterOrEqual(t, len(snap.Messages), prevLen, "log shrank without reset")
			}
			prevLen = len(snap.Messages)

			require.False(t, snap.State.Busy(), "synchronous calls never leave a busy state")
			switch snap.State {
			case ShowingCandidates:
				require.NotNil(t, snap.Acquisition)
				for _, name := range snap.Selection {
					require.Contains(t, snap.Candidates, name)
				}
			default:
				require.Empty(t, snap.Candidates, "candidates outside the candidate list in %s", snap.State)
				require.Empty(t, snap.Selection)
				require.Nil(t, snap.Acquisition)
			}
		}
	}
}

func TestRestoreRebuildsAnswerBuffer(t *testing.T) {
	c := newTestController(&fakeBackend{})
	c.Restore([]storage.Message{
		{ID: "1", Sender: "user", Text: "what is attention"},
		{ID: "2", Sender: "bot", Structured: true, Answer: "Attention weighs tokens.", Source: "Vaswani__2017__Attention.pdf"},
		{ID: "3", Sender: "user", Text: "and graphs"},
		{ID: "4", Sender: "bot", Structured: true, Answer: "No relevant answer found."},
	})

	assert.Equal(t, "Attention weighs tokens. Sources: Vaswani__2017__Attention.pdf", c.AnswerBuffer())
	assert.Len(t, c.Snapshot().Messages, 4)
	assert.Equal(t, Idle, c.State())
}
