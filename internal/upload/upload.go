// Package upload ingests local PDF files directly, bypassing scholar search.
// Each file is checked against the naming scheme and parsed as a PDF before
// anything is sent to the upload service.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pdfqa/internal/backend"
	"github.com/kalambet/pdfqa/internal/inventory"
	"github.com/kalambet/pdfqa/internal/pdfname"
	"github.com/kalambet/pdfqa/internal/status"
)

// MessageTTL is how long upload results stay in the status channel.
const MessageTTL = 10 * time.Second

const (
	msgNoConfirmation = "PDF uploaded successfully, but no confirmation message received."
	msgUploadFailed   = "Error: PDF Upload. Please try again."
)

// ErrNotPDF is returned when a file does not parse as a PDF document.
var ErrNotPDF = errors.New("file is not a readable PDF")

// Backend is the subset of backend.Client used for uploads.
type Backend interface {
	UploadPDF(ctx context.Context, name string, r io.Reader) (string, error)
}

// Refresher reloads the inventory after a successful upload.
type Refresher interface {
	Refresh(ctx context.Context) ([]inventory.Entry, error)
}

// Result describes the outcome for one file.
type Result struct {
	Path    string
	Name    string
	Pages   int
	Message string
	Err     error
}

// Uploader validates and uploads local PDFs.
type Uploader struct {
	backend   Backend
	inventory Refresher
	status    *status.Channel
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithStatus reports results through ch.
func WithStatus(ch *status.Channel) Option {
	return func(u *Uploader) { u.status = ch }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

// WithClock overrides the clock used for the year check.
func WithClock(now func() time.Time) Option {
	return func(u *Uploader) { u.now = now }
}

// New creates an Uploader. inv may be nil to skip the refresh.
func New(b Backend, inv Refresher, opts ...Option) *Uploader {
	u := &Uploader{
		backend:   b,
		inventory: inv,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload sends one file and refreshes the inventory on success.
func (u *Uploader) Upload(ctx context.Context, path string) Result {
	res := u.send(ctx, path)
	if res.Err == nil {
		u.refresh(ctx)
	}
	u.report(res)
	return res
}

// UploadAll sends files two at a time and refreshes the inventory once at the
// end if anything succeeded. Results are in the order of paths.
func (u *Uploader) UploadAll(ctx context.Context, paths []string) []Result {
	results := make([]Result, len(paths))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(2)

	var mu sync.Mutex
	anyOK := false
	for i, p := range paths {
		g.Go(func() error {
			res := u.send(gCtx, p)
			results[i] = res
			if res.Err == nil {
				mu.Lock()
				anyOK = true
				mu.Unlock()
			}
			// Per-file failures are reported in results, not by aborting the group.
			return nil
		})
	}
	_ = g.Wait()

	if anyOK {
		u.refresh(ctx)
	}
	for _, r := range results {
		u.report(r)
	}
	return results
}

func (u *Uploader) send(ctx context.Context, path string) Result {
	name := filepath.Base(path)
	res := Result{Path: path, Name: name}

	if err := pdfname.Validate(name, u.now()); err != nil {
		res.Err = err
		return res
	}

	f, err := os.Open(path)
	if err != nil {
		res.Err = fmt.Errorf("opening %s: %w", name, err)
		return res
	}
	defer f.Close()

	pages, err := countPages(f)
	if err != nil {
		u.logger.Debug("pdf parse failed", "path", path, "error", err)
		res.Err = fmt.Errorf("%s: %w", name, ErrNotPDF)
		return res
	}
	res.Pages = pages

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		res.Err = fmt.Errorf("rewinding %s: %w", name, err)
		return res
	}

	msg, err := u.backend.UploadPDF(ctx, name, f)
	if err != nil {
		u.logger.Warn("upload failed", "name", name, "error", err)
		res.Err = err
		return res
	}
	if msg == "" {
		msg = msgNoConfirmation
	}
	res.Message = msg
	return res
}

func countPages(f *os.File) (n int, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return 0, err
	}
	n = r.NumPage()
	if n == 0 {
		return 0, errors.New("no pages")
	}
	return n, nil
}

func (u *Uploader) refresh(ctx context.Context) {
	if u.inventory == nil {
		return
	}
	if _, err := u.inventory.Refresh(ctx); err != nil {
		u.logger.Warn("inventory refresh after upload failed", "error", err)
	}
}

func (u *Uploader) report(r Result) {
	if u.status == nil {
		return
	}
	if r.Err != nil {
		u.status.FlashFor(status.Error, ErrorText(r.Err), MessageTTL)
		return
	}
	u.status.FlashFor(status.Success, r.Message, MessageTTL)
}

// ErrorText renders an upload failure the way it is shown to users.
func ErrorText(err error) string {
	var vErr *pdfname.ValidationError
	if errors.As(err, &vErr) {
		return "Error: " + vErr.Message
	}
	if errors.Is(err, ErrNotPDF) {
		return "Error: " + err.Error()
	}
	var sErr *backend.StatusError
	if errors.As(err, &sErr) {
		var body struct {
			Message string `json:"message"`
		}
		if json.Unmarshal([]byte(sErr.Body), &body) == nil && body.Message != "" {
			return "Error: " + body.Message
		}
	}
	return msgUploadFailed
}
