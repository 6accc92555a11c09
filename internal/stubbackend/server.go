// Package stubbackend is an in-memory stand-in for the PDF question-answering
// backend. It speaks the same HTTP contract so the client can be exercised
// without the real retrieval stack.
package stubbackend

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxUploadSize  = 50 << 20
	noResponse     = "No-Response"
	dateLayout     = "2006-01-02 15:04:05"
	defaultPDFSize = 128.0
)

// Document is a PDF held in the stub's permanent inventory.
type Document struct {
	Name    string
	SizeKB  float64
	Added   time.Time
	Content []byte
}

// Server holds the stub's inventory, staging area and per-session history.
type Server struct {
	mu       sync.Mutex
	docs     map[string]Document
	staged   []string
	sessions map[string][]string
	seq      int

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithClock overrides the time source used for inventory dates.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithDocuments seeds the inventory.
func WithDocuments(names ...string) Option {
	return func(s *Server) {
		for _, n := range names {
			s.docs[n] = Document{Name: n, SizeKB: defaultPDFSize, Added: s.now()}
		}
	}
}

// New returns an empty stub backend.
func New(opts ...Option) *Server {
	s := &Server{
		docs:     make(map[string]Document),
		sessions: make(map[string][]string),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the chi router serving the backend contract.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Post("/reset_conversation", s.handleReset)
	r.Post("/clear-pdf-folder", s.handleClearStaging)
	r.Post("/download_pdf", s.handleDownload)
	r.Get("/list-downloaded-pdfs", s.handleListStaged)
	r.Post("/delete_unselected_pdfs", s.handleDeleteUnselected)
	r.Post("/upload_scholar_pdf", s.handleIngest)
	r.Post("/query_pdf", s.handleQuery)
	r.Get("/pdfs", s.handleListPDFs)
	r.Get("/pdfs/{name}", s.handleGetPDF)
	r.Delete("/deletepdf/{name}", s.handleDeletePDF)
	r.Post("/upload-pdf", s.handleUpload)
	r.Post("/get_articles_from_wiki", s.handleWikiArticles)
	r.Post("/add_answer_to_wiki", s.handleWikiAdd)

	return r
}

// Documents returns the inventory names in sorted order.
func (s *Server) Documents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.docs))
	for n := range s.docs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Staged returns a copy of the staging area.
func (s *Server) Staged() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.staged)
}

// History returns the questions recorded for a session.
func (s *Server) History(sessionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sessions[sessionID])
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("stub request", "method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start))
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation reset."})
}

func (s *Server) handleClearStaging(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.staged = nil
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Folder cleared successfully."})
}

type downloadBody struct {
	Query   string `json:"query"`
	NumPDFs int    `json:"num_pdf"`
	Source  string `json:"source"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var body downloadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if body.NumPDFs <= 0 {
		httpError(w, http.StatusBadRequest, "num_pdf must be positive")
		return
	}

	s.mu.Lock()
	year := s.now().Year()
	for range body.NumPDFs {
		s.seq++
		name := fmt.Sprintf("%s__%d__%s-%d.pdf", sourceAuthor(body.Source), year, slug(body.Query), s.seq)
		s.staged = append(s.staged, name)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "PDFs downloaded."})
}

func (s *Server) handleListStaged(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"pdfs": s.Staged()})
}

func (s *Server) handleDeleteUnselected(w http.ResponseWriter, r *http.Request) {
	var keep []string
	if err := json.NewDecoder(r.Body).Decode(&keep); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	s.mu.Lock()
	s.staged = slices.DeleteFunc(s.staged, func(n string) bool {
		return !slices.Contains(keep, n)
	})
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "Unselected PDFs deleted."})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	for _, n := range s.staged {
		s.docs[n] = Document{Name: n, SizeKB: defaultPDFSize, Added: s.now()}
	}
	s.staged = nil
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"message": "PDF(s) Ingested Successfully"})
}

type queryBody struct {
	Query       string          `json:"query"`
	ChatHistory []string        `json:"chat_history"`
	Filters     json.RawMessage `json:"filters"`
}

// handleQuery answers from the inventory. An empty inventory, or one with no
// document sharing a word with the question, yields the No-Response sentinel.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	model := r.URL.Query().Get("llm_model")

	s.mu.Lock()
	s.sessions[sessionID] = append(s.sessions[sessionID], body.Query)
	turn := len(s.sessions[sessionID])
	match := s.bestMatchLocked(body.Query)
	s.mu.Unlock()

	if match == "" {
		writeJSON(w, http.StatusOK, map[string]string{"answer": noResponse, "source": ""})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"answer": fmt.Sprintf("Answer %d (%s): %s is covered in %s.", turn, model, strings.TrimSpace(body.Query), match),
		"source": match,
	})
}

func (s *Server) bestMatchLocked(question string) string {
	words := strings.Fields(strings.ToLower(question))
	best, bestScore := "", 0
	for name := range s.docs {
		lower := strings.ToLower(name)
		score := 0
		for _, w := range words {
			if len(w) > 2 && strings.Contains(lower, w) {
				score++
			}
		}
		if score > bestScore || (score == bestScore && score > 0 && name < best) {
			best, bestScore = name, score
		}
	}
	return best
}

type pdfEntry struct {
	Name string  `json:"name"`
	Size float64 `json:"size"`
	Date string  `json:"date"`
	Path string  `json:"path"`
}

func (s *Server) handleListPDFs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]pdfEntry, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, pdfEntry{
			Name: d.Name,
			Size: d.SizeKB,
			Date: d.Added.Format(dateLayout),
			Path: "/pdfs/" + d.Name,
		})
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b pdfEntry) int { return strings.Compare(a.Name, b.Name) })
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPDF(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	d, ok := s.docs[name]
	s.mu.Unlock()
	if !ok {
		httpError(w, http.StatusNotFound, "PDF not found")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Write(d.Content)
}

func (s *Server) handleDeletePDF(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	_, ok := s.docs[name]
	delete(s.docs, name)
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"error": "404 PDF not found"})
		return
	}
	writeJSON(w, http.StatusOK, "Success")
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		httpError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			httpError(w, http.StatusBadRequest, "missing file field")
			return
		}
		if err != nil {
			httpError(w, http.StatusBadRequest, "reading multipart body: %v", err)
			return
		}
		if part.FormName() != "file" {
			continue
		}
		if part.Header.Get("Content-Type") != "application/pdf" {
			httpError(w, http.StatusBadRequest, "Only PDF files are allowed.")
			return
		}
		data, err := io.ReadAll(part)
		if err != nil {
			httpError(w, http.StatusBadRequest, "reading file: %v", err)
			return
		}

		name := part.FileName()
		s.mu.Lock()
		s.docs[name] = Document{Name: name, SizeKB: float64(len(data)) / 1024, Added: s.now(), Content: data}
		s.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]string{"message": "PDF processed and uploaded successfully!"})
		return
	}
}

type wikiBody struct {
	PageTitle string `json:"page_title"`
	Question  string `json:"question"`
	Model     string `json:"llm_model"`
}

func (s *Server) handleWikiArticles(w http.ResponseWriter, r *http.Request) {
	var body wikiBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	titles := []string{}
	for _, word := range strings.Fields(body.Question) {
		word = strings.Trim(word, ".,:;!?\"'()")
		if len(word) < 6 || slices.Contains(titles, word) {
			continue
		}
		titles = append(titles, word)
		if len(titles) == 3 {
			break
		}
	}
	writeJSON(w, http.StatusOK, titles)
}

func (s *Server) handleWikiAdd(w http.ResponseWriter, r *http.Request) {
	var body wikiBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if body.PageTitle == "" {
		httpError(w, http.StatusBadRequest, "page_title is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": fmt.Sprintf("Answer added to %s.", body.PageTitle)})
}

func sourceAuthor(source string) string {
	if source == "" || strings.EqualFold(source, "All") {
		return "Stub"
	}
	return source
}

func slug(q string) string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	if len(fields) == 0 {
		return "untitled"
	}
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, "-")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]string{"error": fmt.Sprintf(format, args...)})
}
