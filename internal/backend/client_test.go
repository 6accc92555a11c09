package backend

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

// newTestServer answers "METHOD /path" keys with the mapped JSON body.
// Unknown routes get a 404.
func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"Not Found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) last(t *testing.T) recordedRequest {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	return ts.requests[len(ts.requests)-1]
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://example.test/")
	if c.BaseURL() != "http://example.test" {
		t.Errorf("BaseURL() = %q", c.BaseURL())
	}
	if c.httpClient.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", c.httpClient.Timeout, DefaultTimeout)
	}
}

func TestWithTimeout(t *testing.T) {
	c := New("http://example.test", WithTimeout(3*time.Second))
	if c.httpClient.Timeout != 3*time.Second {
		t.Errorf("timeout = %v", c.httpClient.Timeout)
	}
}

func TestResetConversation(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /reset_conversation": `{"message":"ok"}`,
	})
	c := New(ts.server.URL)

	if err := c.ResetConversation(context.Background(), "abc 123"); err != nil {
		t.Fatalf("ResetConversation: %v", err)
	}
	got := ts.last(t)
	if got.Path != "/reset_conversation?session_id=abc+123" {
		t.Errorf("path = %q", got.Path)
	}
}

func TestDownloadPDFs_Body(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /download_pdf": `{}`,
	})
	c := New(ts.server.URL)

	err := c.DownloadPDFs(context.Background(), DownloadRequest{Query: "transformers", NumPDFs: 10, Source: "Arxiv"})
	if err != nil {
		t.Fatalf("DownloadPDFs: %v", err)
	}
	want := `{"query":"transformers","num_pdf":10,"source":"Arxiv"}`
	if got := ts.last(t).Body; got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestListStaged(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /list-downloaded-pdfs": `{"pdfs":["a.pdf","b.pdf"]}`,
	})
	c := New(ts.server.URL)

	got, err := c.ListStaged(context.Background())
	if err != nil {
		t.Fatalf("ListStaged: %v", err)
	}
	if len(got) != 2 || got[0] != "a.pdf" || got[1] != "b.pdf" {
		t.Errorf("ListStaged() = %v", got)
	}
}

func TestListStaged_EmptyIsNotNil(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /list-downloaded-pdfs": `{}`,
	})
	got, err := New(ts.server.URL).ListStaged(context.Background())
	if err != nil {
		t.Fatalf("ListStaged: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("ListStaged() = %#v, want empty slice", got)
	}
}

func TestDeleteUnselected_SendsArray(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /delete_unselected_pdfs": `{"message":"done"}`,
	})
	c := New(ts.server.URL)

	if err := c.DeleteUnselected(context.Background(), nil); err != nil {
		t.Fatalf("DeleteUnselected: %v", err)
	}
	if got := ts.last(t).Body; got != `[]` {
		t.Errorf("body = %s, want []", got)
	}
}

func TestQueryPDF(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /query_pdf": `{"answer":"Paris is the capital.","source":"a.pdf | b.pdf"}`,
	})
	c := New(ts.server.URL)

	alpha := 0.5
	year := 2021
	ans, err := c.QueryPDF(context.Background(), QueryRequest{
		SessionID: "s1",
		Model:     "4o-mini",
		Question:  "capital of France?",
		Filters:   Filters{Alpha: &alpha, Year: &year},
	})
	if err != nil {
		t.Fatalf("QueryPDF: %v", err)
	}
	if ans.Answer != "Paris is the capital." || ans.Source != "a.pdf | b.pdf" {
		t.Errorf("answer = %+v", ans)
	}

	got := ts.last(t)
	if got.Path != "/query_pdf?llm_model=4o-mini&session_id=s1" {
		t.Errorf("path = %q", got.Path)
	}
	want := `{"query":"capital of France?","chat_history":[],"filters":{"alpha":0.5,"year":2021}}`
	if got.Body != want {
		t.Errorf("body = %s, want %s", got.Body, want)
	}
}

func TestQueryPDF_EmptyFilters(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /query_pdf": `{"answer":"x","source":""}`,
	})
	_, err := New(ts.server.URL).QueryPDF(context.Background(), QueryRequest{Question: "q"})
	if err != nil {
		t.Fatalf("QueryPDF: %v", err)
	}
	if got := ts.last(t).Body; !strings.Contains(got, `"filters":{}`) {
		t.Errorf("body = %s, want empty filters object", got)
	}
}

func TestQueryPDF_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	_, err := New(srv.URL).QueryPDF(context.Background(), QueryRequest{Question: "q"})
	var sErr *StatusError
	if !errors.As(err, &sErr) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if sErr.Code != 500 || sErr.Body != "boom" {
		t.Errorf("StatusError = %+v", sErr)
	}
}

func TestListPDFs(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /pdfs": `[{"name":"Smith__2021__X.pdf","size":12.5,"date":"2024-01-02 03:04:05","path":"/data/Smith__2021__X.pdf"}]`,
	})
	got, err := New(ts.server.URL).ListPDFs(context.Background())
	if err != nil {
		t.Fatalf("ListPDFs: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Smith__2021__X.pdf" || got[0].Size != 12.5 {
		t.Errorf("ListPDFs() = %+v", got)
	}
}

func TestDeletePDF(t *testing.T) {
	tests := []struct {
		name string
		body string
		want DeleteResult
	}{
		{"success", `"Success"`, DeleteResult{OK: true}},
		{"lower error", `{"error":"not found"}`, DeleteResult{Error: "not found"}},
		{"upper error", `{"Error":"embeddings failed"}`, DeleteResult{Error: "embeddings failed"}},
		{"unexpected", `"Maybe"`, DeleteResult{Raw: `"Maybe"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, map[string]string{
				"DELETE /deletepdf/a b.pdf": tt.body,
			})
			got, err := New(ts.server.URL).DeletePDF(context.Background(), "a b.pdf")
			if err != nil {
				t.Fatalf("DeletePDF: %v", err)
			}
			if got != tt.want {
				t.Errorf("DeletePDF() = %+v, want %+v", got, tt.want)
			}
			if p := ts.last(t).Path; p != "/deletepdf/a%20b.pdf" {
				t.Errorf("path = %q", p)
			}
		})
	}
}

func TestPDFURL_Escapes(t *testing.T) {
	c := New("http://host:8000/")
	if got := c.PDFURL("a b#1.pdf"); got != "http://host:8000/pdfs/a%20b%231.pdf" {
		t.Errorf("PDFURL() = %q", got)
	}
}

func TestUploadPDF_Multipart(t *testing.T) {
	var gotName, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload-pdf" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		part, err := mr.NextPart()
		if err != nil || part.FormName() != "file" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if ct := part.Header.Get("Content-Type"); ct != "application/pdf" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		gotName = part.FileName()
		data, _ := io.ReadAll(part)
		gotContent = string(data)
		w.Write([]byte(`{"message":"PDF(s) Ingested Successfully"}`))
	}))
	defer srv.Close()

	c := New("http://unused.invalid", WithUploadURL(srv.URL))
	msg, err := c.UploadPDF(context.Background(), "Smith__2021__X.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("UploadPDF: %v", err)
	}
	if msg != "PDF(s) Ingested Successfully" {
		t.Errorf("message = %q", msg)
	}
	if gotName != "Smith__2021__X.pdf" || gotContent != "%PDF-1.4" {
		t.Errorf("uploaded %q with %q", gotName, gotContent)
	}
}

func TestWiki(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /get_articles_from_wiki": `["Transformers","Attention"]`,
		"POST /add_answer_to_wiki":     `{"message":"added"}`,
	})
	c := New(ts.server.URL)

	titles, err := c.WikiArticles(context.Background(), "answer text", "o1")
	if err != nil {
		t.Fatalf("WikiArticles: %v", err)
	}
	if len(titles) != 2 {
		t.Errorf("titles = %v", titles)
	}
	if got := ts.last(t).Body; got != `{"question":"answer text","llm_model":"o1"}` {
		t.Errorf("body = %s", got)
	}

	msg, err := c.AddToWiki(context.Background(), "Transformers", "answer text", "o1")
	if err != nil {
		t.Fatalf("AddToWiki: %v", err)
	}
	if msg != "added" {
		t.Errorf("message = %q", msg)
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	if err := New(srv.URL).ClearStaging(context.Background()); err == nil {
		t.Error("ClearStaging() on closed server = nil, want error")
	}
}
