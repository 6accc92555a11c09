package backend

import (
	"context"
	"net/url"
)

// YearRange is a closed range of publication years.
type YearRange struct {
	StartYear int `json:"startYear"`
	EndYear   int `json:"endYear"`
}

// Filters is the wire shape of the recency weighting sent with a query. At
// most one of Year, YearRange and PastYears is set.
type Filters struct {
	Alpha     *float64   `json:"alpha,omitempty"`
	Year      *int       `json:"year,omitempty"`
	YearRange *YearRange `json:"yearRange,omitempty"`
	PastYears *int       `json:"pastYears,omitempty"`
}

// QueryRequest is a single question against the PDF corpus.
type QueryRequest struct {
	SessionID string
	Model     string
	Question  string
	Filters   Filters
}

// Answer is the backend's reply. Answer may be the "No-Response" sentinel.
type Answer struct {
	Answer string `json:"answer"`
	Source string `json:"source"`
}

type queryBody struct {
	Query       string   `json:"query"`
	ChatHistory []string `json:"chat_history"`
	Filters     Filters  `json:"filters"`
}

// QueryPDF asks a question against the ingested corpus. Chat history is never
// sent; the backend keeps its own per-session memory.
func (c *Client) QueryPDF(ctx context.Context, req QueryRequest) (Answer, error) {
	params := url.Values{}
	params.Set("session_id", req.SessionID)
	params.Set("llm_model", req.Model)

	body := queryBody{
		Query:       req.Question,
		ChatHistory: []string{},
		Filters:     req.Filters,
	}

	var out Answer
	if err := c.postJSON(ctx, "query pdf", "/query_pdf?"+params.Encode(), body, &out); err != nil {
		return Answer{}, err
	}
	return out, nil
}
