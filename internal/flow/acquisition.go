package flow

import (
	"fmt"
	"strings"
)

// Source is an academic search source.
type Source string

const (
	SourceAll      Source = "All"
	SourceIEEE     Source = "IEEE"
	SourceSpringer Source = "Springer"
	SourceArxiv    Source = "Arxiv"
)

// Sources lists every valid source.
var Sources = []Source{SourceAll, SourceIEEE, SourceSpringer, SourceArxiv}

// ParseSource accepts a source name in any letter case.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if strings.EqualFold(s, string(src)) {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q (want one of All, IEEE, Springer, Arxiv)", s)
}

const (
	MinPDFs = 1
	MaxPDFs = 10
)

// Origin tells where an acquisition started.
type Origin string

const (
	// OriginSidebar is a proactive search with no pending question.
	OriginSidebar Origin = "sidebar"
	// OriginFallback follows an unanswered or unsatisfying question, which is
	// re-asked once the selection is ingested.
	OriginFallback Origin = "fallback"
)

// Acquisition is one scholar download-and-ingest request.
type Acquisition struct {
	Origin Origin
	// Query is the search string sent to the academic source.
	Query string
	// Question is re-asked after ingestion. Empty for OriginSidebar.
	Question string
	NumPDFs  int
	Source   Source
}
