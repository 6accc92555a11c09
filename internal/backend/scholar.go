package backend

import (
	"context"
	"net/url"
)

// DownloadRequest asks the backend to fetch PDFs from an academic source into
// its staging area. The same shape drives ingestion of the staged selection.
type DownloadRequest struct {
	Query   string `json:"query"`
	NumPDFs int    `json:"num_pdf"`
	Source  string `json:"source"`
}

type messageResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type stagedResponse struct {
	PDFs []string `json:"pdfs"`
}

// ResetConversation drops the backend's conversation memory for sessionID.
func (c *Client) ResetConversation(ctx context.Context, sessionID string) error {
	return c.postJSON(ctx, "reset conversation",
		"/reset_conversation?session_id="+url.QueryEscape(sessionID), nil, nil)
}

// ClearStaging removes downloaded PDFs that were never ingested.
func (c *Client) ClearStaging(ctx context.Context) error {
	return c.postJSON(ctx, "clear staging", "/clear-pdf-folder", nil, nil)
}

// DownloadPDFs fetches candidate PDFs into the staging area.
func (c *Client) DownloadPDFs(ctx context.Context, req DownloadRequest) error {
	return c.postJSON(ctx, "download pdfs", "/download_pdf", req, nil)
}

// ListStaged returns the filenames currently in the staging area.
func (c *Client) ListStaged(ctx context.Context) ([]string, error) {
	var out stagedResponse
	if err := c.getJSON(ctx, "list staged", "/list-downloaded-pdfs", &out); err != nil {
		return nil, err
	}
	if out.PDFs == nil {
		return []string{}, nil
	}
	return out.PDFs, nil
}

// DeleteUnselected discards every staged PDF not named in keep.
func (c *Client) DeleteUnselected(ctx context.Context, keep []string) error {
	if keep == nil {
		keep = []string{}
	}
	return c.postJSON(ctx, "delete unselected", "/delete_unselected_pdfs", keep, nil)
}

// IngestStaged moves the staged PDFs into the permanent inventory and embeds them.
func (c *Client) IngestStaged(ctx context.Context, req DownloadRequest) error {
	return c.postJSON(ctx, "ingest staged", "/upload_scholar_pdf", req, nil)
}
