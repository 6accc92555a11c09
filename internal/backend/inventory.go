package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

// PDF is an entry in the permanent inventory as the backend reports it.
type PDF struct {
	Name string  `json:"name"`
	Size float64 `json:"size"`
	Date string  `json:"date"`
	Path string  `json:"path"`
}

// DeleteResult is the interpreted reply of DeletePDF.
type DeleteResult struct {
	OK    bool
	Error string
	// Raw holds the body when it matched neither the success sentinel nor an
	// error payload.
	Raw string
}

const deleteSuccess = "Success"

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// ListPDFs returns the full permanent inventory.
func (c *Client) ListPDFs(ctx context.Context) ([]PDF, error) {
	var out []PDF
	if err := c.getJSON(ctx, "list pdfs", "/pdfs", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PDFURL returns the address at which the backend serves the named PDF.
func (c *Client) PDFURL(name string) string {
	return c.baseURL + "/pdfs/" + url.PathEscape(name)
}

// DeletePDF removes a PDF from the inventory. The backend answers with the
// "Success" string, or an {"error"} / {"Error"} object; both are reported
// through DeleteResult rather than as an error. Transport failures and
// unparseable non-2xx replies are errors.
func (c *Client) DeletePDF(ctx context.Context, name string) (DeleteResult, error) {
	const op = "delete pdf"
	resp, err := c.do(ctx, op, http.MethodDelete, c.baseURL+"/deletepdf/"+url.PathEscape(name), nil)
	if err != nil {
		return DeleteResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return DeleteResult{}, fmt.Errorf("%s: reading response: %w", op, err)
	}

	var sentinel string
	if json.Unmarshal(body, &sentinel) == nil {
		if sentinel == deleteSuccess {
			return DeleteResult{OK: true}, nil
		}
	}

	var payload struct {
		Error      string `json:"error"`
		ErrorUpper string `json:"Error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return DeleteResult{Error: payload.Error}, nil
		}
		if payload.ErrorUpper != "" {
			return DeleteResult{Error: payload.ErrorUpper}, nil
		}
	}

	if resp.StatusCode >= 400 {
		return DeleteResult{}, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return DeleteResult{Raw: strings.TrimSpace(string(body))}, nil
}

// UploadPDF sends a local PDF to the upload service as multipart field "file"
// and returns the service's message. The part is typed application/pdf; the
// service rejects anything else.
func (c *Client) UploadPDF(ctx context.Context, name string, r io.Reader) (string, error) {
	const op = "upload pdf"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+quoteEscaper.Replace(name)+`"`)
	h.Set("Content-Type", "application/pdf")
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("%s: creating form: %w", op, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("%s: reading file: %w", op, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%s: closing form: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL+"/upload-pdf", &buf)
	if err != nil {
		return "", fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.send(op, req)
	if err != nil {
		return "", err
	}
	var out messageResponse
	if err := decodeJSON(op, resp, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}
