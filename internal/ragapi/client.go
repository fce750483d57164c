package ragapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://localhost:8000"

// uploadField is the multipart field every uploaded file is sent under.
const uploadField = "files"

// PendingFile is a local file selected for upload.
type PendingFile struct {
	Name    string
	Size    int64
	Content []byte
}

// Client talks to the retrieval and summarization backend. It holds no
// state beyond its immutable configuration and is safe for concurrent use.
type Client struct {
	baseURL string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// New creates a client for the backend at baseURL.
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Query runs a natural-language query against the index.
func (c *Client) Query(ctx context.Context, text string) (json.RawMessage, error) {
	return c.get(ctx, "query", "/query?q="+url.QueryEscape(text))
}

// SummarizeBasic requests the basic summary of all indexed documents.
func (c *Client) SummarizeBasic(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "summarize-basic", "/summarize-docs")
}

// SummarizeByVector requests the vector-based summary of all indexed documents.
func (c *Client) SummarizeByVector(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "summarize-vector", "/summarize-docs_byvector")
}

// ListDocuments returns the backend's document list. The shape is not
// interpreted here; see DecodeDocuments.
func (c *Client) ListDocuments(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "list-documents", "/list-documents/")
}

// ResetIndex drops every document from the index.
func (c *Client) ResetIndex(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/reset-index", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.do("reset-index", req)
}

// UploadFiles sends all files in one multipart request.
func (c *Client) UploadFiles(ctx context.Context, files []PendingFile) (json.RawMessage, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(uploadField, f.Name)
		if err != nil {
			return nil, fmt.Errorf("creating form part for %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Content); err != nil {
			return nil, fmt.Errorf("writing form part for %s: %w", f.Name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-pdf/", &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do("upload", req)
}

func (c *Client) get(ctx context.Context, op, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.do(op, req)
}

func (c *Client) do(op string, req *http.Request) (json.RawMessage, error) {
	target := req.URL.String()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Op:         op,
			URL:        target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("backend returned %d: %s", resp.StatusCode, truncate(string(data), 200)),
		}
	}

	if !json.Valid(data) {
		return nil, &TransportError{Op: op, URL: target, StatusCode: resp.StatusCode, Err: ErrMalformedBody}
	}
	return json.RawMessage(data), nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
