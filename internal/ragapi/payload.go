package ragapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// The backend is loose about response shapes: lists may come bare or
// wrapped, and list entries may be plain strings or objects. Everything
// below turns a raw body into one typed shape so rendering code never has
// to inspect JSON.

// Source is a retrieved passage backing a query answer.
type Source struct {
	Snippet string
	DocID   string
	Score   float64
}

// QueryResult is the answer to one query.
type QueryResult struct {
	Query   string
	Answer  string
	Sources []Source
}

// SummaryEntry is the summary of a single document.
type SummaryEntry struct {
	Title           string
	PageCount       *int
	Summary         string
	TotalCharacters *int
	ProcessingDate  *time.Time
	// HasMetadata is set when the entry carried a metadata object; the
	// character count and processing date are shown only then.
	HasMetadata bool
}

// SummaryResult is the outcome of a summarize call. When the body does not
// carry a summary list, Structured is false and Raw holds the indented body.
type SummaryResult struct {
	Structured bool
	Entries    []SummaryEntry
	Relations  string
	Raw        string
}

// EntryKind tags an UploadEntry.
type EntryKind int

const (
	// EntryPlain is a bare success string.
	EntryPlain EntryKind = iota
	// EntryDetailed is an object with filename, status and detail.
	EntryDetailed
)

// UploadEntry is the backend's verdict on one uploaded file.
type UploadEntry struct {
	Kind     EntryKind
	Message  string // EntryPlain only
	Filename string
	Status   string
	Detail   string
}

// UploadOutcome is the result of one upload call. Raw is set when the body
// carries no results list.
type UploadOutcome struct {
	Entries []UploadEntry
	Raw     string
}

// DocKind tags a Document.
type DocKind int

const (
	// DocName is a bare file name.
	DocName DocKind = iota
	// DocDetailed is an object with optional metadata.
	DocDetailed
)

// Document describes one indexed document.
type Document struct {
	Kind           DocKind
	Name           string
	Filename       string
	Size           *int64
	Pages          *int
	UploadDate     *time.Time
	UploadDateText string // raw value when it could not be parsed
}

type object map[string]json.RawMessage

// DecodeQuery normalizes a query response. The answer may be wrapped as
// {query, response: {answer, sources}} or sent bare as {answer, sources};
// typed is used when the body does not echo the query.
func DecodeQuery(raw json.RawMessage, typed string) (*QueryResult, error) {
	var body object
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		return nil, fmt.Errorf("decoding query response: expected object")
	}

	res := &QueryResult{Query: typed}
	if q, ok := stringField(body, "query"); ok && q != "" {
		res.Query = q
	}

	inner := body
	if r, ok := body["response"]; ok {
		var nested object
		if err := json.Unmarshal(r, &nested); err == nil && nested != nil {
			inner = nested
		} else if s, ok := asString(r); ok {
			res.Answer = s
			return res, nil
		}
	}

	res.Answer, _ = stringField(inner, "answer")

	if rawSources, ok := inner["sources"]; ok && !isNull(rawSources) {
		var sources []struct {
			Snippet string          `json:"snippet"`
			DocID   json.RawMessage `json:"doc_id"`
			Score   float64         `json:"score"`
		}
		if err := json.Unmarshal(rawSources, &sources); err != nil {
			return nil, fmt.Errorf("decoding query sources: %w", err)
		}
		for _, s := range sources {
			res.Sources = append(res.Sources, Source{
				Snippet: s.Snippet,
				DocID:   scalarText(s.DocID),
				Score:   s.Score,
			})
		}
	}
	return res, nil
}

// DecodeSummary normalizes a summarize response.
func DecodeSummary(raw json.RawMessage) (*SummaryResult, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("decoding summary response: %w", ErrMalformedBody)
	}

	var body object
	if err := json.Unmarshal(raw, &body); err == nil && body != nil {
		if list, ok := body["summary"]; ok && isArray(list) {
			return decodeStructuredSummary(body, list)
		}
	}
	return &SummaryResult{Raw: indent(raw)}, nil
}

func decodeStructuredSummary(body object, list json.RawMessage) (*SummaryResult, error) {
	var items []object
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, fmt.Errorf("decoding summary entries: %w", err)
	}

	res := &SummaryResult{Structured: true}
	for _, item := range items {
		e := SummaryEntry{}
		e.Title, _ = stringField(item, "filename")
		if e.Title == "" {
			e.Title = scalarText(item["doc_id"])
		}
		e.Summary, _ = stringField(item, "summary")
		e.PageCount = intField(item, "page_count")
		e.TotalCharacters = intField(item, "total_characters")

		if ts, ok := stringField(item, "processing_date"); ok {
			e.ProcessingDate = parseTimestamp(ts)
		}
		if meta, ok := item["metadata"]; ok && !isNull(meta) {
			var m object
			if err := json.Unmarshal(meta, &m); err == nil && m != nil {
				e.HasMetadata = true
				if ts, ok := stringField(m, "processing_date"); ok && e.ProcessingDate == nil {
					e.ProcessingDate = parseTimestamp(ts)
				}
			}
		}
		res.Entries = append(res.Entries, e)
	}

	if rel, ok := body["relations"]; ok && !isNull(rel) {
		if s, ok := asString(rel); ok {
			res.Relations = s
		} else {
			res.Relations = indent(rel)
		}
	}
	return res, nil
}

// DecodeUpload normalizes an upload response. Each results entry is either
// a bare string or an object with filename, status and detail.
func DecodeUpload(raw json.RawMessage) (*UploadOutcome, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("decoding upload response: %w", ErrMalformedBody)
	}

	var body object
	if err := json.Unmarshal(raw, &body); err != nil || body == nil || !isArray(body["results"]) {
		return &UploadOutcome{Raw: indent(raw)}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body["results"], &items); err != nil {
		return nil, fmt.Errorf("decoding upload results: %w", err)
	}

	out := &UploadOutcome{Entries: make([]UploadEntry, 0, len(items))}
	for _, item := range items {
		var obj object
		if err := json.Unmarshal(item, &obj); err == nil && obj != nil {
			e := UploadEntry{Kind: EntryDetailed}
			e.Filename, _ = stringField(obj, "filename")
			e.Status, _ = stringField(obj, "status")
			e.Detail, _ = stringField(obj, "detail")
			out.Entries = append(out.Entries, e)
			continue
		}
		out.Entries = append(out.Entries, UploadEntry{Kind: EntryPlain, Message: scalarText(item)})
	}
	return out, nil
}

// DecodeDocuments normalizes a list-documents response. A wrapper object
// with an uploaded_files key yields that list; otherwise the body itself
// must be the list.
func DecodeDocuments(raw json.RawMessage) ([]Document, error) {
	list := raw
	var body object
	if err := json.Unmarshal(raw, &body); err == nil && body != nil {
		files, ok := body["uploaded_files"]
		if !ok {
			return nil, fmt.Errorf("decoding document list: object without uploaded_files")
		}
		list = files
	}
	if isNull(list) {
		return []Document{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil {
		return nil, fmt.Errorf("decoding document list: %w", err)
	}

	docs := make([]Document, 0, len(items))
	for _, item := range items {
		var obj object
		if err := json.Unmarshal(item, &obj); err != nil || obj == nil {
			docs = append(docs, Document{Kind: DocName, Name: scalarText(item)})
			continue
		}

		d := Document{Kind: DocDetailed}
		d.Filename, _ = stringField(obj, "filename")
		d.Name, _ = stringField(obj, "name")
		if n := numberField(obj, "size"); n != nil {
			size := int64(*n)
			d.Size = &size
		}
		d.Pages = intField(obj, "pages")
		if ts, ok := stringField(obj, "upload_date"); ok && ts != "" {
			if t := parseTimestamp(ts); t != nil {
				d.UploadDate = t
			} else {
				d.UploadDateText = ts
			}
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// parseTimestamp accepts whatever date format the backend sends; values
// without a zone are read as UTC. It returns nil when nothing parses.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

func stringField(o object, key string) (string, bool) {
	v, ok := o[key]
	if !ok {
		return "", false
	}
	return asString(v)
}

func asString(v json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return s, true
}

func numberField(o object, key string) *float64 {
	v, ok := o[key]
	if !ok {
		return nil
	}
	var n float64
	if err := json.Unmarshal(v, &n); err != nil {
		return nil
	}
	return &n
}

func intField(o object, key string) *int {
	n := numberField(o, key)
	if n == nil {
		return nil
	}
	i := int(*n)
	return &i
}

// scalarText renders a JSON scalar as display text: strings unquoted,
// anything else as compact JSON.
func scalarText(v json.RawMessage) string {
	if len(v) == 0 || isNull(v) {
		return ""
	}
	if s, ok := asString(v); ok {
		return s
	}
	return string(bytes.TrimSpace(v))
}

func isNull(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func isArray(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) > 0 && t[0] == '['
}

func indent(v json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, v, "", "  "); err != nil {
		return string(v)
	}
	return buf.String()
}
