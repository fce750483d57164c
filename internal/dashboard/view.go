package dashboard

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/TobiSchelling/ragdash/internal/ragapi"
)

// View is an immutable snapshot of the controller state, ready to render.
type View struct {
	Section   Section
	QueryText string
	Query     *ragapi.QueryResult
	Summary   *ragapi.SummaryResult
	Documents []DocumentView
	Pending   []PendingView
	Upload    *UploadView
	Error     string
	Notice    string

	Busy          bool
	QueryBusy     bool
	UploadBusy    bool
	SummarizeBusy bool
	IndexBusy     bool

	Stats Stats
}

// Stats is derived from the current state on every snapshot.
type Stats struct {
	Documents int
	Summaries int
	LastQuery int // 1 once a query result is held, 0 otherwise
}

// DocumentView is one line of the document list.
type DocumentView struct {
	Label string
	Meta  string
}

// PendingView is one selected, not yet uploaded, file.
type PendingView struct {
	Name  string
	Size  string
	Pages *int
}

// UploadView is the rendered upload outcome.
type UploadView struct {
	Entries []UploadEntryView
	Raw     string
}

// UploadEntryView is one upload result line. Style is "success", "error"
// or "info".
type UploadEntryView struct {
	Style    string
	Plain    bool
	Message  string
	Filename string
	Detail   string
}

// Snapshot copies the current state for rendering.
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.st

	v := View{
		Section:       st.section,
		QueryText:     st.queryText,
		Query:         st.query,
		Summary:       st.summary,
		Error:         st.err,
		Notice:        st.notice,
		Busy:          c.busyLocked(),
		QueryBusy:     st.phases[ActionQuery] == InFlight,
		UploadBusy:    st.phases[ActionUpload] == InFlight,
		SummarizeBusy: st.phases[ActionSummarize] == InFlight,
		IndexBusy:     st.phases[ActionIndex] == InFlight,
	}

	v.Documents = make([]DocumentView, len(st.documents))
	for i, d := range st.documents {
		v.Documents[i] = DocumentView{Label: DocumentLabel(d, i), Meta: DocumentMeta(d)}
	}

	for _, p := range st.pending {
		v.Pending = append(v.Pending, PendingView{Name: p.Name, Size: FormatMB(p.Size), Pages: p.Pages})
	}

	if st.upload != nil {
		v.Upload = &UploadView{Raw: st.upload.Raw}
		for _, e := range st.upload.Entries {
			v.Upload.Entries = append(v.Upload.Entries, UploadEntryView{
				Style:    UploadStyle(e),
				Plain:    e.Kind == ragapi.EntryPlain,
				Message:  e.Message,
				Filename: e.Filename,
				Detail:   e.Detail,
			})
		}
	}

	v.Stats = Stats{Documents: len(st.documents)}
	if st.summary != nil && st.summary.Structured {
		v.Stats.Summaries = len(st.summary.Entries)
	}
	if st.query != nil {
		v.Stats.LastQuery = 1
	}
	return v
}

// FormatMB renders a byte count as megabytes with two decimals.
func FormatMB(bytes int64) string {
	return fmt.Sprintf("%.2f MB", float64(bytes)/1024/1024)
}

// DocumentLabel is the title shown for the document at index i.
func DocumentLabel(d ragapi.Document, i int) string {
	if d.Kind == ragapi.DocName {
		return d.Name
	}
	switch {
	case d.Filename != "":
		return d.Filename
	case d.Name != "":
		return d.Name
	}
	return fmt.Sprintf("Documento %d", i+1)
}

// DocumentMeta is the secondary line under a document title.
func DocumentMeta(d ragapi.Document) string {
	if d.Kind == ragapi.DocName {
		return "PDF"
	}

	var b strings.Builder
	if d.Size != nil && *d.Size > 0 {
		b.WriteString(FormatMB(*d.Size))
	} else {
		b.WriteString("PDF")
	}
	if d.Pages != nil && *d.Pages > 0 {
		fmt.Fprintf(&b, " • %d páginas", *d.Pages)
	}
	switch {
	case d.UploadDate != nil:
		b.WriteString(" • Subido: " + FormatDate(*d.UploadDate))
	case d.UploadDateText != "":
		b.WriteString(" • Subido: " + d.UploadDateText)
	}
	return b.String()
}

// UploadStyle picks the presentation of an upload entry.
func UploadStyle(e ragapi.UploadEntry) string {
	switch {
	case e.Kind == ragapi.EntryPlain:
		return "success"
	case e.Status == "error":
		return "error"
	}
	return "info"
}

// FormatDate renders a date the way the dashboard shows upload days.
func FormatDate(t time.Time) string {
	return t.Format("02/01/2006")
}

// FormatDateTime renders a processing timestamp.
func FormatDateTime(t time.Time) string {
	return t.Format("02/01/2006 15:04:05")
}

// GroupThousands formats n the way Spanish locales group digits.
func GroupThousands(n int) string {
	return message.NewPrinter(language.Spanish).Sprintf("%d", n)
}
