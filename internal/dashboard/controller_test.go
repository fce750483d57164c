package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/ragdash/internal/database"
	"github.com/TobiSchelling/ragdash/internal/ragapi"
)

var errDown = errors.New("connection refused")

// fakeBackend answers from canned bodies and counts calls. A non-nil gate
// blocks Query until it is closed; a non-nil listGate blocks only the next
// ListDocuments call.
type fakeBackend struct {
	mu          sync.Mutex
	calls       map[string]int
	bodies      map[string]string
	errs        map[string]error
	gate        chan struct{}
	entered     chan struct{}
	listGate    chan struct{}
	listEntered chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:  map[string]int{},
		bodies: map[string]string{},
		errs:   map[string]error{},
	}
}

func (f *fakeBackend) respond(op string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls[op]++
	body, err := f.bodies[op], f.errs[op]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if body == "" {
		body = "{}"
	}
	return json.RawMessage(body), nil
}

func (f *fakeBackend) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) Query(ctx context.Context, text string) (json.RawMessage, error) {
	if f.gate != nil {
		f.entered <- struct{}{}
		<-f.gate
	}
	return f.respond("query")
}

func (f *fakeBackend) SummarizeBasic(ctx context.Context) (json.RawMessage, error) {
	return f.respond("summarize-basic")
}

func (f *fakeBackend) SummarizeByVector(ctx context.Context) (json.RawMessage, error) {
	return f.respond("summarize-vector")
}

func (f *fakeBackend) UploadFiles(ctx context.Context, files []ragapi.PendingFile) (json.RawMessage, error) {
	return f.respond("upload")
}

func (f *fakeBackend) ListDocuments(ctx context.Context) (json.RawMessage, error) {
	f.mu.Lock()
	g := f.listGate
	f.listGate = nil
	f.mu.Unlock()
	if g != nil {
		f.listEntered <- struct{}{}
		<-g
	}
	return f.respond("list")
}

func (f *fakeBackend) ResetIndex(ctx context.Context) (json.RawMessage, error) {
	return f.respond("reset")
}

type memRecorder struct {
	mu      sync.Mutex
	entries []database.JournalEntry
}

func (m *memRecorder) RecordAction(e database.JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

var (
	yes = ConfirmFunc(func(string) bool { return true })
	no  = ConfirmFunc(func(string) bool { return false })
)

const queryBody = `{"query":"hola","response":{"answer":"respuesta","sources":[{"snippet":"s1","doc_id":"a.pdf","score":0.8}]}}`

func TestQueryBusyWhileInFlight(t *testing.T) {
	be := newFakeBackend()
	be.bodies["query"] = queryBody
	be.gate = make(chan struct{})
	be.entered = make(chan struct{})
	c := New(be)

	done := make(chan Phase)
	go func() { done <- c.Query(context.Background(), "hola") }()

	<-be.entered
	assert.True(t, c.Busy())
	assert.Equal(t, InFlight, c.Phase(ActionQuery))
	assert.True(t, c.Snapshot().QueryBusy)

	// same action again while in flight is ignored
	assert.Equal(t, Idle, c.Query(context.Background(), "otra"))

	close(be.gate)
	require.Equal(t, Succeeded, <-done)

	v := c.Snapshot()
	assert.False(t, v.Busy)
	assert.Empty(t, v.Error)
	require.NotNil(t, v.Query)
	assert.Equal(t, "respuesta", v.Query.Answer)
	assert.Equal(t, 1, v.Stats.LastQuery)
	assert.Equal(t, 1, be.count("query"))
}

func TestDifferentActionsMayOverlap(t *testing.T) {
	be := newFakeBackend()
	be.bodies["query"] = queryBody
	be.bodies["list"] = `["a.pdf"]`
	be.gate = make(chan struct{})
	be.entered = make(chan struct{})
	c := New(be)

	done := make(chan Phase)
	go func() { done <- c.Query(context.Background(), "hola") }()
	<-be.entered

	assert.Equal(t, Succeeded, c.RefreshDocuments(context.Background()))
	assert.Equal(t, InFlight, c.Phase(ActionQuery))

	close(be.gate)
	assert.Equal(t, Succeeded, <-done)
	assert.Len(t, c.Snapshot().Documents, 1)
}

func TestQueryFailureKeepsPriorResult(t *testing.T) {
	be := newFakeBackend()
	be.bodies["query"] = queryBody
	rec := &memRecorder{}
	c := New(be, WithRecorder(rec))

	require.Equal(t, Succeeded, c.Query(context.Background(), "hola"))
	prior := c.Snapshot().Query

	be.errs["query"] = errDown
	require.Equal(t, Failed, c.Query(context.Background(), "hola"))

	v := c.Snapshot()
	assert.Equal(t, MsgQueryFailed, v.Error)
	assert.Same(t, prior, v.Query)
	assert.False(t, v.Busy)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, database.OutcomeFailed, rec.entries[1].Outcome)
	assert.Equal(t, MsgQueryFailed, rec.entries[1].Message)
	assert.Equal(t, errDown.Error(), rec.entries[1].Detail)
}

func TestErrorClearedOnNextAction(t *testing.T) {
	be := newFakeBackend()
	be.errs["summarize-basic"] = errDown
	c := New(be)

	require.Equal(t, Failed, c.Summarize(context.Background(), MethodBasic))
	assert.Equal(t, MsgSummarizeFailed, c.Snapshot().Error)

	be.bodies["query"] = queryBody
	require.Equal(t, Succeeded, c.Query(context.Background(), "hola"))
	assert.Empty(t, c.Snapshot().Error)
}

func TestBlankQueryIsIgnored(t *testing.T) {
	be := newFakeBackend()
	c := New(be)
	assert.Equal(t, Idle, c.Query(context.Background(), "   "))
	assert.Zero(t, be.total())
}

func TestUndecodableQueryFails(t *testing.T) {
	be := newFakeBackend()
	be.bodies["query"] = `["unexpected"]`
	c := New(be)
	assert.Equal(t, Failed, c.Query(context.Background(), "hola"))
	assert.Equal(t, MsgQueryFailed, c.Snapshot().Error)
	assert.Nil(t, c.Snapshot().Query)
}

func TestSummarizeSwitchesSection(t *testing.T) {
	be := newFakeBackend()
	be.bodies["summarize-vector"] = `{"summary":[{"filename":"a.pdf","summary":"x"},{"doc_id":"b","summary":"y"}],"relations":"r"}`
	c := New(be)

	require.Equal(t, Succeeded, c.Summarize(context.Background(), MethodVector))
	v := c.Snapshot()
	assert.Equal(t, SectionSummary, v.Section)
	assert.Equal(t, 2, v.Stats.Summaries)
	assert.Equal(t, 1, be.count("summarize-vector"))
	assert.Zero(t, be.count("summarize-basic"))
}

func TestSummarizeFailureMessage(t *testing.T) {
	be := newFakeBackend()
	be.errs["summarize-vector"] = errDown
	c := New(be)

	require.Equal(t, Failed, c.Summarize(context.Background(), MethodVector))
	v := c.Snapshot()
	assert.Equal(t, MsgSummarizeFailed, v.Error)
	assert.Equal(t, SectionQuery, v.Section)
}

func TestUploadSuccessClearsSelectionAndRefreshesOnce(t *testing.T) {
	be := newFakeBackend()
	be.bodies["upload"] = `{"results":["Archivo subido",{"filename":"x.pdf","status":"error","detail":"corrupt"}]}`
	be.bodies["list"] = `{"uploaded_files":["a.pdf","b.pdf"]}`
	c := New(be)

	c.SelectFiles([]ragapi.PendingFile{{Name: "a.pdf", Size: 3, Content: []byte("abc")}})
	require.Len(t, c.Snapshot().Pending, 1)

	require.Equal(t, Succeeded, c.Upload(context.Background()))

	v := c.Snapshot()
	assert.Empty(t, v.Pending)
	assert.Equal(t, 1, be.count("list"))
	assert.Equal(t, 2, v.Stats.Documents)
	require.NotNil(t, v.Upload)
	require.Len(t, v.Upload.Entries, 2)
	assert.Equal(t, "success", v.Upload.Entries[0].Style)
	assert.True(t, v.Upload.Entries[0].Plain)
	assert.Equal(t, "error", v.Upload.Entries[1].Style)
	assert.Equal(t, "x.pdf", v.Upload.Entries[1].Filename)
	assert.Equal(t, "corrupt", v.Upload.Entries[1].Detail)
}

func TestUploadFailureKeepsSelection(t *testing.T) {
	be := newFakeBackend()
	be.errs["upload"] = errDown
	c := New(be)

	files := []ragapi.PendingFile{
		{Name: "a.pdf", Size: 3, Content: []byte("abc")},
		{Name: "b.pdf", Size: 1572864, Content: []byte("d")},
	}
	c.SelectFiles(files)
	before := c.Snapshot().Pending

	require.Equal(t, Failed, c.Upload(context.Background()))

	v := c.Snapshot()
	assert.Equal(t, before, v.Pending)
	assert.Equal(t, "1.50 MB", v.Pending[1].Size)
	assert.Equal(t, MsgUploadFailed, v.Error)
	assert.Zero(t, be.count("list"))
	assert.Nil(t, v.Upload)
}

func TestUploadWithoutSelectionIsIgnored(t *testing.T) {
	be := newFakeBackend()
	c := New(be)
	assert.Equal(t, Idle, c.Upload(context.Background()))
	assert.Zero(t, be.total())
}

func TestRefreshDocumentsFailure(t *testing.T) {
	be := newFakeBackend()
	be.bodies["list"] = `["a.pdf"]`
	c := New(be)
	require.Equal(t, Succeeded, c.RefreshDocuments(context.Background()))

	be.errs["list"] = errDown
	require.Equal(t, Failed, c.RefreshDocuments(context.Background()))
	v := c.Snapshot()
	assert.Equal(t, MsgListFailed, v.Error)
	assert.Len(t, v.Documents, 1)
}

func TestResetDeclinedDoesNothing(t *testing.T) {
	be := newFakeBackend()
	be.bodies["list"] = `["a.pdf"]`
	be.bodies["query"] = queryBody
	c := New(be)
	c.RefreshDocuments(context.Background())
	c.Query(context.Background(), "hola")
	before := c.Snapshot()
	calls := be.total()

	assert.Equal(t, Idle, c.Reset(context.Background(), no))
	assert.Equal(t, Idle, c.Reset(context.Background(), nil))

	assert.Equal(t, calls, be.total())
	assert.Zero(t, be.count("reset"))
	assert.Equal(t, before, c.Snapshot())
}

func TestResetTwice(t *testing.T) {
	be := newFakeBackend()
	be.bodies["list"] = `["a.pdf","b.pdf"]`
	be.bodies["query"] = queryBody
	be.bodies["summarize-basic"] = `{"summary":[{"filename":"a.pdf","summary":"x"}]}`
	c := New(be)
	c.RefreshDocuments(context.Background())
	c.Query(context.Background(), "hola")
	c.Summarize(context.Background(), MethodBasic)

	var prompt string
	require.Equal(t, Succeeded, c.Reset(context.Background(), ConfirmFunc(func(p string) bool {
		prompt = p
		return true
	})))
	assert.Equal(t, MsgResetPrompt, prompt)

	v := c.Snapshot()
	assert.Empty(t, v.Documents)
	assert.Nil(t, v.Query)
	assert.Nil(t, v.Summary)
	assert.Equal(t, MsgResetDone, v.Notice)
	assert.Equal(t, Stats{}, v.Stats)

	be.errs["reset"] = errDown
	require.Equal(t, Failed, c.Reset(context.Background(), yes))
	v = c.Snapshot()
	assert.Empty(t, v.Documents)
	assert.Equal(t, MsgResetFailed, v.Error)
	assert.Equal(t, 2, be.count("reset"))
}

func TestRecorderReceivesTimings(t *testing.T) {
	be := newFakeBackend()
	be.bodies["list"] = `[]`
	rec := &memRecorder{}
	c := New(be, WithRecorder(rec))
	tick := time.Date(2026, 2, 6, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	c.RefreshDocuments(context.Background())
	require.Len(t, rec.entries, 1)
	e := rec.entries[0]
	assert.Equal(t, "list-documents", e.Action)
	assert.Equal(t, database.OutcomeSucceeded, e.Outcome)
	assert.True(t, e.FinishedAt.After(e.StartedAt))
}

func TestUploadRefreshesWhileListInFlight(t *testing.T) {
	be := newFakeBackend()
	be.bodies["upload"] = `{"results":["Archivo a.pdf subido"]}`
	be.bodies["list"] = `{"uploaded_files":[{"filename":"a.pdf"}]}`
	gate := make(chan struct{})
	be.listGate = gate
	be.listEntered = make(chan struct{})
	c := New(be)

	done := make(chan Phase, 1)
	go func() { done <- c.RefreshDocuments(context.Background()) }()
	<-be.listEntered
	require.Equal(t, InFlight, c.Phase(ActionIndex))

	c.SelectFiles([]ragapi.PendingFile{{Name: "a.pdf", Size: 3, Content: []byte("abc")}})
	assert.Equal(t, Succeeded, c.Upload(context.Background()))
	assert.Equal(t, 1, be.count("list"), "upload must issue its own list call")
	assert.Equal(t, InFlight, c.Phase(ActionIndex), "the pending refresh still owns the index phase")

	docs := c.Snapshot().Documents
	require.Len(t, docs, 1)
	assert.Equal(t, "a.pdf", docs[0].Label)

	close(gate)
	assert.Equal(t, Succeeded, <-done)
	assert.Equal(t, 2, be.count("list"))
	assert.Equal(t, Succeeded, c.Phase(ActionIndex))
}
