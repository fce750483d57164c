// Package dashboard holds the dashboard's state and sequences user actions
// against the retrieval backend.
package dashboard

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/ragdash/internal/database"
	"github.com/TobiSchelling/ragdash/internal/ragapi"
)

// Backend is the remote API the controller drives. *ragapi.Client
// implements it.
type Backend interface {
	Query(ctx context.Context, text string) (json.RawMessage, error)
	SummarizeBasic(ctx context.Context) (json.RawMessage, error)
	SummarizeByVector(ctx context.Context) (json.RawMessage, error)
	UploadFiles(ctx context.Context, files []ragapi.PendingFile) (json.RawMessage, error)
	ListDocuments(ctx context.Context) (json.RawMessage, error)
	ResetIndex(ctx context.Context) (json.RawMessage, error)
}

// Recorder receives every finished action. *database.DB implements it.
type Recorder interface {
	RecordAction(e database.JournalEntry) error
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool { return f(prompt) }

type state struct {
	section   Section
	queryText string
	query     *ragapi.QueryResult
	summary   *ragapi.SummaryResult
	documents []ragapi.Document
	pending   []Pending
	upload    *ragapi.UploadOutcome
	err       string
	notice    string
	phases    [actionCount]Phase
}

// Controller owns all dashboard state. Each action kind has its own
// phase; a trigger while that kind is InFlight is ignored, but different
// kinds may run at the same time. The lock is never held across a
// backend call.
type Controller struct {
	backend  Backend
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	mu sync.Mutex
	st state
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder journals every finished action.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a controller on top of backend.
func New(backend Backend, opts ...Option) *Controller {
	c := &Controller{
		backend: backend,
		logger:  zap.NewNop(),
		now:     time.Now,
		st:      state{section: SectionQuery},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// run is one pass of an action through InFlight to Succeeded or Failed.
// A run that does not own its action's phase leaves the phase untouched.
type run struct {
	action Action
	op     string
	msg    string
	start  time.Time
	owned  bool
}

func (c *Controller) begin(a Action, op, msg string) (*run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.phases[a] == InFlight {
		return nil, false
	}
	c.st.phases[a] = InFlight
	c.st.err = ""
	c.st.notice = ""
	return &run{action: a, op: op, msg: msg, start: c.now(), owned: true}, true
}

func (c *Controller) succeed(r *run, apply func(st *state), detail string) {
	c.mu.Lock()
	apply(&c.st)
	if r.owned {
		c.st.phases[r.action] = Succeeded
	}
	c.mu.Unlock()

	c.logger.Debug("action succeeded", zap.String("op", r.op), zap.Duration("took", c.now().Sub(r.start)))
	c.record(r, database.OutcomeSucceeded, "", detail)
}

func (c *Controller) fail(r *run, err error) {
	c.mu.Lock()
	c.st.err = r.msg
	if r.owned {
		c.st.phases[r.action] = Failed
	}
	c.mu.Unlock()

	c.logger.Error("action failed", zap.String("op", r.op), zap.Error(err))
	c.record(r, database.OutcomeFailed, r.msg, err.Error())
}

func (c *Controller) record(r *run, outcome, msg, detail string) {
	if c.recorder == nil {
		return
	}
	err := c.recorder.RecordAction(database.JournalEntry{
		Action:     r.op,
		Outcome:    outcome,
		Message:    msg,
		Detail:     detail,
		StartedAt:  r.start,
		FinishedAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("recording action", zap.String("op", r.op), zap.Error(err))
	}
}

// Query runs text against the index. Blank text is ignored.
func (c *Controller) Query(ctx context.Context, text string) Phase {
	if strings.TrimSpace(text) == "" {
		return Idle
	}
	c.SetQueryText(text)

	r, ok := c.begin(ActionQuery, "query", MsgQueryFailed)
	if !ok {
		return Idle
	}

	raw, err := c.backend.Query(ctx, text)
	if err != nil {
		c.fail(r, err)
		return Failed
	}
	res, err := ragapi.DecodeQuery(raw, text)
	if err != nil {
		c.fail(r, err)
		return Failed
	}

	c.succeed(r, func(st *state) { st.query = res }, "")
	return Succeeded
}

// Summarize runs one summarization strategy and shows the summary section.
func (c *Controller) Summarize(ctx context.Context, m Method) Phase {
	op := "summarize-basic"
	call := c.backend.SummarizeBasic
	if m == MethodVector {
		op = "summarize-vector"
		call = c.backend.SummarizeByVector
	}

	r, ok := c.begin(ActionSummarize, op, MsgSummarizeFailed)
	if !ok {
		return Idle
	}

	raw, err := call(ctx)
	if err != nil {
		c.fail(r, err)
		return Failed
	}
	res, err := ragapi.DecodeSummary(raw)
	if err != nil {
		c.fail(r, err)
		return Failed
	}

	c.succeed(r, func(st *state) {
		st.summary = res
		st.section = SectionSummary
	}, "")
	return Succeeded
}

// SelectFiles replaces the pending upload selection.
func (c *Controller) SelectFiles(files []ragapi.PendingFile) {
	pending := make([]Pending, 0, len(files))
	for _, f := range files {
		pending = append(pending, newPending(f))
	}

	c.mu.Lock()
	c.st.pending = pending
	c.mu.Unlock()
}

// Upload sends the pending selection. On success the selection is cleared
// and the document list refreshed; on failure the selection is kept so the
// user can retry.
func (c *Controller) Upload(ctx context.Context) Phase {
	c.mu.Lock()
	n := len(c.st.pending)
	c.mu.Unlock()
	if n == 0 {
		return Idle
	}

	r, ok := c.begin(ActionUpload, "upload", MsgUploadFailed)
	if !ok {
		return Idle
	}

	c.mu.Lock()
	c.st.upload = nil
	files := make([]ragapi.PendingFile, len(c.st.pending))
	for i, p := range c.st.pending {
		files[i] = p.PendingFile
	}
	c.mu.Unlock()

	raw, err := c.backend.UploadFiles(ctx, files)
	if err != nil {
		c.fail(r, err)
		return Failed
	}
	out, err := ragapi.DecodeUpload(raw)
	if err != nil {
		c.fail(r, err)
		return Failed
	}

	c.mu.Lock()
	c.st.upload = out
	c.st.pending = nil
	c.mu.Unlock()

	c.refreshAfterUpload(ctx)

	c.succeed(r, func(*state) {}, uploadSummary(files))
	return Succeeded
}

// refreshAfterUpload issues exactly one list call, even when a list or
// reset is already in flight; the index phase is left to that action.
func (c *Controller) refreshAfterUpload(ctx context.Context) {
	r := &run{action: ActionIndex, op: "list-documents", msg: MsgListFailed, start: c.now()}
	c.listDocuments(ctx, r)
}

// RefreshDocuments reloads the document list.
func (c *Controller) RefreshDocuments(ctx context.Context) Phase {
	r, ok := c.begin(ActionIndex, "list-documents", MsgListFailed)
	if !ok {
		return Idle
	}
	return c.listDocuments(ctx, r)
}

func (c *Controller) listDocuments(ctx context.Context, r *run) Phase {
	raw, err := c.backend.ListDocuments(ctx)
	if err != nil {
		c.fail(r, err)
		return Failed
	}
	docs, err := ragapi.DecodeDocuments(raw)
	if err != nil {
		c.fail(r, err)
		return Failed
	}

	c.succeed(r, func(st *state) { st.documents = docs }, "")
	return Succeeded
}

// Reset drops the whole index after the user confirms. Declining issues no
// request and changes nothing.
func (c *Controller) Reset(ctx context.Context, confirm Confirmer) Phase {
	if confirm == nil || !confirm.Confirm(MsgResetPrompt) {
		return Idle
	}

	r, ok := c.begin(ActionIndex, "reset-index", MsgResetFailed)
	if !ok {
		return Idle
	}

	if _, err := c.backend.ResetIndex(ctx); err != nil {
		c.fail(r, err)
		return Failed
	}

	c.succeed(r, func(st *state) {
		st.documents = []ragapi.Document{}
		st.summary = nil
		st.query = nil
		st.notice = MsgResetDone
	}, "")
	return Succeeded
}

// SetSection switches the visible section.
func (c *Controller) SetSection(s Section) {
	c.mu.Lock()
	c.st.section = s
	c.mu.Unlock()
}

// SetQueryText stores the query being typed.
func (c *Controller) SetQueryText(text string) {
	c.mu.Lock()
	c.st.queryText = text
	c.mu.Unlock()
}

// DismissNotice clears the notice line.
func (c *Controller) DismissNotice() {
	c.mu.Lock()
	c.st.notice = ""
	c.mu.Unlock()
}

// Busy reports whether any action is in flight.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyLocked()
}

func (c *Controller) busyLocked() bool {
	for _, p := range c.st.phases {
		if p == InFlight {
			return true
		}
	}
	return false
}

// Phase returns the current phase of a.
func (c *Controller) Phase(a Action) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.phases[a]
}

func uploadSummary(files []ragapi.PendingFile) string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return strings.Join(names, ", ")
}
