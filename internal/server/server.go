package server

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/ragdash/internal/dashboard"
	"github.com/TobiSchelling/ragdash/internal/database"
	"github.com/TobiSchelling/ragdash/internal/ragapi"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// maxUploadMemory bounds the multipart form kept in memory; larger
// selections spill to temporary files.
const maxUploadMemory = 32 << 20

// JournalReader lists recorded actions. *database.DB implements it.
type JournalReader interface {
	GetRecentJournal(limit int) ([]database.JournalEntry, error)
}

// Server is the HTTP server for the dashboard.
type Server struct {
	ctrl    *dashboard.Controller
	journal JournalReader
	logger  *zap.Logger
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// New creates a new Server. journal may be nil.
func New(ctrl *dashboard.Controller, journal JournalReader, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	funcMap := template.FuncMap{
		"markdown":       renderMarkdown,
		"formatDateTime": dashboard.FormatDateTime,
		"thousands":      dashboard.GroupThousands,
		"deref": func(n *int) int {
			if n == nil {
				return 0
			}
			return *n
		},
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"dashboard.html", "reset.html", "history.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{ctrl: ctrl, journal: journal, logger: logger, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Routes
	s.mux.HandleFunc("/", s.handleIndex)
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/upload/select", s.handleSelectFiles)
	s.mux.HandleFunc("/upload", s.handleUpload)
	s.mux.HandleFunc("/documents/refresh", s.handleRefresh)
	s.mux.HandleFunc("/documents/reset", s.handleReset)
	s.mux.HandleFunc("/summarize/", s.handleSummarize)
	s.mux.HandleFunc("/notice/dismiss", s.handleDismissNotice)
	s.mux.HandleFunc("/history", s.handleHistory)
}

// actionContext detaches backend calls from the browser connection: an
// action that has started runs to completion even if the page is closed.
func actionContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func redirectTo(w http.ResponseWriter, r *http.Request, section dashboard.Section) {
	http.Redirect(w, r, "/?section="+string(section), http.StatusFound)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if sec, ok := dashboard.ParseSection(r.URL.Query().Get("section")); ok {
		s.ctrl.SetSection(sec)
	}

	s.render(w, "dashboard.html", map[string]any{
		"Sections": dashboard.Sections,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		redirectTo(w, r, dashboard.SectionQuery)
		return
	}

	text := r.FormValue("q")
	s.ctrl.SetQueryText(text)
	s.ctrl.Query(actionContext(r), text)
	redirectTo(w, r, dashboard.SectionQuery)
}

func (s *Server) handleSelectFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		redirectTo(w, r, dashboard.SectionUpload)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.logger.Warn("parsing file selection", zap.Error(err))
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	var files []ragapi.PendingFile
	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			s.logger.Warn("opening selected file", zap.String("file", fh.Filename), zap.Error(err))
			continue
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			s.logger.Warn("reading selected file", zap.String("file", fh.Filename), zap.Error(err))
			continue
		}
		files = append(files, ragapi.PendingFile{Name: fh.Filename, Size: int64(len(content)), Content: content})
	}

	s.ctrl.SelectFiles(files)
	redirectTo(w, r, dashboard.SectionUpload)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.ctrl.Upload(actionContext(r))
	}
	redirectTo(w, r, dashboard.SectionUpload)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.ctrl.RefreshDocuments(actionContext(r))
	}
	redirectTo(w, r, dashboard.SectionDocuments)
}

// handleReset shows the confirmation page on GET and acts on POST. Only an
// explicit confirm=yes reaches the backend.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.render(w, "reset.html", map[string]any{
			"Prompt": dashboard.MsgResetPrompt,
		})
		return
	}

	answer := r.FormValue("confirm")
	s.ctrl.Reset(actionContext(r), dashboard.ConfirmFunc(func(string) bool {
		return answer == "yes"
	}))
	redirectTo(w, r, dashboard.SectionDocuments)
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		redirectTo(w, r, dashboard.SectionSummary)
		return
	}

	switch strings.TrimPrefix(r.URL.Path, "/summarize/") {
	case string(dashboard.MethodBasic):
		s.ctrl.Summarize(actionContext(r), dashboard.MethodBasic)
	case string(dashboard.MethodVector):
		s.ctrl.Summarize(actionContext(r), dashboard.MethodVector)
	default:
		http.NotFound(w, r)
		return
	}
	redirectTo(w, r, dashboard.SectionSummary)
}

func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		s.ctrl.DismissNotice()
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var entries []database.JournalEntry
	if s.journal != nil {
		var err error
		entries, err = s.journal.GetRecentJournal(100)
		if err != nil {
			s.logger.Error("reading journal", zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	s.render(w, "history.html", map[string]any{
		"Entries": entries,
	})
}

// render executes a page with the current dashboard snapshot under "View".
func (s *Server) render(w http.ResponseWriter, name string, data map[string]any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	data["View"] = s.ctrl.Snapshot()

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.logger.Error("rendering template", zap.String("template", name), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port and blocks until ctx is
// done, then shuts down gracefully.
func Serve(ctx context.Context, srv *Server, port int, logger *zap.Logger) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{
		Addr:        addr,
		Handler:     srv.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("dashboard listening", zap.String("url", "http://"+addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down dashboard")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
