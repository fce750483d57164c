package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TobiSchelling/ragdash/internal/config"
	"github.com/TobiSchelling/ragdash/internal/dashboard"
	"github.com/TobiSchelling/ragdash/internal/database"
	"github.com/TobiSchelling/ragdash/internal/ragapi"
	"github.com/TobiSchelling/ragdash/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "ragdash",
	Short:        "Dashboard for a retrieval-augmented document assistant",
	Long:         "ragdash uploads PDFs to a RAG backend, lists and resets its index, asks questions and generates summaries.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(".env"); err != nil {
			return fmt.Errorf("loading .env: %w", err)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, err = newLogger(cfg.Logging.Level, verbose)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(summarizeCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(documentsCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(historyCmd)
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ragdash", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/ragdash/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point api.base_url at your RAG backend.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend and journal status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Backend: %s\n", cfg.BaseURL())
		fmt.Printf("Journal: %s\n\n", db.Path())
		fmt.Println("Actions:")
		fmt.Printf("  Total: %d\n", stats.TotalActions)
		fmt.Printf("  Failed: %d\n", stats.FailedActions)
		if f := stats.LastFailure; f != nil {
			fmt.Printf("  Last failure: %s %s (%s)\n", dashboard.FormatDateTime(f.FinishedAt.Local()), f.Action, f.Message)
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctrl := newController(db)
		srv, err := server.New(ctrl, db, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// The document list is loaded once on start; a failure only shows
		// up as the list error on the page.
		ctrl.RefreshDocuments(ctx)

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting dashboard at http://localhost:%d (backend %s)\n", port, cfg.BaseURL())
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, srv, port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 3000, "Port to run server on")
}

// --- query command ---

var queryCmd = &cobra.Command{
	Use:   "query <text...>",
	Short: "Ask a question against the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, done := cliController()
		defer done()

		text := strings.Join(args, " ")
		if ctrl.Query(cmd.Context(), text) != dashboard.Succeeded {
			return actionError(ctrl)
		}

		res := ctrl.Snapshot().Query
		fmt.Println(res.Answer)
		if len(res.Sources) > 0 {
			fmt.Println("\nFuentes:")
			for _, s := range res.Sources {
				if s.DocID != "" {
					fmt.Printf("  - %s (%s)\n", s.Snippet, s.DocID)
				} else {
					fmt.Printf("  - %s\n", s.Snippet)
				}
			}
		}
		return nil
	},
}

// --- summarize command ---

var summarizeByVector bool

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize all indexed documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, done := cliController()
		defer done()

		method := dashboard.MethodBasic
		if summarizeByVector {
			method = dashboard.MethodVector
		}
		if ctrl.Summarize(cmd.Context(), method) != dashboard.Succeeded {
			return actionError(ctrl)
		}

		res := ctrl.Snapshot().Summary
		if !res.Structured {
			fmt.Println(res.Raw)
			return nil
		}
		for _, e := range res.Entries {
			fmt.Printf("## %s", e.Title)
			if e.PageCount != nil {
				fmt.Printf(" (%d páginas)", *e.PageCount)
			}
			fmt.Println()
			fmt.Println(e.Summary)
			if e.TotalCharacters != nil {
				fmt.Printf("Caracteres totales: %s\n", dashboard.GroupThousands(*e.TotalCharacters))
			}
			if e.ProcessingDate != nil {
				fmt.Printf("Procesado: %s\n", dashboard.FormatDateTime(*e.ProcessingDate))
			}
			fmt.Println()
		}
		if res.Relations != "" {
			fmt.Println("## Análisis de Relaciones entre Documentos")
			fmt.Println(res.Relations)
		}
		return nil
	},
}

func init() {
	summarizeCmd.Flags().BoolVar(&summarizeByVector, "vector", false, "Use the vector-based summarizer")
}

// --- upload command ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file.pdf...>",
	Short: "Upload PDF files to the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := make([]ragapi.PendingFile, 0, len(args))
		for _, path := range args {
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			files = append(files, ragapi.PendingFile{
				Name:    filepath.Base(path),
				Size:    int64(len(content)),
				Content: content,
			})
		}

		ctrl, done := cliController()
		defer done()

		ctrl.SelectFiles(files)
		for _, p := range ctrl.Snapshot().Pending {
			if p.Pages != nil {
				fmt.Printf("  %s (%s, %d páginas)\n", p.Name, p.Size, *p.Pages)
			} else {
				fmt.Printf("  %s (%s)\n", p.Name, p.Size)
			}
		}

		if ctrl.Upload(cmd.Context()) != dashboard.Succeeded {
			return actionError(ctrl)
		}

		v := ctrl.Snapshot()
		fmt.Println("\nResultados de la Carga:")
		if len(v.Upload.Entries) == 0 {
			fmt.Println(v.Upload.Raw)
		}
		for _, e := range v.Upload.Entries {
			if e.Plain {
				fmt.Printf("  [%s] %s\n", e.Style, e.Message)
			} else {
				fmt.Printf("  [%s] %s: %s\n", e.Style, e.Filename, e.Detail)
			}
		}
		if v.Error != "" {
			fmt.Fprintln(os.Stderr, v.Error)
		} else {
			fmt.Printf("\nDocumentos cargados: %d\n", v.Stats.Documents)
		}
		return nil
	},
}

// --- documents command ---

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List indexed documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, done := cliController()
		defer done()

		if ctrl.RefreshDocuments(cmd.Context()) != dashboard.Succeeded {
			return actionError(ctrl)
		}

		docs := ctrl.Snapshot().Documents
		if len(docs) == 0 {
			fmt.Println("No hay documentos cargados")
			return nil
		}
		fmt.Printf("Documentos Cargados (%d):\n\n", len(docs))
		for _, d := range docs {
			fmt.Printf("  %s\n      %s\n", d.Label, d.Meta)
		}
		return nil
	},
}

// --- reset command ---

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every document from the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, done := cliController()
		defer done()

		confirm := dashboard.ConfirmFunc(func(prompt string) bool {
			if resetYes {
				return true
			}
			fmt.Printf("%s [y/N]: ", prompt)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			answer = strings.TrimSpace(strings.ToLower(answer))
			return answer == "y" || answer == "yes" || answer == "s" || answer == "si" || answer == "sí"
		})

		switch ctrl.Reset(cmd.Context(), confirm) {
		case dashboard.Succeeded:
			fmt.Println(ctrl.Snapshot().Notice)
			return nil
		case dashboard.Idle:
			fmt.Println("Cancelado.")
			return nil
		default:
			return actionError(ctrl)
		}
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
}

// --- history command ---

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently recorded actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		entries, err := db.GetRecentJournal(historyLimit)
		if err != nil {
			return fmt.Errorf("reading journal: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No actions recorded yet.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %-16s %-9s %8s",
				dashboard.FormatDateTime(e.FinishedAt.Local()), e.Action, e.Outcome, e.Duration().Round(time.Millisecond))
			if e.Message != "" {
				fmt.Printf("  %s", e.Message)
			}
			fmt.Println()
			if e.Detail != "" && (verbose || e.Outcome == database.OutcomeFailed) {
				fmt.Printf("    %s\n", e.Detail)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of entries to show")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.JournalPath())
}

func newClient() *ragapi.Client {
	var opts []ragapi.Option
	if cfg.API.Timeout > 0 {
		opts = append(opts, ragapi.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}))
	}
	return ragapi.New(cfg.BaseURL(), opts...)
}

func newController(db *database.DB) *dashboard.Controller {
	opts := []dashboard.Option{dashboard.WithLogger(logger)}
	if db != nil {
		opts = append(opts, dashboard.WithRecorder(db))
	}
	return dashboard.New(newClient(), opts...)
}

// cliController builds a controller for a one-shot command. A journal that
// cannot be opened is logged and skipped; the command still runs.
func cliController() (*dashboard.Controller, func()) {
	db, err := openDB()
	if err != nil {
		logger.Warn("journal unavailable", zap.Error(err))
		return newController(nil), func() {}
	}
	return newController(db), func() { db.Close() }
}

// actionError turns the user-facing message of a failed action into the
// command error; details are in the log and the journal.
func actionError(ctrl *dashboard.Controller) error {
	msg := ctrl.Snapshot().Error
	if msg == "" {
		msg = "acción no completada"
	}
	return errors.New(msg)
}
