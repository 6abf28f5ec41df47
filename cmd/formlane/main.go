// Command formlane runs, validates, publishes, and schedules workflow graphs
// against a local libSQL database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/formlane/formlane/internal/diagram"
	"github.com/formlane/formlane/internal/engine"
	"github.com/formlane/formlane/internal/logging"
	"github.com/formlane/formlane/internal/scheduler"
	"github.com/formlane/formlane/internal/store"
	"github.com/formlane/formlane/internal/validation"
	"github.com/formlane/formlane/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(cfg, logger, os.Args[2:])
	case "validate":
		err = cmdValidate(os.Args[2:])
	case "publish":
		err = cmdPublish(cfg, logger, os.Args[2:])
	case "serve":
		err = cmdServe(cfg, logger, os.Args[2:])
	case "diagram":
		err = cmdDiagram(cfg, os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: formlane <command> [flags]

commands:
  run       execute a graph or published version
  validate  check a graph file and print the report
  publish   validate a graph and store it as an immutable version
  serve     run the scheduler loop for cron-triggered runs
  diagram   render a graph as mermaid, ascii, or png
`)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openStore(ctx context.Context, dbPath string) (*store.LibSQLStore, error) {
	st, err := store.NewLibSQLStore(dbPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func loadGraph(path string) (*schema.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph file: %w", err)
	}
	var g schema.Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse graph file: %w", err)
	}
	return &g, nil
}

func cmdRun(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to a graph JSON file (ad-hoc run)")
	versionID := fs.String("version", "", "published version id to run")
	inputJSON := fs.String("input", "{}", "run input as a JSON object")
	mode := fs.String("mode", "live", "execution mode: live or preview")
	tenant := fs.String("tenant", "", "tenant id")
	dbPath := fs.String("db", cfg.DBPath, "database path")
	debug := fs.Bool("debug", false, "include per-node output deltas in the trace")
	fs.Parse(args)

	if (*graphPath == "") == (*versionID == "") {
		return fmt.Errorf("exactly one of -graph or -version is required")
	}

	var input map[string]any
	if err := json.Unmarshal([]byte(*inputJSON), &input); err != nil {
		return fmt.Errorf("parse -input: %w", err)
	}

	ctx := context.Background()
	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	var version *store.WorkflowVersion
	if *versionID != "" {
		version, err = st.GetVersion(ctx, *versionID)
		if err != nil {
			return err
		}
	} else {
		g, err := loadGraph(*graphPath)
		if err != nil {
			return err
		}
		version = &store.WorkflowVersion{
			ID:          uuid.NewString(),
			WorkflowID:  "adhoc",
			Version:     1,
			Graph:       *g,
			PublishedAt: time.Now().UTC(),
		}
	}

	runner, err := engine.NewRunner(st, nil, logger)
	if err != nil {
		return err
	}

	req := engine.RunRequest{
		Version:  version,
		Input:    input,
		TenantID: *tenant,
		Mode:     schema.ExecutionMode(*mode),
		Debug:    *debug,
	}
	result, err := runner.RunGraph(ctx, req)
	if err != nil {
		return err
	}

	if err := st.SaveRun(ctx, engine.BuildRunRecord(req, result)); err != nil {
		logger.Warn("failed to persist run record", slog.String("error", err.Error()))
	}

	out := map[string]any{
		"run_id":  result.RunID,
		"status":  result.Status,
		"outputs": result.Outputs,
		"metrics": result.Metrics,
		"trace":   result.Trace,
	}
	if result.Error != nil {
		out["error"] = result.Error
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if result.Status != schema.RunSuccess {
		os.Exit(1)
	}
	return nil
}

func cmdValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to a graph JSON file")
	fs.Parse(args)

	if *graphPath == "" {
		return fmt.Errorf("-graph is required")
	}
	g, err := loadGraph(*graphPath)
	if err != nil {
		return err
	}

	validator, err := validation.NewGraphValidator()
	if err != nil {
		return err
	}
	report, err := validator.Validate(g)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.Valid() {
		os.Exit(1)
	}
	return nil
}

func cmdPublish(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to a graph JSON file")
	workflowID := fs.String("workflow", "", "workflow id the version belongs to")
	name := fs.String("name", "", "human-readable version name")
	versionNum := fs.Int("version", 1, "version number")
	dbPath := fs.String("db", cfg.DBPath, "database path")
	fs.Parse(args)

	if *graphPath == "" || *workflowID == "" {
		return fmt.Errorf("-graph and -workflow are required")
	}
	g, err := loadGraph(*graphPath)
	if err != nil {
		return err
	}

	validator, err := validation.NewGraphValidator()
	if err != nil {
		return err
	}
	report, err := validator.Validate(g)
	if err != nil {
		return err
	}
	if !report.Valid() {
		b, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(os.Stderr, string(b))
		return fmt.Errorf("graph failed validation with %d errors", len(report.Errors))
	}

	ctx := context.Background()
	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	version := &store.WorkflowVersion{
		ID:          uuid.NewString(),
		WorkflowID:  *workflowID,
		Version:     *versionNum,
		Name:        *name,
		Graph:       *g,
		PublishedAt: time.Now().UTC(),
	}
	if err := st.PublishVersion(ctx, version); err != nil {
		return err
	}

	logger.Info("version published",
		slog.String("version_id", version.ID),
		slog.String("workflow_id", version.WorkflowID),
		slog.Int("version", version.Version))
	fmt.Println(version.ID)
	return nil
}

func cmdDiagram(cfg Config, args []string) error {
	fs := flag.NewFlagSet("diagram", flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to a graph JSON file")
	versionID := fs.String("version", "", "published version id")
	runID := fs.String("run", "", "overlay node statuses from a saved run")
	format := fs.String("format", "mermaid", "output format: mermaid, ascii, or png")
	outPath := fs.String("out", "", "output file (required for png, default stdout otherwise)")
	dbPath := fs.String("db", cfg.DBPath, "database path")
	fs.Parse(args)

	if (*graphPath == "") == (*versionID == "") {
		return fmt.Errorf("exactly one of -graph or -version is required")
	}

	ctx := context.Background()
	var g *schema.Graph
	var trace []schema.TraceEntry
	title := ""

	if *versionID != "" || *runID != "" {
		st, err := openStore(ctx, *dbPath)
		if err != nil {
			return err
		}
		defer st.Close()

		if *versionID != "" {
			version, err := st.GetVersion(ctx, *versionID)
			if err != nil {
				return err
			}
			g = &version.Graph
			title = version.Name
		}
		if *runID != "" {
			run, err := st.GetRun(ctx, *runID)
			if err != nil {
				return err
			}
			if len(run.Trace) > 0 {
				if err := json.Unmarshal(run.Trace, &trace); err != nil {
					return fmt.Errorf("decode run trace: %w", err)
				}
			}
		}
	}
	if g == nil {
		var err error
		g, err = loadGraph(*graphPath)
		if err != nil {
			return err
		}
		title = strings.TrimSuffix(filepath.Base(*graphPath), filepath.Ext(*graphPath))
	}

	model, err := diagram.Build(title, g, trace)
	if err != nil {
		return err
	}

	var rendered []byte
	switch *format {
	case "mermaid":
		rendered = []byte(diagram.RenderMermaid(model))
	case "ascii":
		rendered = []byte(diagram.RenderASCII(model))
	case "png":
		if *outPath == "" {
			return fmt.Errorf("-out is required for png output")
		}
		rendered, err = diagram.RenderImage(model)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q", *format)
	}

	if *outPath != "" {
		return os.WriteFile(*outPath, rendered, 0o644)
	}
	_, err = os.Stdout.Write(rendered)
	return err
}

func cmdServe(cfg Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dbPath := fs.String("db", cfg.DBPath, "database path")
	poolSize := fs.Int("pool", cfg.PoolSize, "max concurrent scheduled runs")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := engine.NewRunner(st, nil, logger)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(st, runner, *poolSize, logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		logger.Warn("missed-run recovery failed", slog.String("error", err.Error()))
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return sched.Stop()
}
