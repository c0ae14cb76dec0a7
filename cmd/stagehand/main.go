// Command stagehand loads a pipeline definition, runs it, and archives the
// outcome. It is the manual-trigger entry point; webhook receivers and other
// trigger gateways call the same engine API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"github.com/stagehand-ci/stagehand/engine"
	"github.com/stagehand-ci/stagehand/executor"
	"github.com/stagehand-ci/stagehand/logging"
	"github.com/stagehand-ci/stagehand/pipeline"
	"github.com/stagehand-ci/stagehand/runstore"
)

const (
	_ = iota
	exitUsage
	exitLoggingSetupFailed
	exitDotenvError
	exitStoreOpenFailed
	exitListFailed
	exitDefinitionRejected
	exitRunFailed
)

var (
	pipelineFile string
	workspace    string
	envFile      string
	storePath    string
	noStore      bool
	listRuns     int
	logFormat    string
	logLevel     string
	showVersion  bool
)

func init() {
	flag.StringVar(&pipelineFile, "pipeline", "pipeline.yaml", "pipeline definition file")
	flag.StringVar(&workspace, "workspace", ".", "working directory for steps")
	flag.StringVar(&envFile, "env-file", "", "optional .env file loaded before the run")
	flag.StringVar(&storePath, "store", "", "run store database path (default: per-user data dir)")
	flag.BoolVar(&noStore, "no-store", false, "disable run archiving")
	flag.IntVar(&listRuns, "list", 0, "list the N most recent archived runs and exit")
	flag.StringVar(&logFormat, "log-format", logging.Tint, "log format: tint, text or json")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.BoolVar(&showVersion, "version", false, "print engine version and exit")
}

func main() {
	// All exits funnel through run's return value so its defers (store
	// close, signal handler release) execute on every path.
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if showVersion {
		fmt.Println("stagehand", engine.Version)
		return 0
	}

	if err := logging.Setup(logFormat, logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitLoggingSetupFailed
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			slog.Error("loading env file failed", "file", envFile, "error", err)
			return exitDotenvError
		}
	}

	var store *runstore.Store
	if !noStore {
		path := storePath
		if path == "" {
			var err error
			if path, err = runstore.DefaultPath(); err != nil {
				slog.Error("resolving run store path failed", "error", err)
				return exitStoreOpenFailed
			}
		}
		var err error
		if store, err = runstore.Open(path); err != nil {
			slog.Error("opening run store failed", "path", path, "error", err)
			return exitStoreOpenFailed
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if listRuns > 0 {
		if store == nil {
			fmt.Fprintln(os.Stderr, "-list requires the run store")
			return exitUsage
		}
		if err := printRecentRuns(ctx, store, listRuns); err != nil {
			slog.Error("listing runs failed", "error", err)
			return exitListFailed
		}
		return 0
	}

	def, err := pipeline.Load(pipelineFile)
	if err != nil {
		slog.Error("loading pipeline failed", "file", pipelineFile, "error", err)
		return exitDefinitionRejected
	}

	exec := executor.New(
		executor.WithWorkDir(workspace),
		executor.WithEnv(def.Env),
		executor.WithOutputWriter(os.Stdout),
	)

	opts := []engine.Option{engine.WithLogger(slog.Default())}
	if store != nil {
		opts = append(opts, engine.WithArchiver(store))
	}

	result, err := engine.New(exec, opts...).Run(ctx, def)
	if err != nil {
		// Definition rejected before any stage ran.
		slog.Error("run rejected", "error", err)
		return exitDefinitionRejected
	}

	printSummary(result)
	if result.Overall.Status != engine.StatusSucceeded {
		return exitRunFailed
	}
	return 0
}

func printSummary(run *engine.PipelineRun) {
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "STAGE\tSTATUS\tDURATION\n")
	for _, stage := range run.Stages {
		fmt.Fprintf(w, "%s\t%s\t%s\n", stage.Name, stage.Status, stage.Duration.Round(time.Millisecond))
	}
	w.Flush()
	fmt.Printf("\nrun %s: %s", run.ID, run.Overall.Status)
	if run.Overall.Detail != "" {
		fmt.Printf(" (%s)", run.Overall.Detail)
	}
	fmt.Println()
}

func printRecentRuns(ctx context.Context, store *runstore.Store, n int) error {
	runs, err := store.List(ctx, n)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tPIPELINE\tSTATUS\tFAILED STAGE\tSTARTED\n")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Pipeline, r.Status, r.FailedStage, r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
