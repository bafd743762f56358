// Command runstatus prints the completeness of the GFS runs held in the
// forecast database: how many of the 209 required forecast offsets each run
// has, or the missing offsets of a single run.
//
// Usage:
//
//	go run ./cmd/runstatus -driver sqlite -dsn gfs.db
//	go run ./cmd/runstatus -run 2024010206
//	go run ./cmd/runstatus -json -fail-incomplete
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/couchcryptid/gfs-ingest-service/internal/adapter/store"
	"github.com/couchcryptid/gfs-ingest-service/internal/domain"
	"github.com/couchcryptid/gfs-ingest-service/internal/scheduler"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitIncomplete = 2
)

type options struct {
	run            string
	asJSON         bool
	failIncomplete bool
}

// statusSource is what run needs from the reporter.
type statusSource interface {
	Runs(ctx context.Context) ([]domain.RunStatus, error)
	Missing(ctx context.Context, run time.Time) ([]int, error)
}

func main() {
	driver := flag.String("driver", sharedcfg.EnvOrDefault("DB_DRIVER", "sqlite"), "database driver: sqlite, mysql or postgres")
	dsn := flag.String("dsn", sharedcfg.EnvOrDefault("DB_DSN", "gfs.db"), "database DSN")
	var opts options
	flag.StringVar(&opts.run, "run", "", "show missing offsets of one run (YYYYMMDDHH or RFC3339)")
	flag.BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")
	flag.BoolVar(&opts.failIncomplete, "fail-incomplete", false, "exit 2 when the newest run (or -run) is incomplete")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	db, err := store.Open(strings.ToLower(*driver), *dsn, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}
	reporter := scheduler.NewReporter(db, scheduler.NewTracker(db, logger))

	code := run(context.Background(), os.Stdout, reporter, opts)
	db.Close()
	os.Exit(code)
}

func run(ctx context.Context, w io.Writer, src statusSource, opts options) int {
	if opts.run != "" {
		return printMissing(ctx, w, src, opts)
	}

	runs, err := src.Runs(ctx)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return exitError
	}

	if opts.asJSON {
		if err := json.NewEncoder(w).Encode(runs); err != nil {
			return exitError
		}
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RUN\tEXISTING\tMISSING\tSTATUS")
		for _, st := range runs {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", domain.FormatRun(st.RunTime), st.Existing, st.Missing, statusLabel(st.Complete))
		}
		tw.Flush()
		if len(runs) == 0 {
			fmt.Fprintln(w, "no runs stored")
		}
	}

	if opts.failIncomplete && (len(runs) == 0 || !runs[0].Complete) {
		return exitIncomplete
	}
	return exitOK
}

func printMissing(ctx context.Context, w io.Writer, src statusSource, opts options) int {
	runTime, err := domain.ParseRun(opts.run)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return exitError
	}
	missing, err := src.Missing(ctx, runTime)
	if err != nil {
		fmt.Fprintln(w, "error:", err)
		return exitError
	}

	if opts.asJSON {
		if missing == nil {
			missing = []int{}
		}
		if err := json.NewEncoder(w).Encode(map[string]any{"run": domain.FormatRun(runTime), "missing": missing}); err != nil {
			return exitError
		}
	} else if len(missing) == 0 {
		fmt.Fprintf(w, "%s complete\n", domain.FormatRun(runTime))
	} else {
		labels := make([]string, len(missing))
		for i, o := range missing {
			labels[i] = fmt.Sprintf("f%03d", o)
		}
		fmt.Fprintf(w, "%s missing %d: %s\n", domain.FormatRun(runTime), len(missing), strings.Join(labels, " "))
	}

	if opts.failIncomplete && len(missing) > 0 {
		return exitIncomplete
	}
	return exitOK
}

func statusLabel(complete bool) string {
	if complete {
		return "complete"
	}
	return "incomplete"
}
