package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/donasdosas/ledger/cmd/ledgerctl/cli"
	"github.com/donasdosas/ledger/internal/app"
	"github.com/donasdosas/ledger/jobs"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  recompute     re-walk the cash chain of a business
  gaps          list missing months (exit 10 when any)
  lock-through  lock every month up to --month
  lock-prior    lock every open month before the current one
  unlock        reopen --month
  enqueue       queue a worker job (--job ledger:recompute|ledger:close_prior_months)
  enqueue-close queue the month-end close for --businesses (default all)
  queue         show default queue depth
`

var known = map[string]bool{
	"recompute": true, "gaps": true, "lock-through": true, "lock-prior": true, "unlock": true,
	"enqueue": true, "enqueue-close": true, "queue": true,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitError
	}
	command, rest := args[0], args[1:]
	if !known[command] {
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", command, usage)
		return cli.ExitError
	}

	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	business := fs.Int64("business", 0, "business id")
	month := fs.String("month", "", "month as YYYY-MM")
	asOf := fs.String("as-of", "", "closing date as YYYY-MM-DD")
	asJSON := fs.Bool("json", false, "print JSON")
	job := fs.String("job", "", "task type to enqueue")
	businesses := fs.String("businesses", "", "comma separated business ids for enqueue; empty means all")
	if err := fs.Parse(rest); err != nil {
		return cli.ExitError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return cli.ExitError
	}
	logger := app.NewLogger(cfg).With(slog.String("component", "ledgerctl"))

	switch command {
	case "enqueue-close":
		return runJobs(ctx, cfg, "enqueue", jobs.TaskLedgerClosePrior, *businesses, *asOf, *asJSON, stdout, stderr)
	case "enqueue", "queue":
		return runJobs(ctx, cfg, command, *job, *businesses, *asOf, *asJSON, stdout, stderr)
	}

	services, err := app.BuildServices(ctx, cfg, logger, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "build services: %v\n", err)
		return cli.ExitError
	}
	defer services.Close()

	ops, err := cli.NewLedgerOpsCLI(services.Ledger)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return cli.ExitError
	}
	opts := cli.Options{
		BusinessID: *business,
		Month:      *month,
		AsOf:       *asOf,
		JSONOutput: *asJSON,
		Stdout:     stdout,
		Stderr:     stderr,
	}
	switch command {
	case "recompute":
		return ops.RecomputeCommand(ctx, opts)
	case "gaps":
		return ops.GapsCommand(ctx, opts)
	case "lock-through":
		return ops.LockThroughCommand(ctx, opts)
	case "lock-prior":
		return ops.LockPriorCommand(ctx, opts)
	case "unlock":
		return ops.UnlockCommand(ctx, opts)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", command, usage)
		return cli.ExitError
	}
}

func runJobs(ctx context.Context, cfg *app.Config, command, job, businesses, asOf string, asJSON bool, stdout, stderr io.Writer) int {
	redisOpt, err := cfg.AsynqRedis()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "redis: %v\n", err)
		return cli.ExitError
	}
	jobsCLI, err := cli.NewJobsCLI(redisOpt)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return cli.ExitError
	}
	defer func() { _ = jobsCLI.Close() }()

	if command == "queue" {
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "queue: %v\n", err)
			return cli.ExitError
		}
		if asJSON {
			_ = json.NewEncoder(stdout).Encode(stats)
			return cli.ExitOK
		}
		_, _ = fmt.Fprintf(stdout, "%s: pending %d, active %d, scheduled %d, retry %d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return cli.ExitOK
	}

	if job == "" {
		job = jobs.TaskLedgerRecompute
	}
	ids, err := parseIDs(businesses)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "enqueue: %v\n", err)
		return cli.ExitError
	}
	info, err := jobsCLI.Trigger(ctx, job, ids, asOf)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "enqueue: %v\n", err)
		return cli.ExitError
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	return cli.ExitOK
}

func parseIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid business id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
