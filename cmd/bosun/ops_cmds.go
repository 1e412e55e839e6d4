package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Mindburn-Labs/bosun/pkg/archive"
	"github.com/Mindburn-Labs/bosun/pkg/inbox"
	"github.com/Mindburn-Labs/bosun/pkg/limiter"
	"github.com/Mindburn-Labs/bosun/pkg/runner"
)

func runLimitsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("limits", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jsonOut bool
	cmd.BoolVar(&jsonOut, "json", false, "Output statuses as a JSON array")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	targets := []string{cmd.Arg(0)}
	if cmd.Arg(0) == "" {
		targets = a.engine.Targets().Names()
	}

	statuses := make([]limiter.Status, 0, len(targets))
	for _, target := range targets {
		st, err := a.engine.LimitStatus(context.Background(), target)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		statuses = append(statuses, st)
	}

	if jsonOut {
		printJSON(stdout, statuses)
		return 0
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tCAPACITY\tTOKENS\tAVAILABLE")
	for _, st := range statuses {
		if st.Unlimited {
			fmt.Fprintf(tw, "%s\tunlimited\t-\tyes\n", st.Target)
			continue
		}
		available := "no"
		if st.AvailableNow {
			available = "yes"
		}
		fmt.Fprintf(tw, "%s\t%.0f\t%d\t%s\n", st.Target, st.Capacity, st.TokensFloor, available)
	}
	_ = tw.Flush()
	return 0
}

func runMetricsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("metrics", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		period  string
		jsonOut bool
	)
	cmd.StringVar(&period, "period", "7d", "Reporting period requested from the platform")
	cmd.BoolVar(&jsonOut, "json", false, "Output metrics as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	target := cmd.Arg(0)
	if target == "" {
		fmt.Fprintln(stderr, "Usage: bosun metrics <target> [--period 7d]")
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	m, err := a.engine.Metrics(context.Background(), target, period)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		printJSON(stdout, m)
		return 0
	}
	fmt.Fprintf(stdout, "Metrics for %s over %s (simulated=%t)\n", m.Target, m.Period, m.Simulated)
	keys := make([]string, 0, len(m.Values))
	for k := range m.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%g\n", k, m.Values[k])
	}
	_ = tw.Flush()
	return 0
}

func runRunDueCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("run-due", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jsonOut bool
	cmd.BoolVar(&jsonOut, "json", false, "Output the pass result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	run := runner.New(a.engine, a.register, runner.WithAudit(a.audit), runner.WithLogger(a.logger))
	res, err := run.RunOnce(context.Background(), time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		printJSON(stdout, res)
	} else {
		fmt.Fprintf(stdout, "expired=%d fired=%d stale=%d errored=%d\n",
			len(res.Expired), len(res.Fired), len(res.Stale), len(res.Errored))
	}
	if len(res.Errored) > 0 {
		return 1
	}
	return 0
}

func runWatchCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("watch", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		dir    string
		rescan time.Duration
	)
	cmd.StringVar(&dir, "dir", "", "Inbox directory (overrides INBOX_DIR)")
	cmd.DurationVar(&rescan, "rescan", 30*time.Second, "Full rescan interval")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if dir == "" {
		dir = a.cfg.InboxDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(stdout, "Watching %s for decision files (ctrl+c to stop)\n", dir)
	w := inbox.New(dir, a.engine, inbox.WithLogger(a.logger), inbox.WithRescanInterval(rescan))
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Stopped.")
	return 0
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		dest    string
		jsonOut bool
	)
	cmd.StringVar(&dest, "dest", "", "Archive destination: a directory, s3://bucket/prefix or gs://bucket/prefix (overrides ARCHIVE_URL)")
	cmd.BoolVar(&jsonOut, "json", false, "Output the export result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if dest == "" {
		dest = a.cfg.ArchiveURL
	}

	ctx := context.Background()
	sink, err := archive.NewSink(ctx, dest)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	exporter := archive.NewExporter(a.drafts, archive.WithAuditLog(a.cfg.AuditLogPath))
	res, err := exporter.Export(ctx, sink)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		printJSON(stdout, res)
		return 0
	}
	if res.Skipped {
		fmt.Fprintf(stdout, "Bundle %s already archived, skipped.\n", res.Digest)
		return 0
	}
	fmt.Fprintf(stdout, "Archived %d drafts and %d events to %s\n", res.Drafts, res.Events, res.Key)
	fmt.Fprintf(stdout, "  digest: %s\n", res.Digest)
	return 0
}
