package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Mindburn-Labs/bosun/pkg/draft"
	"github.com/Mindburn-Labs/bosun/pkg/engine"
)

func runCreateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("create", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		target      string
		payload     string
		payloadFile string
		category    string
		priority    string
		actor       string
		jsonOut     bool
	)
	cmd.StringVar(&target, "target", "", "Target profile name (REQUIRED)")
	cmd.StringVar(&payload, "payload", "", "Draft payload text")
	cmd.StringVar(&payloadFile, "payload-file", "", "Read the payload from a file (\"-\" for stdin)")
	cmd.StringVar(&category, "category", "", "Category override (defaults to the target kind)")
	cmd.StringVar(&priority, "priority", "", "Priority: low, normal, high or critical")
	cmd.StringVar(&actor, "actor", "agent", "Actor recorded in the audit trail")
	cmd.BoolVar(&jsonOut, "json", false, "Output the draft as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if target == "" {
		fmt.Fprintln(stderr, "Error: --target is required")
		cmd.Usage()
		return 2
	}
	if payloadFile != "" {
		data, err := readPayloadFile(payloadFile)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		payload = data
	}
	if payload == "" {
		fmt.Fprintln(stderr, "Error: --payload or --payload-file is required")
		cmd.Usage()
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	d, err := a.engine.Create(context.Background(), engine.CreateRequest{
		Target:   target,
		Payload:  payload,
		Category: category,
		Priority: draft.Priority(priority),
		Actor:    actor,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		printJSON(stdout, d)
		return 0
	}
	fmt.Fprintf(stdout, "Created %s (%s, %s)\n", d.ID, d.Target, d.Status)
	if len(d.Flags) > 0 {
		fmt.Fprintf(stdout, "  flagged for review: %s\n", strings.Join(d.Flags, ", "))
	}
	if d.ExpiresAt != nil {
		fmt.Fprintf(stdout, "  expires: %s\n", d.ExpiresAt.Format(time.RFC3339))
	}
	return 0
}

func readPayloadFile(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func runListCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("list", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		status  string
		target  string
		jsonOut bool
	)
	cmd.StringVar(&status, "status", "", "Filter by status (pending_approval, approved, posted, ...)")
	cmd.StringVar(&target, "target", "", "Filter by target")
	cmd.BoolVar(&jsonOut, "json", false, "Output drafts as a JSON array")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	drafts, err := a.engine.List(context.Background(), draft.Filter{
		Status: draft.Status(status),
		Target: target,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		if drafts == nil {
			drafts = []*draft.Draft{}
		}
		printJSON(stdout, drafts)
		return 0
	}
	if len(drafts) == 0 {
		fmt.Fprintln(stdout, "No drafts.")
		return 0
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTARGET\tSTATUS\tPRIORITY\tATTEMPTS\tCREATED\tPAYLOAD")
	for _, d := range drafts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			d.ID, d.Target, d.Status, d.Priority, d.Attempts,
			d.CreatedAt.Format(time.RFC3339), truncate(d.Payload, 48))
	}
	_ = tw.Flush()
	return 0
}

func runShowCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("show", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var jsonOut bool
	cmd.BoolVar(&jsonOut, "json", false, "Output the draft as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	id := cmd.Arg(0)
	if id == "" {
		fmt.Fprintln(stderr, "Usage: bosun show <id>")
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	d, err := a.engine.Get(context.Background(), id)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		printJSON(stdout, d)
		return 0
	}
	printDraftDetail(stdout, d)
	return 0
}

func printDraftDetail(w io.Writer, d *draft.Draft) {
	fmt.Fprintf(w, "Draft:     %s\n", d.ID)
	fmt.Fprintf(w, "Target:    %s\n", d.Target)
	fmt.Fprintf(w, "Status:    %s\n", d.Status)
	fmt.Fprintf(w, "Priority:  %s\n", d.Priority)
	if d.Category != "" {
		fmt.Fprintf(w, "Category:  %s\n", d.Category)
	}
	fmt.Fprintf(w, "Attempts:  %d\n", d.Attempts)
	fmt.Fprintf(w, "Created:   %s\n", d.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Approved:  %s\n", fmtTime(d.ApprovedAt))
	fmt.Fprintf(w, "Posted:    %s\n", fmtTime(d.PostedAt))
	fmt.Fprintf(w, "Scheduled: %s\n", fmtTime(d.ScheduledFor))
	fmt.Fprintf(w, "Expires:   %s\n", fmtTime(d.ExpiresAt))
	if len(d.Flags) > 0 {
		fmt.Fprintf(w, "Flags:     %s\n", strings.Join(d.Flags, ", "))
	}
	if d.Feedback != "" {
		fmt.Fprintf(w, "Feedback:  %s\n", d.Feedback)
	}
	if d.FailureReason != "" {
		fmt.Fprintf(w, "Failure:   %s\n", d.FailureReason)
	}
	if d.Receipt != nil {
		fmt.Fprintf(w, "Receipt:   %s (simulated=%t)\n", d.Receipt.ID, d.Receipt.Simulated)
	}
	fmt.Fprintf(w, "Payload:   %s\n", d.Payload)
}

func runApproveCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("approve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		actor   string
		jsonOut bool
	)
	cmd.StringVar(&actor, "actor", "operator", "Actor recorded in the audit trail")
	cmd.BoolVar(&jsonOut, "json", false, "Output the draft as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	id := cmd.Arg(0)
	if id == "" {
		fmt.Fprintln(stderr, "Usage: bosun approve <id> [--actor name]")
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	d, err := a.engine.Approve(context.Background(), id, actor)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		printJSON(stdout, d)
	}

	// A nil error can still mean the dispatch failed: the draft is held
	// in failed and another approve retries it.
	if d.Status == draft.StatusFailed {
		if !jsonOut {
			fmt.Fprintf(stdout, "Dispatch failed for %s (attempt %d): %s\n", d.ID, d.Attempts, d.FailureReason)
			fmt.Fprintln(stdout, "The draft is held in failed; approve again to retry.")
		}
		return 1
	}
	if !jsonOut {
		fmt.Fprintf(stdout, "Posted %s (attempt %d)\n", d.ID, d.Attempts)
		if d.Receipt != nil {
			fmt.Fprintf(stdout, "  receipt: %s (simulated=%t)\n", d.Receipt.ID, d.Receipt.Simulated)
		}
	}
	return 0
}

func runRejectCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reject", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		feedback string
		actor    string
		jsonOut  bool
	)
	cmd.StringVar(&feedback, "feedback", "", "Why the draft was rejected (REQUIRED)")
	cmd.StringVar(&actor, "actor", "operator", "Actor recorded in the audit trail")
	cmd.BoolVar(&jsonOut, "json", false, "Output the draft as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	id := cmd.Arg(0)
	if id == "" {
		fmt.Fprintln(stderr, "Usage: bosun reject <id> --feedback reason")
		return 2
	}
	if strings.TrimSpace(feedback) == "" {
		fmt.Fprintln(stderr, "Error: --feedback is required")
		cmd.Usage()
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	d, err := a.engine.Reject(context.Background(), id, feedback, actor)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		printJSON(stdout, d)
		return 0
	}
	fmt.Fprintf(stdout, "Rejected %s\n", d.ID)
	return 0
}

func runScheduleCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("schedule", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		at      string
		in      time.Duration
		actor   string
		jsonOut bool
	)
	cmd.StringVar(&at, "at", "", "Due time, RFC 3339 (e.g. 2026-09-01T09:00:00Z)")
	cmd.DurationVar(&in, "in", 0, "Due time as an offset from now (e.g. 2h45m)")
	cmd.StringVar(&actor, "actor", "operator", "Actor recorded in the audit trail")
	cmd.BoolVar(&jsonOut, "json", false, "Output the draft and entry as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	id := cmd.Arg(0)
	if id == "" {
		fmt.Fprintln(stderr, "Usage: bosun schedule <id> --at time | --in duration")
		return 2
	}

	var dueAt time.Time
	switch {
	case at != "" && in != 0:
		fmt.Fprintln(stderr, "Error: --at and --in are mutually exclusive")
		return 2
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			fmt.Fprintf(stderr, "Error: invalid --at time: %v\n", err)
			return 2
		}
		dueAt = t
	case in != 0:
		dueAt = time.Now().Add(in)
	default:
		fmt.Fprintln(stderr, "Error: --at or --in is required")
		cmd.Usage()
		return 2
	}

	a, err := buildApp(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	d, entry, err := a.engine.Schedule(context.Background(), id, dueAt, actor)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if jsonOut {
		printJSON(stdout, map[string]any{"draft": d, "entry": entry})
		return 0
	}
	fmt.Fprintf(stdout, "Scheduled %s for %s (entry %s)\n", d.ID, entry.DueAt.Format(time.RFC3339), entry.ID)
	return 0
}
