// Command bosun is the operator CLI and daemon for the approval-gated
// dispatch engine. Drafts are created and reviewed here (or over the
// local REST API); nothing reaches an outside target without an approve.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing. It dispatches the subcommand named
// by args[1] and returns the process exit code: 0 on success, 1 when the
// operation fails, 2 on usage errors.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "create":
		return runCreateCmd(args[2:], stdout, stderr)
	case "list":
		return runListCmd(args[2:], stdout, stderr)
	case "show":
		return runShowCmd(args[2:], stdout, stderr)
	case "approve":
		return runApproveCmd(args[2:], stdout, stderr)
	case "reject":
		return runRejectCmd(args[2:], stdout, stderr)
	case "schedule":
		return runScheduleCmd(args[2:], stdout, stderr)
	case "limits":
		return runLimitsCmd(args[2:], stdout, stderr)
	case "metrics":
		return runMetricsCmd(args[2:], stdout, stderr)
	case "run-due":
		return runRunDueCmd(args[2:], stdout, stderr)
	case "watch":
		return runWatchCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "serve", "server":
		return runServeCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "bosun - approval-gated dispatch for agent actions")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "  bosun <command> [flags]")
	fmt.Fprintln(w, "")

	printSection(w, "DRAFTS")
	printCommand(w, "create", "Create a draft (--target, --payload)")
	printCommand(w, "list", "List drafts (--status, --target, --json)")
	printCommand(w, "show", "Show one draft (bosun show <id>)")

	printSection(w, "REVIEW")
	printCommand(w, "approve", "Approve and dispatch a draft")
	printCommand(w, "reject", "Reject a draft with feedback (--feedback)")
	printCommand(w, "schedule", "Defer approval until a due time (--at, --in)")

	printSection(w, "OPERATIONS")
	printCommand(w, "limits", "Show rate limit status per target")
	printCommand(w, "metrics", "Fetch engagement metrics for a target")
	printCommand(w, "run-due", "Fire due schedule entries and expire stale drafts")
	printCommand(w, "watch", "Watch the decision inbox directory")
	printCommand(w, "export", "Archive terminal drafts to a content-addressed bundle")
	printCommand(w, "serve", "Run the local REST API")

	printSection(w, "UTILITIES")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Configuration comes from the environment: STORE_DRIVER, SQLITE_PATH,")
	fmt.Fprintln(w, "DATABASE_URL, AUDIT_LOG, TARGETS_DIR, REVIEW_RULES, INBOX_DIR,")
	fmt.Fprintln(w, "ARCHIVE_URL, LISTEN_ADDR, SIMULATE_DISPATCH.")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s:\n", title)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %-10s %s\n", name, desc)
}
