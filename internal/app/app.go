package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "cluster", "run-once":
		return runCluster(args[1:])
	case "schedule":
		return runSchedule(args[1:])
	case "serve":
		return runServe(args[1:])
	case "status":
		return runStatus(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "storyline CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  storyline <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity and migrations")
	fmt.Fprintln(os.Stderr, "  ingest    Import news item JSON files or stdin into articles")
	fmt.Fprintln(os.Stderr, "  validate  Validate news item JSON files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  cluster   Run one clustering job (group, synthesize, store stories)")
	fmt.Fprintln(os.Stderr, "  run-once  Alias for cluster")
	fmt.Fprintln(os.Stderr, "  schedule  Trigger ingestion and clustering on CLUSTER_INTERVAL")
	fmt.Fprintln(os.Stderr, "  serve     Start the Echo API server (optionally with the scheduler)")
	fmt.Fprintln(os.Stderr, "  status    Show recent job runs and the article backlog")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"storyline <command> -h\" for command-specific flags.")
}
