package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/storyline/internal/cli"
	"horse.fit/storyline/internal/globaltime"
	"horse.fit/storyline/internal/jobs"
)

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	jobType := fs.String("job", "", "Only show runs of this job type (ingestion or clustering)")
	limit := fs.Int("limit", 20, "Maximum job runs to show")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit <= 0 || *limit > 500 {
		fmt.Fprintln(os.Stderr, "--limit must be between 1 and 500")
		return 2
	}
	filter := strings.TrimSpace(strings.ToLower(*jobType))
	if filter != "" {
		if _, ok := jobs.ParseType(filter); !ok {
			fmt.Fprintln(os.Stderr, "--job must be ingestion or clustering")
			return 2
		}
	}
	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	ctx, cancel, pool, cfg, err := connectReadPool(*timeout, envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer cancel()
	defer pool.Close()

	runs, err := pool.ListJobRuns(ctx, filter, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query job runs: %v\n", err)
		return 1
	}
	stats, err := pool.GetArticleStats(ctx, globaltime.UTC().Add(-cfg.ClusterWindow))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query article stats: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(map[string]any{"articles": stats, "runs": runs}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	if err := writeTable([]string{"metric", "value"}, [][]string{
		{"articles_total", fmt.Sprintf("%d", stats.Total)},
		{"articles_unassigned_in_window", fmt.Sprintf("%d", stats.Unassigned)},
		{"cluster_window", cfg.ClusterWindow.String()},
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render article table: %v\n", err)
		return 1
	}

	fmt.Println()
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			run.JobType,
			run.Status,
			formatUTCTimestamp(run.StartedAt),
			formatUTCTimestampPtr(run.FinishedAt),
			fmt.Sprintf("%d", run.ArticlesProcessed),
			fmt.Sprintf("%d", run.StoriesCreated),
			fmt.Sprintf("%d", run.ClusterCount),
			pointerStringOrEmpty(run.ErrorMessage),
		})
	}
	if err := writeTable([]string{"job", "status", "started_at", "finished_at", "articles", "stories", "clusters", "error"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render job table: %v\n", err)
		return 1
	}
	return 0
}
