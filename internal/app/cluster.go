package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/storyline/internal/cli"
	"horse.fit/storyline/internal/clustering"
	"horse.fit/storyline/internal/jobs"
)

func runCluster(args []string) int {
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "cluster does not accept positional arguments")
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid format: %v\n", err)
		return 2
	}

	rt, err := newRuntime(envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()

	sigCtx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, *timeout)
	defer cancel()

	var result clustering.RunResult
	_, runErr := rt.guard.Run(ctx, jobs.TypeClustering, func(ctx context.Context) (jobs.Result, error) {
		var err error
		result, err = rt.clustering.RunClustering(ctx)
		return result.JobResult(), err
	})
	if errors.Is(runErr, jobs.ErrAlreadyRunning) {
		fmt.Println("clustering already running; nothing to do")
		return 0
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Clustering failed: %v\n", runErr)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	}

	rows := [][]string{
		{"articles_processed", fmt.Sprintf("%d", result.ArticlesProcessed)},
		{"cluster_count", fmt.Sprintf("%d", result.ClusterCount)},
		{"qualifying_clusters", fmt.Sprintf("%d", result.Qualifying)},
		{"stories_created", fmt.Sprintf("%d", result.StoriesCreated)},
		{"fallback_syntheses", fmt.Sprintf("%d", result.Fallbacks)},
		{"failed_clusters", fmt.Sprintf("%d", result.Failures)},
	}
	if err := writeTable([]string{"metric", "value"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
		return 1
	}
	return 0
}
