package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/storyline/internal/cli"
	"horse.fit/storyline/internal/ingest"
	"horse.fit/storyline/internal/jobs"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dir := fs.String("dir", "", "Directory of .json/.ndjson news item files (defaults to INGEST_DIR)")
	file := fs.String("file", "", "Single news item file, or - for stdin")
	recursive := fs.Bool("recursive", true, "Recursively scan subdirectories")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "ingest does not accept positional arguments")
		return 2
	}
	if strings.TrimSpace(*dir) != "" && strings.TrimSpace(*file) != "" {
		fmt.Fprintln(os.Stderr, "use either --dir or --file, not both")
		return 2
	}

	rt, err := newRuntime(envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()

	source := strings.TrimSpace(*file)
	root := strings.TrimSpace(*dir)
	if source == "" && root == "" {
		root = strings.TrimSpace(rt.cfg.IngestDir)
	}
	if source == "" && root == "" {
		fmt.Fprintln(os.Stderr, "nothing to ingest: pass --dir, --file or set INGEST_DIR")
		return 2
	}

	sigCtx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(sigCtx, *timeout)
	defer cancel()

	var result ingest.Result
	_, runErr := rt.guard.Run(ctx, jobs.TypeIngestion, func(ctx context.Context) (jobs.Result, error) {
		var err error
		switch {
		case source == "-":
			result, err = rt.ingest.ImportReader(ctx, os.Stdin, "stdin")
		case source != "":
			result, err = importFile(ctx, rt.ingest, source)
		default:
			result, err = rt.ingest.ImportDir(ctx, root, *recursive)
		}
		return result.JobResult(), err
	})
	if errors.Is(runErr, jobs.ErrAlreadyRunning) {
		fmt.Println("ingestion already running; nothing to do")
		return 0
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", runErr)
		return 1
	}

	fmt.Printf(
		"ingest files=%d scanned=%d inserted=%d duplicates=%d invalid=%d\n",
		result.Files,
		result.Scanned,
		result.Inserted,
		result.Duplicates,
		result.Invalid,
	)
	return 0
}

func importFile(ctx context.Context, service *ingest.Service, path string) (ingest.Result, error) {
	handle, err := os.Open(path)
	if err != nil {
		return ingest.Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer handle.Close()

	result, err := service.ImportReader(ctx, handle, path)
	result.Files = 1
	return result, err
}
