package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/storyline/internal/cli"
	"horse.fit/storyline/internal/jobs"
	"horse.fit/storyline/internal/logging"
	"horse.fit/storyline/internal/scheduler"
)

func runSchedule(args []string) int {
	fs := flag.NewFlagSet("schedule", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	interval := fs.Duration("interval", 0, "Tick interval (defaults to CLUSTER_INTERVAL)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rt, err := newRuntime(envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()

	sched, err := rt.scheduler(*interval)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build scheduler: %v\n", err)
		return 1
	}

	ctx, stop := signalContext()
	defer stop()

	if err := sched.Run(ctx); err != nil {
		rt.logger.Error().Err(err).Msg("scheduler failed")
		fmt.Fprintf(os.Stderr, "Scheduler failed: %v\n", err)
		return 1
	}
	return 0
}

// scheduler triggers ingestion (when INGEST_DIR is set) and then clustering.
func (rt *runtime) scheduler(interval time.Duration) (*scheduler.Scheduler, error) {
	if interval <= 0 {
		interval = rt.cfg.ClusterTick
	}

	var tasks []scheduler.Task
	if ingestJob := rt.ingestDirJob(); ingestJob != nil {
		tasks = append(tasks, scheduler.Task{Type: jobs.TypeIngestion, Fn: ingestJob})
	}
	tasks = append(tasks, scheduler.Task{Type: jobs.TypeClustering, Fn: rt.clusteringJob})

	return scheduler.New(rt.guard, interval, logging.Component(rt.logger, "scheduler"), tasks...)
}
