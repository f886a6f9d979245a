package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"horse.fit/storyline/internal/cli"
	"horse.fit/storyline/internal/httpapi"
	"horse.fit/storyline/internal/jobs"
	"horse.fit/storyline/internal/logging"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	withScheduler := fs.Bool("schedule", false, "Also run the periodic job scheduler")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	rt, err := newRuntime(envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.close()

	triggers := map[jobs.Type]httpapi.JobFunc{
		jobs.TypeClustering: rt.clusteringJob,
	}
	if ingestJob := rt.ingestDirJob(); ingestJob != nil {
		triggers[jobs.TypeIngestion] = ingestJob
	}

	srv := httpapi.NewServer(rt.pool, rt.guard, triggers, logging.Component(rt.logger, "http"), httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		Metrics:         rt.metrics,
	})

	ctx, stop := signalContext()
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return srv.Start(groupCtx)
	})
	if *withScheduler {
		sched, err := rt.scheduler(0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build scheduler: %v\n", err)
			return 1
		}
		group.Go(func() error {
			return sched.Run(groupCtx)
		})
	}

	serveErr := group.Wait()

	// Manual runs are detached from the request; let them record before the
	// pool closes.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancelDrain()
	if err := rt.guard.Wait(drainCtx); err != nil {
		rt.logger.Warn().Err(err).Msg("background job runs did not finish before shutdown")
	}

	if err := serveErr; err != nil {
		rt.logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
