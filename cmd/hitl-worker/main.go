// Command hitl-worker resolves pending approval requests raised by
// workflows running behind cmd/fanout, polling a Redis stream instead
// of holding an HTTP connection open per run.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lyzr/agentflow/cmd/hitl-worker/worker"
	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/logger"
	redisw "github.com/lyzr/agentflow/common/redis"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	opts, err := config.Load("hitl-worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(opts.LogLevel, opts.LogFormat)

	redisAddr := opts.RedisAddr
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rawRedis := goredis.NewClient(&goredis.Options{Addr: redisAddr})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rawRedis.Ping(ctx).Err(); err != nil {
		log.Error("redis connect failed", "addr", redisAddr, "error", err)
		os.Exit(1)
	}
	redisClient := redisw.NewClient(rawRedis, log)

	fanoutURL := os.Getenv("FANOUT_URL")
	if fanoutURL == "" {
		fanoutURL = "http://localhost:8088"
	}

	w := worker.NewHITLWorker(redisClient, fanoutURL, log, worker.AutoApprove)

	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error("hitl worker stopped", "error", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig)
		cancel()
		<-errCh
	}
}
