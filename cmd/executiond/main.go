package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/execrepo/internal/config"
	"github.com/djlord-it/execrepo/internal/executionrepo"
	"github.com/djlord-it/execrepo/internal/leaderelection"
	"github.com/djlord-it/execrepo/internal/metrics"
	storeredis "github.com/djlord-it/execrepo/internal/store/redis"
	"github.com/djlord-it/execrepo/internal/sweeper"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`executiond - execution repository maintenance daemon

Usage:
  executiond <command>

Commands:
  serve      Start the index sweeper (runs only on the elected leader)
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)

Environment Variables:
  REDIS_ADDR                 Primary backend address (required)
  REDIS_PREVIOUS_ADDR        Previous backend address, for rolling migrations (optional)
  HTTP_ADDR / PORT           Not used by this process (metrics use METRICS_ADDR); reserved (default ":8080")

  CHUNK_SIZE                 Query streamer decode chunk size (default "75")
  QUERY_ALL_WORKERS          Whole-table scan worker pool size (default "10")
  QUERY_APP_WORKERS          Application-scoped query worker pool size (default "25")

  CORRELATION_RETRY_LIMIT    Correlation lookup transient-error retry cap (default "10")
  CONTEXT_MERGE_RETRY_LIMIT  storeExecutionContext optimistic-retry cap (default "10")

  CIRCUIT_BREAKER_THRESHOLD  Consecutive failures before a backend's circuit opens (default "5")
  CIRCUIT_BREAKER_COOLDOWN   Open-circuit cooldown before a half-open probe (default "2m")

  SWEEPER_ENABLED            Enable the index sweeper (default "false")
  SWEEP_INTERVAL             How often the sweeper runs (default "5m")
  SWEEPER_LOCK_KEY           Redis key used for sweeper leader election (default "execrepo:sweeper:lock")

  METRICS_ENABLED            Enable Prometheus metrics (default "false")
  METRICS_ADDR               Metrics server address (default ":9090")
  METRICS_PATH               Metrics endpoint path (default "/metrics")

  HTTP_SHUTDOWN_TIMEOUT      Graceful metrics-server shutdown timeout (default "10s")`)
}

func runValidate() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}
	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()
	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}
	fmt.Println(string(data))
	return exitSuccess
}

func runServe() int {
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	primaryClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer primaryClient.Close()
	if err := primaryClient.Ping(context.Background()).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to primary redis at %s: %v\n", cfg.RedisAddr, err)
		return exitRuntimeError
	}
	primary := storeredis.New(primaryClient)

	var opts executionrepo.Options
	opts.ChunkSize = cfg.ChunkSize
	opts.QueryAllWorkers = cfg.QueryAllWorkers
	opts.QueryAppWorkers = cfg.QueryAppWorkers
	opts.ContextMergeRetryLimit = cfg.ContextMergeRetryLimit
	opts.CorrelationRetryLimit = cfg.CorrelationRetryLimit
	opts.CircuitBreakerThreshold = cfg.CircuitBreakerThreshold
	opts.CircuitBreakerCooldown = cfg.CircuitBreakerCooldown

	electionClient := primaryClient
	if cfg.RedisPreviousAddr != "" {
		previousClient := redis.NewClient(&redis.Options{Addr: cfg.RedisPreviousAddr})
		defer previousClient.Close()
		if err := previousClient.Ping(context.Background()).Err(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to previous redis at %s: %v\n", cfg.RedisPreviousAddr, err)
			return exitRuntimeError
		}
		opts.Previous = storeredis.New(previousClient)
		log.Printf("executiond: dual-backend mode enabled (previous=%s)", cfg.RedisPreviousAddr)
	}

	var metricsSink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		promSink := metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		metricsSink = promSink

		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Printf("executiond: metrics server listening on %s%s", cfg.MetricsAddr, cfg.MetricsPath)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("executiond: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("executiond: METRICS_ENABLED not set; metrics disabled")
	}
	opts.Metrics = metricsSink

	repo := executionrepo.New(primary, opts)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	if cfg.SweeperEnabled {
		sweep := sweeper.New(sweeper.Config{Interval: cfg.SweepInterval}, repo, metricsSink)

		onElected := func(ctx context.Context) {
			log.Println("executiond: elected leader, starting sweeper")
			sweep.Run(ctx) // returns once the elector cancels ctx on demotion
		}
		onDemoted := func() {
			log.Println("executiond: demoted, sweeper stopping")
		}

		elector := leaderelection.New(
			electionClient,
			cfg.SweeperLockKey,
			3*cfg.SweepInterval, // lock TTL generously exceeds the heartbeat window
			10*time.Second,      // retry interval between acquisition attempts
			cfg.SweepInterval/3, // heartbeat interval, comfortably inside the lock TTL
			onElected,
			onDemoted,
		)

		electionCtx, cancelElection := context.WithCancel(context.Background())
		go elector.Run(electionCtx)

		log.Printf("executiond: started (sweeper enabled, interval=%s, lock_key=%s)", cfg.SweepInterval, cfg.SweeperLockKey)

		<-sig
		log.Println("executiond: received shutdown signal")
		cancelElection()
	} else {
		log.Println("executiond: SWEEPER_ENABLED not set; running with no background maintenance loop")
		log.Println("executiond: started")
		<-sig
		log.Println("executiond: received shutdown signal")
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("executiond: metrics server shutdown error: %v", err)
		}
	}

	log.Println("executiond: stopped")
	return exitSuccess
}
