// Package sweeper runs the index sweeper: a background loop that drives
// every execution through the query streamer's inline self-heal and
// proactively garbage-collects completed correlation pointers, so index
// consistency holds even over rows nothing else is actively querying.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/djlord-it/execrepo/internal/domain"
	"github.com/djlord-it/execrepo/internal/streamutil"
)

// executionResult matches executionrepo.ExecutionResult's underlying type
// (a type alias for streamutil.Result[*domain.Execution]), so a real
// *executionrepo.Repository satisfies Repository without this package
// importing executionrepo.
type executionResult = streamutil.Result[*domain.Execution]

// Repository is the subset of executionrepo.Repository the sweeper drives.
type Repository interface {
	RetrieveAll(ctx context.Context, t domain.ExecutionType) <-chan executionResult
	SweepCorrelations(ctx context.Context) (int, error)
}

// MetricsSink defines the interface for recording sweep-cycle metrics.
type MetricsSink interface {
	SweepCompleted(duration time.Duration, healed int)
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweeper runs. Default: 5 minutes.
	Interval time.Duration
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Minute}
}

// Sweeper drives the repository's self-healing and correlation GC paths on
// an interval. It is meant to run only on the instance holding the
// leader-election lock.
type Sweeper struct {
	config  Config
	repo    Repository
	metrics MetricsSink
	clock   func() time.Time
}

// New creates a new Sweeper.
func New(config Config, repo Repository, metrics MetricsSink) *Sweeper {
	return &Sweeper{config: config, repo: repo, metrics: metrics, clock: time.Now}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Printf("sweeper: started (interval=%s)", s.config.Interval)

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper: stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep: every pipeline and orchestration record is
// streamed to completion (forcing self-heal of any stale index entry found
// along the way), then every correlation pointer is checked for GC.
func (s *Sweeper) runCycle(ctx context.Context) {
	start := s.clock()
	healed := 0

	for _, t := range []domain.ExecutionType{domain.Pipeline, domain.Orchestration} {
		seen, errs := s.drain(ctx, t)
		if errs > 0 {
			log.Printf("sweeper: %s scan hit %d errors (seen=%d)", t, errs, seen)
		}
	}

	gced, err := s.repo.SweepCorrelations(ctx)
	if err != nil {
		log.Printf("sweeper: correlation sweep failed: %v", err)
	} else {
		healed += gced
	}

	log.Printf("sweeper: cycle complete, correlation_gc=%d, duration=%s", gced, s.clock().Sub(start))
	if s.metrics != nil {
		s.metrics.SweepCompleted(s.clock().Sub(start), healed)
	}
}

// drain streams every execution of type t to completion, counting how many
// were seen and how many errors surfaced. Self-healing happens as a side
// effect of the query streamer noticing and correcting stale index entries
// while it streams, not as anything this loop does directly.
func (s *Sweeper) drain(ctx context.Context, t domain.ExecutionType) (seen, errs int) {
	for r := range s.repo.RetrieveAll(ctx, t) {
		if r.Err != nil {
			errs++
			continue
		}
		seen++
	}
	return seen, errs
}
