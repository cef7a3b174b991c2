// Package leaderelection provides Redis lock-based leader election.
//
// A single key, set with SET key value NX PX, determines the leader.
// Unlike a Postgres session-scoped advisory lock, a Redis key has no
// notion of "the connection that set it died, release it" -- the lock
// must be renewed on a heartbeat or it expires out from under the holder.
// The heartbeat renews the lock (PEXPIRE, guarded by a token check so a
// holder can never renew a lock it no longer owns) and, if renewal fails
// or finds the lock already gone, demotes the instance immediately.
package leaderelection

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "lock_lost", "renew_failed"
}

// renewScript renews lockKey's TTL only if it is still held by this
// instance's token, so a holder can never extend a lock it lost to expiry
// and another instance subsequently acquired.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// releaseScript deletes lockKey only if it is still held by this
// instance's token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Elector manages leader election using a Redis lock key.
type Elector struct {
	client            *redis.Client
	lockKey           string
	lockTTL           time.Duration // lease length; must exceed heartbeatInterval
	retryInterval     time.Duration // follower: how often to attempt lock acquisition
	heartbeatInterval time.Duration // leader: how often to renew the lock
	onElected         func(ctx context.Context)
	onDemoted         func()
	metrics           MetricsSink // optional, nil = disabled
}

// New creates a new Elector.
//
// onElected is called in a new goroutine when this instance acquires the
// lock. The provided context is cancelled when leadership is lost.
// onElected should start leader duties (the sweeper) and return quickly.
//
// onDemoted is called synchronously when leadership is lost. It should
// stop leader duties and block until they are fully stopped. It must be
// idempotent.
func New(
	client *redis.Client,
	lockKey string,
	lockTTL, retryInterval, heartbeatInterval time.Duration,
	onElected func(ctx context.Context),
	onDemoted func(),
) *Elector {
	return &Elector{
		client:            client,
		lockKey:           lockKey,
		lockTTL:           lockTTL,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onElected:         onElected,
		onDemoted:         onDemoted,
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// Run starts the leader election loop. It blocks until ctx is cancelled.
func (e *Elector) Run(ctx context.Context) {
	log.Printf("leader: starting election loop (lock_key=%s, ttl=%s, retry=%s, heartbeat=%s)",
		e.lockKey, e.lockTTL, e.retryInterval, e.heartbeatInterval)

	for {
		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		reason := e.runOnce(ctx)

		if ctx.Err() != nil {
			log.Println("leader: election loop stopped")
			return
		}

		if reason != "" {
			log.Printf("leader: lost leadership (reason=%s), will retry in %s", reason, e.retryInterval)
		}

		select {
		case <-ctx.Done():
			log.Println("leader: election loop stopped")
			return
		case <-time.After(e.retryInterval):
		}
	}
}

// runOnce attempts to acquire the lock and hold it via heartbeat renewal.
// Returns the reason leadership was lost ("" if the lock was not acquired).
func (e *Elector) runOnce(ctx context.Context) string {
	token := uuid.NewString()

	acquired, err := e.client.SetNX(ctx, e.lockKey, token, e.lockTTL).Result()
	if err != nil {
		log.Printf("leader: lock acquisition failed: %v", err)
		return ""
	}
	if !acquired {
		log.Printf("leader: lock %q held by another instance, retrying in %s", e.lockKey, e.retryInterval)
		return ""
	}

	log.Printf("leader: acquired lock %q", e.lockKey)
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	leaderCtx, cancelLeader := context.WithCancel(ctx)

	go e.onElected(leaderCtx)

	reason := e.holdLock(ctx, token)

	cancelLeader()
	e.onDemoted()
	e.release(token)

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}

	log.Printf("leader: released lock %q", e.lockKey)
	return reason
}

// holdLock blocks, renewing the lock on every heartbeat tick. Returns the
// reason the lock was lost.
func (e *Elector) holdLock(ctx context.Context, token string) string {
	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			renewed, err := renewScript.Run(ctx, e.client, []string{e.lockKey}, token, e.lockTTL.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				log.Printf("leader: lock renewal failed: %v", err)
				return "renew_failed"
			}
			if renewed == 0 {
				log.Printf("leader: lock %q no longer held (expired before renewal)", e.lockKey)
				return "lock_lost"
			}
		}
	}
}

// release deletes the lock key if this instance's token still owns it,
// using a background context since the caller's ctx may already be
// cancelled.
func (e *Elector) release(token string) {
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := releaseScript.Run(releaseCtx, e.client, []string{e.lockKey}, token).Int(); err != nil {
		log.Printf("leader: lock release failed: %v", err)
	}
}
