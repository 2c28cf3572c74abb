package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimbase/controlplane/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyAdminJobOperator = "admin:jobs:operator:%s"
	keyReconcileSweep   = "reconcile:sweep:lock"
)

// AdminJobLimiter bounds how often each operator may trigger manual jobs.
// With redis unconfigured the limiter allows everything; manual triggers
// still go through authorization.
type AdminJobLimiter struct {
	enabled bool

	bucket *TokenBucket

	rate  float64
	burst int
}

func NewRedisClient(cfg config.Config) *redis.Client {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})
}

func NewAdminJobLimiter(cfg config.Config, client *redis.Client) *AdminJobLimiter {
	if client == nil || cfg.AdminJobRatePerHour <= 0 {
		return nil
	}
	perHour := cfg.AdminJobRatePerHour
	return &AdminJobLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    float64(perHour) / 3600,
		burst:   perHour,
	}
}

func (l *AdminJobLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowOperator takes one trigger token for the operator.
func (l *AdminJobLimiter) AllowOperator(ctx context.Context, operatorID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyAdminJobOperator, strings.TrimSpace(operatorID))
	return l.bucket.Allow(ctx, key, l.rate, l.burst)
}

// SweepLock wraps the shared reconciler sweep lock. Nil when redis is not
// configured; callers then run unlocked.
type SweepLock struct {
	locker *Locker
	ttl    time.Duration
}

func NewSweepLock(client *redis.Client, ttl time.Duration) *SweepLock {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SweepLock{locker: NewLocker(client), ttl: ttl}
}

func (s *SweepLock) TryLock(ctx context.Context) (string, bool, error) {
	if s == nil || s.locker == nil {
		return "", true, nil
	}
	return s.locker.TryLock(ctx, keyReconcileSweep, s.ttl)
}

func (s *SweepLock) Release(ctx context.Context, token string) error {
	if s == nil || s.locker == nil {
		return nil
	}
	return s.locker.Release(ctx, keyReconcileSweep, token)
}
