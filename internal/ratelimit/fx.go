package ratelimit

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedisClient),
	fx.Provide(NewAdminJobLimiter),
	fx.Provide(func(client *redis.Client) *SweepLock {
		return NewSweepLock(client, 5*time.Minute)
	}),
)
