package repository

import (
	"context"
	"sync/atomic"
	"time"

	"mlcopy/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverTokenCache prefers the primary cache (redis) and drops to the
// fallback (memory) when the primary errors. It probes the primary again
// after a minute.
type FailoverTokenCache struct {
	primary   domain.TokenCache
	fallback  domain.TokenCache
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverTokenCache(primary, fallback domain.TokenCache, logger *zerolog.Logger) *FailoverTokenCache {
	return &FailoverTokenCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverTokenCache) Get(ctx context.Context, account string) (string, error) {
	if !r.isDown.Load() {
		token, err := r.primary.Get(ctx, account)
		if err == nil {
			return token, nil
		}
		r.logger.Error().Err(err).Msg("Primary token cache failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		token, err := r.primary.Get(ctx, account)
		if err == nil {
			r.isDown.Store(false)
			return token, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.Get(ctx, account)
}

func (r *FailoverTokenCache) Set(ctx context.Context, account, token string, ttl time.Duration) error {
	// Always write the fallback so a later failover still sees fresh tokens.
	_ = r.fallback.Set(ctx, account, token, ttl)

	if !r.isDown.Load() {
		err := r.primary.Set(ctx, account, token, ttl)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary token cache failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}
	return nil
}

func (r *FailoverTokenCache) Delete(ctx context.Context, account string) error {
	_ = r.fallback.Delete(ctx, account)

	if !r.isDown.Load() {
		err := r.primary.Delete(ctx, account)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary token cache failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}
	return nil
}
