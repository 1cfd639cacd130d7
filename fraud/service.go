package fraud

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	countKeyPrefix = "fraud:count:"
	countTTL       = 30 * time.Second
)

// Counter is the read side of the fraud ledger.
type Counter interface {
	Count(ctx context.Context, freelancerID string) (int64, error)
}

// Service answers fraud-count lookups, fronting the repository with an
// optional Redis cache. Reputation reads are hot compared to flag writes, so
// a short TTL plus explicit invalidation on flag keeps the counter fresh.
type Service struct {
	repo  Counter
	cache *redis.Client
	log   *logrus.Logger
}

// NewService builds a Service. cache may be nil, in which case every read
// hits the repository.
func NewService(repo Counter, cache *redis.Client, log *logrus.Logger) *Service {
	return &Service{repo: repo, cache: cache, log: log}
}

// Count returns the number of fraud flags ever raised against a freelancer.
func (s *Service) Count(ctx context.Context, freelancerID string) (int64, error) {
	if s.cache != nil {
		val, err := s.cache.Get(ctx, countKeyPrefix+freelancerID).Result()
		if err == nil {
			if count, parseErr := strconv.ParseInt(val, 10, 64); parseErr == nil {
				return count, nil
			}
		} else if err != redis.Nil && s.log != nil {
			s.log.WithError(err).Warn("fraud count cache read failed")
		}
	}

	count, err := s.repo.Count(ctx, freelancerID)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, countKeyPrefix+freelancerID, count, countTTL).Err(); err != nil && s.log != nil {
			s.log.WithError(err).Warn("fraud count cache write failed")
		}
	}
	return count, nil
}

// Invalidate drops the cached count after a fraud flag commits. Best effort;
// the TTL bounds staleness if the delete fails.
func (s *Service) Invalidate(ctx context.Context, freelancerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, countKeyPrefix+freelancerID).Err(); err != nil && s.log != nil {
		s.log.WithError(err).Warn("fraud count cache invalidation failed")
	}
}
