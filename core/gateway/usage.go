package gateway

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultUsageTTL   = 48 * time.Hour
	usageSampleMaxLen = 1000
)

// UsageStore keeps per-tenant daily execution counters and execution-time
// samples in Redis. Every key carries a TTL so the metrics self-expire.
type UsageStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewUsageStore wraps an existing Redis client.
func NewUsageStore(rc redis.UniversalClient, ttl time.Duration) *UsageStore {
	if ttl <= 0 {
		ttl = defaultUsageTTL
	}
	return &UsageStore{client: rc, ttl: ttl}
}

// Record increments the tenant's daily total and per-status counters and,
// when a duration is known, appends an execution-time sample.
func (s *UsageStore) Record(ctx context.Context, tenantID, status string, executionMS float64) error {
	if tenantID == "" {
		return fmt.Errorf("tenant id required")
	}
	day := time.Now().UTC().Format("2006-01-02")
	totalKey := usageKey(tenantID, day, "total")
	statusKey := usageKey(tenantID, day, "status_"+status)

	pipe := s.client.TxPipeline()
	pipe.Incr(ctx, totalKey)
	pipe.Expire(ctx, totalKey, s.ttl)
	pipe.Incr(ctx, statusKey)
	pipe.Expire(ctx, statusKey, s.ttl)
	if executionMS > 0 {
		sampleKey := usageSamplesKey(tenantID, day)
		pipe.RPush(ctx, sampleKey, strconv.FormatFloat(executionMS, 'f', 1, 64))
		pipe.LTrim(ctx, sampleKey, -usageSampleMaxLen, -1)
		pipe.Expire(ctx, sampleKey, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Counter reads one daily counter; missing keys count as zero.
func (s *UsageStore) Counter(ctx context.Context, tenantID, day, name string) (int64, error) {
	val, err := s.client.Get(ctx, usageKey(tenantID, day, name)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}

// Samples returns the recorded execution-time samples for a tenant day.
func (s *UsageStore) Samples(ctx context.Context, tenantID, day string) ([]float64, error) {
	raw, err := s.client.LRange(ctx, usageSamplesKey(tenantID, day), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(raw))
	for _, item := range raw {
		if v, err := strconv.ParseFloat(item, 64); err == nil {
			out = append(out, v)
		}
	}
	return out, nil
}

func usageKey(tenantID, day, name string) string {
	return fmt.Sprintf("weft:usage:%s:%s:%s", tenantID, day, name)
}

func usageSamplesKey(tenantID, day string) string {
	return fmt.Sprintf("weft:usage:%s:%s:exec_ms", tenantID, day)
}
