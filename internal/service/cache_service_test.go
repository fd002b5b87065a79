package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable/internal/dto"
	"github.com/noah-isme/sma-timetable/internal/engine"
	appErrors "github.com/noah-isme/sma-timetable/pkg/errors"
)

type memoryCacheRepo struct {
	items map[string][]byte
	ttls  map[string]time.Duration
	err   error
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (r *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	if r.err != nil {
		return r.err
	}
	raw, ok := r.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.err != nil {
		return r.err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.items[key] = raw
	r.ttls[key] = ttl
	return nil
}

func (r *memoryCacheRepo) Delete(ctx context.Context, key string) error {
	delete(r.items, key)
	return nil
}

func (r *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	for key := range r.items {
		if strings.HasPrefix(key, prefix) {
			delete(r.items, key)
		}
	}
	return nil
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	var nilSvc *CacheService
	hit, err := nilSvc.Get(context.Background(), "k", &struct{}{})
	assert.False(t, hit)
	assert.NoError(t, err)
	assert.NoError(t, nilSvc.Set(context.Background(), "k", 1, 0))

	repo := newMemoryCacheRepo()
	off := NewCacheService(repo, nil, time.Minute, nil, false)
	require.NoError(t, off.Set(context.Background(), "k", 1, 0))
	assert.Empty(t, repo.items)
}

func TestCacheServiceGetSetAndMetrics(t *testing.T) {
	repo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	svc := NewCacheService(repo, metrics, time.Minute, nil, true)
	ctx := context.Background()

	var out []string
	hit, err := svc.Get(ctx, "school:s1:timetables", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "school:s1:timetables", []string{"7a"}, 0))
	assert.Equal(t, time.Minute, repo.ttls["school:s1:timetables"])

	hit, err = svc.Get(ctx, "school:s1:timetables", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []string{"7a"}, out)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("miss")))

	require.NoError(t, svc.Invalidate(ctx, "school:s1:*"))
	assert.Empty(t, repo.items)

	repo.err = errors.New("connection reset")
	_, err = svc.Get(ctx, "school:s1:timetables", &out)
	assert.Error(t, err)
}

func TestCacheProposalStoreUsesRemainingLifetime(t *testing.T) {
	repo := newMemoryCacheRepo()
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	store := &cacheProposalStore{
		cache: NewCacheService(repo, nil, time.Minute, nil, true),
		now:   func() time.Time { return now },
	}
	ctx := context.Background()
	proposal := timetableProposal{
		ID:        "p-1",
		SchoolID:  "school-1",
		Records:   []engine.TimetableRecord{{StreamID: "7a", GeneratedBy: engine.GeneratedBy}},
		ExpiresAt: now.Add(5 * time.Minute),
	}

	require.NoError(t, store.Save(ctx, proposal))
	assert.Equal(t, 5*time.Minute, repo.ttls["proposal:p-1"])

	got, ok, err := store.Get(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "school-1", got.SchoolID)
	assert.Equal(t, "7a", got.Records[0].StreamID)

	require.NoError(t, store.Delete(ctx, "p-1"))
	_, ok, err = store.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTimetableServiceListServesFromCache(t *testing.T) {
	fx := newTimetableFixture(t)
	repo := newMemoryCacheRepo()
	fx.svc.cache = NewCacheService(repo, nil, time.Minute, nil, true)
	fx.mock.ExpectBegin()
	fx.mock.ExpectCommit()
	_, err := fx.svc.Generate(context.Background(), "school-1", dto.GenerateTimetableRequest{DryRun: boolPtr(false)})
	require.NoError(t, err)

	first, hit, err := fx.svc.List(context.Background(), "school-1")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Contains(t, repo.items, "school:school-1:timetables")

	second, hit, err := fx.svc.List(context.Background(), "school-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, len(first), len(second))
	assert.Equal(t, first[0].ID, second[0].ID)
}
