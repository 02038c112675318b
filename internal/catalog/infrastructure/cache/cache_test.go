package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
)

type memoryStore struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet bool
}

func newMemoryStore() *memoryStore { return &memoryStore{data: make(map[string][]byte)} }

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, false, errors.New("connection refused")
	}
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

type countingRepo struct {
	plans map[uuid.UUID]*domain.Plan
	finds int
}

func (r *countingRepo) Save(_ context.Context, p *domain.Plan) error {
	r.plans[p.ID()] = p
	return nil
}

func (r *countingRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Plan, error) {
	r.finds++
	p, ok := r.plans[id]
	if !ok {
		return nil, domain.ErrUnknownPlan
	}
	return p, nil
}

func (r *countingRepo) ListByCenter(context.Context, uuid.UUID) ([]*domain.Plan, error) {
	return nil, nil
}

func newPlan(t *testing.T, name string) *domain.Plan {
	t.Helper()
	p, err := domain.NewPlan(uuid.New(), name, domain.Prices{
		Four:      decimal.NewFromInt(16000),
		Eight:     decimal.NewFromInt(28000),
		Unlimited: decimal.RequireFromString("45000.50"),
	}, "KZT", time.Now())
	require.NoError(t, err)
	return p
}

func TestPlanRepository_ReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingRepo{plans: map[uuid.UUID]*domain.Plan{}}
	store := newMemoryStore()
	repo := NewPlanRepository(backing, store, time.Minute, nil)

	plan := newPlan(t, "Chess")
	require.NoError(t, repo.Save(ctx, plan))

	first, err := repo.FindByID(ctx, plan.ID())
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, plan.ID())
	require.NoError(t, err)

	assert.Equal(t, 1, backing.finds)
	assert.Equal(t, first.Name(), second.Name())
	price, err := second.PriceFor("unlimited")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("45000.5")))
	assert.Equal(t, plan.CenterID(), second.CenterID())
}

func TestPlanRepository_SaveInvalidates(t *testing.T) {
	ctx := context.Background()
	backing := &countingRepo{plans: map[uuid.UUID]*domain.Plan{}}
	store := newMemoryStore()
	repo := NewPlanRepository(backing, store, time.Minute, nil)

	plan := newPlan(t, "Chess")
	require.NoError(t, repo.Save(ctx, plan))
	_, err := repo.FindByID(ctx, plan.ID())
	require.NoError(t, err)
	assert.Contains(t, store.data, planKey(plan.ID()))

	require.NoError(t, repo.Save(ctx, plan))
	assert.NotContains(t, store.data, planKey(plan.ID()))
}

func TestPlanRepository_CacheFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingRepo{plans: map[uuid.UUID]*domain.Plan{}}
	store := newMemoryStore()
	store.failGet = true
	repo := NewPlanRepository(backing, store, time.Minute, nil)

	plan := newPlan(t, "Chess")
	require.NoError(t, backing.Save(ctx, plan))

	got, err := repo.FindByID(ctx, plan.ID())
	require.NoError(t, err)
	assert.Equal(t, plan.ID(), got.ID())

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrUnknownPlan)
}

// TestRedisStore runs against a real server when REDIS_URL is set.
func TestRedisStore(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	store, err := NewRedisStoreFromURL(url, "lessonpass:test:"+uuid.NewString()+":")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	b, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), b)

	require.NoError(t, store.Delete(ctx, "k"))
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}
