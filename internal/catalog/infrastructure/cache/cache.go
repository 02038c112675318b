// Package cache keeps read-through copies of catalog plans.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/felixgeelhaar/lessonpass/internal/catalog/domain"
)

// Store is a byte-oriented key/value cache. Get reports a miss with
// found=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisStore implements Store on go-redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore namespaces every key under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromURL parses a redis:// URL.
func NewRedisStoreFromURL(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisStore(redis.NewClient(opts), prefix), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Ping checks connectivity for health reporting.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// planSnapshot is the cached form of a plan.
type planSnapshot struct {
	ID             uuid.UUID       `json:"id"`
	CenterID       uuid.UUID       `json:"center_id"`
	Name           string          `json:"name"`
	Price4         decimal.Decimal `json:"price_4"`
	Price8         decimal.Decimal `json:"price_8"`
	PriceUnlimited decimal.Decimal `json:"price_unlimited"`
	Currency       string          `json:"currency"`
	CreatedAt      time.Time       `json:"created_at"`
}

// PlanRepository is a read-through cache in front of another repository.
// Cache failures are logged and fall through to the backing store.
type PlanRepository struct {
	next   domain.PlanRepository
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewPlanRepository(next domain.PlanRepository, store Store, ttl time.Duration, logger *slog.Logger) *PlanRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanRepository{next: next, store: store, ttl: ttl, logger: logger.With("component", "plan_cache")}
}

func planKey(id uuid.UUID) string { return "plan:" + id.String() }

func (r *PlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Plan, error) {
	key := planKey(id)
	if b, found, err := r.store.Get(ctx, key); err != nil {
		r.logger.WarnContext(ctx, "plan cache read failed", "plan_id", id, "error", err)
	} else if found {
		var snap planSnapshot
		if err := json.Unmarshal(b, &snap); err == nil {
			return domain.RehydratePlan(snap.ID, snap.CenterID, snap.Name, domain.Prices{
				Four:      snap.Price4,
				Eight:     snap.Price8,
				Unlimited: snap.PriceUnlimited,
			}, snap.Currency, snap.CreatedAt), nil
		}
	}

	p, err := r.next.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.put(ctx, p)
	return p, nil
}

func (r *PlanRepository) Save(ctx context.Context, p *domain.Plan) error {
	if err := r.next.Save(ctx, p); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, planKey(p.ID())); err != nil {
		r.logger.WarnContext(ctx, "plan cache invalidation failed", "plan_id", p.ID(), "error", err)
	}
	return nil
}

func (r *PlanRepository) ListByCenter(ctx context.Context, centerID uuid.UUID) ([]*domain.Plan, error) {
	return r.next.ListByCenter(ctx, centerID)
}

func (r *PlanRepository) put(ctx context.Context, p *domain.Plan) {
	prices := p.Prices()
	b, err := json.Marshal(planSnapshot{
		ID:             p.ID(),
		CenterID:       p.CenterID(),
		Name:           p.Name(),
		Price4:         prices.Four,
		Price8:         prices.Eight,
		PriceUnlimited: prices.Unlimited,
		Currency:       p.Currency(),
		CreatedAt:      p.CreatedAt(),
	})
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, planKey(p.ID()), b, r.ttl); err != nil {
		r.logger.WarnContext(ctx, "plan cache write failed", "plan_id", p.ID(), "error", err)
	}
}

var _ domain.PlanRepository = (*PlanRepository)(nil)
