package city

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/FACorreiaa/worldwise-cities/app/observability/metrics"
	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

var _ Service = (*ServiceImpl)(nil)

type Service interface {
	ListCities(ctx context.Context) ([]types.City, error)
	// GetCity returns (nil, nil) when the city does not exist.
	GetCity(ctx context.Context, id int64) (*types.City, error)
	CreateCity(ctx context.Context, city types.City) (*types.City, error)
	DeleteCity(ctx context.Context, id int64) error
}

type ServiceImpl struct {
	logger *slog.Logger
	repo   Repository
	cache  *cache.Cache

	// cacheMu and gen keep a lookup that raced a mutation from caching what it read.
	cacheMu sync.Mutex
	gen     uint64
}

// NewCityService wraps repo. A ttl of zero disables the lookup cache.
func NewCityService(repo Repository, logger *slog.Logger, ttl, cleanup time.Duration) *ServiceImpl {
	s := &ServiceImpl{
		logger: logger,
		repo:   repo,
	}
	if ttl > 0 {
		s.cache = cache.New(ttl, cleanup)
	}
	return s
}

func (s *ServiceImpl) ListCities(ctx context.Context) ([]types.City, error) {
	ctx, span := otel.Tracer("CityService").Start(ctx, "ListCities")
	defer span.End()

	l := s.logger.With(slog.String("method", "ListCities"))
	l.DebugContext(ctx, "Retrieving all cities")

	done := observe(ctx, "list")
	cities, err := s.repo.ListAll(ctx)
	done(err)
	if err != nil {
		l.ErrorContext(ctx, "Failed to retrieve cities from repository", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Repository operation failed")
		return nil, fmt.Errorf("failed to retrieve cities: %w", err)
	}

	span.SetAttributes(attribute.Int("cities.count", len(cities)))
	span.SetStatus(codes.Ok, "Cities retrieved successfully")
	return cities, nil
}

func (s *ServiceImpl) GetCity(ctx context.Context, id int64) (*types.City, error) {
	ctx, span := otel.Tracer("CityService").Start(ctx, "GetCity")
	defer span.End()
	span.SetAttributes(attribute.Int64("city.id", id))

	l := s.logger.With(slog.String("method", "GetCity"), slog.Int64("id", id))

	key := strconv.FormatInt(id, 10)
	var gen uint64
	if s.cache != nil {
		if cached, found := s.cache.Get(key); found {
			metrics.Get().CacheHitsTotal.Add(ctx, 1)
			c := cached.(types.City).Clone()
			return &c, nil
		}
		gen = s.generation()
	}

	done := observe(ctx, "get")
	city, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, types.ErrNotFound) {
		done(nil)
		l.DebugContext(ctx, "City not found")
		return nil, nil
	}
	done(err)
	if err != nil {
		l.ErrorContext(ctx, "Failed to retrieve city", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Repository operation failed")
		return nil, fmt.Errorf("failed to retrieve city %d: %w", id, err)
	}

	s.storeIfCurrent(key, *city, gen)
	return city, nil
}

func (s *ServiceImpl) CreateCity(ctx context.Context, city types.City) (*types.City, error) {
	ctx, span := otel.Tracer("CityService").Start(ctx, "CreateCity")
	defer span.End()

	l := s.logger.With(slog.String("method", "CreateCity"))

	done := observe(ctx, "create")
	created, err := s.repo.Create(ctx, city)
	done(err)
	if err != nil {
		l.ErrorContext(ctx, "Failed to create city", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Repository operation failed")
		return nil, fmt.Errorf("failed to create city: %w", err)
	}

	s.invalidate(strconv.FormatInt(created.ID, 10))
	l.InfoContext(ctx, "City created", slog.Int64("id", created.ID))
	span.SetAttributes(attribute.Int64("city.id", created.ID))
	return created, nil
}

func (s *ServiceImpl) DeleteCity(ctx context.Context, id int64) error {
	ctx, span := otel.Tracer("CityService").Start(ctx, "DeleteCity")
	defer span.End()
	span.SetAttributes(attribute.Int64("city.id", id))

	l := s.logger.With(slog.String("method", "DeleteCity"), slog.Int64("id", id))

	key := strconv.FormatInt(id, 10)
	s.invalidate(key)

	done := observe(ctx, "delete")
	err := s.repo.DeleteByID(ctx, id)
	done(err)
	// a lookup that ran during the delete may have cached the old record
	s.invalidate(key)
	if err != nil {
		l.ErrorContext(ctx, "Failed to delete city", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Repository operation failed")
		return fmt.Errorf("failed to delete city %d: %w", id, err)
	}

	l.InfoContext(ctx, "City deleted")
	return nil
}

func (s *ServiceImpl) generation() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.gen
}

// storeIfCurrent caches city unless a mutation happened since gen was read.
func (s *ServiceImpl) storeIfCurrent(key string, city types.City, gen uint64) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.gen == gen {
		s.cache.SetDefault(key, city.Clone())
	}
}

func (s *ServiceImpl) invalidate(key string) {
	if s.cache == nil {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.gen++
	s.cache.Delete(key)
}

// observe counts a store operation and returns a func recording its outcome.
func observe(ctx context.Context, op string) func(error) {
	m := metrics.Get()
	attrs := metric.WithAttributes(attribute.String("op", op))
	m.CityRequestsTotal.Add(ctx, 1, attrs)
	start := time.Now()
	return func(err error) {
		m.StoreOpDurationSeconds.Record(ctx, time.Since(start).Seconds(), attrs)
		if err != nil {
			m.StoreOpErrorsTotal.Add(ctx, 1, attrs)
		}
	}
}
