package city

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/worldwise-cities/internal/firebase"
	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

var _ Repository = (*RemoteRepository)(nil)

// DocumentStore is what RemoteRepository needs from the firebase client.
type DocumentStore interface {
	FetchAll(ctx context.Context) (firebase.Snapshot, error)
	CreateAt(ctx context.Context, snap firebase.Snapshot, city types.City) (string, error)
	DeleteEntry(ctx context.Context, entry firebase.Entry) error
}

// RemoteRepository serves the collection straight from the hosted document
// store. Every call fetches the whole collection first; there is no local copy.
type RemoteRepository struct {
	logger *slog.Logger
	store  DocumentStore
	now    Clock
}

func NewRemoteRepository(store DocumentStore, logger *slog.Logger) *RemoteRepository {
	return &RemoteRepository{
		logger: logger,
		store:  store,
		now:    time.Now,
	}
}

// WithClock replaces the id clock.
func (r *RemoteRepository) WithClock(now Clock) *RemoteRepository {
	r.now = now
	return r
}

func (r *RemoteRepository) ListAll(ctx context.Context) ([]types.City, error) {
	snap, err := r.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cities: %w", err)
	}
	return snap.Cities(), nil
}

func (r *RemoteRepository) GetByID(ctx context.Context, id int64) (*types.City, error) {
	snap, err := r.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cities: %w", err)
	}
	entry, ok := snap.Find(id)
	if !ok {
		return nil, types.ErrNotFound
	}
	c := entry.City.Clone()
	c.Index = entry.Key
	return &c, nil
}

func (r *RemoteRepository) Create(ctx context.Context, city types.City) (*types.City, error) {
	snap, err := r.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch cities: %w", err)
	}

	city = city.WithoutIndex()
	generated := city.EnsureID(r.now())
	if _, exists := snap.Find(city.ID); exists {
		if !generated {
			return nil, fmt.Errorf("city %d: %w", city.ID, types.ErrConflict)
		}
		for {
			if _, exists = snap.Find(city.ID); !exists {
				break
			}
			city.ID++
		}
	}

	key, err := r.store.CreateAt(ctx, snap, city)
	if err != nil {
		return nil, fmt.Errorf("failed to store city %d: %w", city.ID, err)
	}
	city.Index = key
	return &city, nil
}

func (r *RemoteRepository) DeleteByID(ctx context.Context, id int64) error {
	snap, err := r.store.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch cities: %w", err)
	}
	for _, e := range snap.Entries {
		if e.City.ID != id {
			continue
		}
		err := r.store.DeleteEntry(ctx, e)
		if errors.Is(err, types.ErrPreconditionFailed) {
			// already gone or replaced; nothing of ours left to remove
			r.logger.WarnContext(ctx, "City slot changed before delete", slog.String("key", e.Key), slog.Int64("id", id))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to delete city %d at %s: %w", id, e.Key, err)
		}
	}
	return nil
}
