package city

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

var _ Repository = (*FileRepository)(nil)

// Repository is the persistence port behind the city endpoints.
type Repository interface {
	ListAll(ctx context.Context) ([]types.City, error)
	// GetByID returns types.ErrNotFound when no city has the id.
	GetByID(ctx context.Context, id int64) (*types.City, error)
	Create(ctx context.Context, city types.City) (*types.City, error)
	// DeleteByID removes every city with the id. Deleting nothing is not an error.
	DeleteByID(ctx context.Context, id int64) error
}

// Clock returns the current time; tests swap it for a fixed one.
type Clock func() time.Time

// FileRepository keeps the collection in memory and rewrites the whole JSON
// array file after every mutation. The file is read once, at construction.
type FileRepository struct {
	logger *slog.Logger
	fs     afero.Fs
	path   string
	now    Clock

	mu     sync.RWMutex
	cities []types.City
}

func NewFileRepository(fs afero.Fs, path string, logger *slog.Logger) (*FileRepository, error) {
	r := &FileRepository{
		logger: logger,
		fs:     fs,
		path:   path,
		now:    time.Now,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// WithClock replaces the id clock.
func (r *FileRepository) WithClock(now Clock) *FileRepository {
	r.now = now
	return r
}

func (r *FileRepository) load() error {
	data, err := afero.ReadFile(r.fs, r.path)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("City data file not found, starting with an empty collection", slog.String("path", r.path))
		r.cities = []types.City{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read city data file %s: %w", r.path, err)
	}

	var cities []types.City
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cities); err != nil {
			return fmt.Errorf("failed to decode city data file %s: %w", r.path, err)
		}
	}
	if cities == nil {
		cities = []types.City{}
	}
	r.cities = cities
	r.logger.Info("City data file loaded", slog.String("path", r.path), slog.Int("count", len(cities)))
	return nil
}

func (r *FileRepository) ListAll(ctx context.Context) ([]types.City, error) {
	_, span := otel.Tracer("CityRepository").Start(ctx, "File.ListAll")
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.City, len(r.cities))
	for i, c := range r.cities {
		out[i] = c.Clone()
	}
	span.SetAttributes(attribute.Int("cities.count", len(out)))
	return out, nil
}

func (r *FileRepository) GetByID(ctx context.Context, id int64) (*types.City, error) {
	_, span := otel.Tracer("CityRepository").Start(ctx, "File.GetByID")
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, c := range r.cities {
		if c.ID == id {
			found := c.Clone()
			return &found, nil
		}
	}
	return nil, types.ErrNotFound
}

func (r *FileRepository) Create(ctx context.Context, city types.City) (*types.City, error) {
	_, span := otel.Tracer("CityRepository").Start(ctx, "File.Create")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	city = city.WithoutIndex()
	generated := city.EnsureID(r.now())
	if r.indexOf(city.ID) >= 0 {
		if !generated {
			return nil, fmt.Errorf("city %d: %w", city.ID, types.ErrConflict)
		}
		for r.indexOf(city.ID) >= 0 {
			city.ID++
		}
	}

	next := append(append(make([]types.City, 0, len(r.cities)+1), r.cities...), city)
	if err := r.persist(next); err != nil {
		return nil, err
	}
	r.cities = next

	span.SetAttributes(attribute.Int64("city.id", city.ID))
	created := city.Clone()
	return &created, nil
}

func (r *FileRepository) DeleteByID(ctx context.Context, id int64) error {
	_, span := otel.Tracer("CityRepository").Start(ctx, "File.DeleteByID")
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]types.City, 0, len(r.cities))
	for _, c := range r.cities {
		if c.ID != id {
			next = append(next, c)
		}
	}
	span.SetAttributes(attribute.Int("cities.removed", len(r.cities)-len(next)))

	if err := r.persist(next); err != nil {
		return err
	}
	r.cities = next
	return nil
}

func (r *FileRepository) indexOf(id int64) int {
	for i, c := range r.cities {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// persist writes the full collection to a temp file and renames it over the
// data file, so a crash mid-write never leaves a truncated array behind.
func (r *FileRepository) persist(cities []types.City) error {
	data, err := json.Marshal(cities)
	if err != nil {
		return fmt.Errorf("failed to encode cities: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}

	tmp := r.path + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := r.fs.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", r.path, err)
	}
	return nil
}
