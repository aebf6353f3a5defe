package city

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

var _ Repository = (*PostgresRepository)(nil)

// maxIDBumps bounds how far a generated id is moved when it collides.
const maxIDBumps = 64

// DB is the subset of *pgxpool.Pool the repository needs; pgxmock satisfies it too.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	logger *slog.Logger
	pgpool DB
	now    Clock
}

func NewPostgresRepository(pgpool DB, logger *slog.Logger) *PostgresRepository {
	return &PostgresRepository{
		logger: logger,
		pgpool: pgpool,
		now:    time.Now,
	}
}

// WithClock replaces the id clock.
func (r *PostgresRepository) WithClock(now Clock) *PostgresRepository {
	r.now = now
	return r
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]types.City, error) {
	ctx, span := otel.Tracer("CityRepository").Start(ctx, "Postgres.ListAll")
	defer span.End()

	rows, err := r.pgpool.Query(ctx, `SELECT id, attributes FROM cities ORDER BY position`)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("failed to query cities: %w", err)
	}
	defer rows.Close()

	cities := []types.City{}
	for rows.Next() {
		var (
			id    int64
			attrs []byte
		)
		if err := rows.Scan(&id, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan city row: %w", err)
		}
		c, err := decodeRow(id, attrs)
		if err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("error iterating city rows: %w", err)
	}

	span.SetAttributes(attribute.Int("cities.count", len(cities)))
	return cities, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*types.City, error) {
	ctx, span := otel.Tracer("CityRepository").Start(ctx, "Postgres.GetByID")
	defer span.End()

	var attrs []byte
	err := r.pgpool.QueryRow(ctx, `SELECT attributes FROM cities WHERE id = $1`, id).Scan(&attrs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, fmt.Errorf("failed to find city %d: %w", id, err)
	}

	c, err := decodeRow(id, attrs)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) Create(ctx context.Context, city types.City) (*types.City, error) {
	ctx, span := otel.Tracer("CityRepository").Start(ctx, "Postgres.Create")
	defer span.End()

	city = city.WithoutIndex()
	generated := city.EnsureID(r.now())

	attrs := city.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode city attributes: %w", err)
	}

	query := `
        INSERT INTO cities (id, attributes)
        VALUES ($1, $2)
        ON CONFLICT (id) DO NOTHING
        RETURNING id
    `
	for attempt := 0; attempt < maxIDBumps; attempt++ {
		var id int64
		err = r.pgpool.QueryRow(ctx, query, city.ID, payload).Scan(&id)
		if err == nil {
			span.SetAttributes(attribute.Int64("city.id", id))
			return &city, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) && !isUniqueViolation(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "insert failed")
			return nil, fmt.Errorf("failed to insert city: %w", err)
		}
		if !generated {
			return nil, fmt.Errorf("city %d: %w", city.ID, types.ErrConflict)
		}
		r.logger.DebugContext(ctx, "Generated city id collided, bumping", slog.Int64("id", city.ID))
		city.ID++
	}
	return nil, fmt.Errorf("city %d: %w", city.ID, types.ErrConflict)
}

func (r *PostgresRepository) DeleteByID(ctx context.Context, id int64) error {
	ctx, span := otel.Tracer("CityRepository").Start(ctx, "Postgres.DeleteByID")
	defer span.End()

	tag, err := r.pgpool.Exec(ctx, `DELETE FROM cities WHERE id = $1`, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return fmt.Errorf("failed to delete city %d: %w", id, err)
	}
	span.SetAttributes(attribute.Int64("cities.removed", tag.RowsAffected()))
	return nil
}

func decodeRow(id int64, attrs []byte) (types.City, error) {
	var c types.City
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &c); err != nil {
			return types.City{}, fmt.Errorf("failed to decode attributes of city %d: %w", id, err)
		}
	}
	c.ID = id
	c.Index = ""
	return c, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
