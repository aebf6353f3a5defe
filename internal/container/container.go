package container

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"

	database "github.com/FACorreiaa/worldwise-cities/app/db"
	"github.com/FACorreiaa/worldwise-cities/config"
	"github.com/FACorreiaa/worldwise-cities/internal/api/city"
	"github.com/FACorreiaa/worldwise-cities/internal/firebase"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *slog.Logger
	Pool        *pgxpool.Pool
	CityHandler *city.Handler
}

// NewContainer wires the record store selected by storage.backend into the
// city service and handler.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	repo, err := c.repository(ctx)
	if err != nil {
		c.Close()
		return nil, err
	}

	ttl, cleanup := cfg.Cache.TTL, cfg.Cache.Cleanup
	if cfg.Storage.Backend == config.BackendFirebase {
		// other clients write to the remote store directly
		ttl, cleanup = 0, 0
	}

	cityService := city.NewCityService(repo, logger, ttl, cleanup)
	c.CityHandler = city.NewCityHandler(cityService, logger)

	logger.InfoContext(ctx, "Record store ready", slog.String("backend", cfg.Storage.Backend))
	return c, nil
}

func (c *Container) repository(ctx context.Context) (city.Repository, error) {
	cfg := c.Config
	switch cfg.Storage.Backend {
	case config.BackendFile:
		return city.NewFileRepository(afero.NewOsFs(), cfg.Storage.File.Path, c.Logger)

	case config.BackendPostgres:
		dbConfig, err := database.NewDatabaseConfig(cfg, c.Logger)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(dbConfig.ConnectionURL, c.Logger); err != nil {
			return nil, err
		}
		pool, err := database.Init(ctx, dbConfig.ConnectionURL, c.Logger)
		if err != nil {
			return nil, err
		}
		c.Pool = pool
		if !database.WaitForDB(ctx, pool, c.Logger) {
			return nil, fmt.Errorf("database not ready")
		}
		return city.NewPostgresRepository(pool, c.Logger), nil

	case config.BackendFirebase:
		opts := []firebase.Option{firebase.WithHTTPClient(&http.Client{Timeout: cfg.Firebase.Timeout})}
		if cfg.Firebase.Auth != "" {
			opts = append(opts, firebase.WithAuth(cfg.Firebase.Auth))
		}
		client, err := firebase.NewClient(cfg.Firebase.BaseURL, c.Logger, opts...)
		if err != nil {
			return nil, err
		}
		return city.NewRemoteRepository(client, c.Logger), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// Close releases all resources held by the container
func (c *Container) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}
