package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/worldwise-cities/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDatabaseConfig(t *testing.T) {
	var cfg config.Config
	cfg.Repositories.Postgres.Host = "db"
	cfg.Repositories.Postgres.Port = "5432"
	cfg.Repositories.Postgres.Username = "cities"
	cfg.Repositories.Postgres.Password = "p@ss"
	cfg.Repositories.Postgres.DB = "worldwise"
	cfg.Repositories.Postgres.MAXCONWAITINGTIME = 10

	dbCfg, err := NewDatabaseConfig(&cfg, discardLogger())
	require.NoError(t, err)

	u, err := url.Parse(dbCfg.ConnectionURL)
	require.NoError(t, err)
	assert.Equal(t, "postgresql", u.Scheme)
	assert.Equal(t, "db:5432", u.Host)
	assert.Equal(t, "/worldwise", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)
	assert.Equal(t, "disable", u.Query().Get("sslmode"))
	assert.Equal(t, "10", u.Query().Get("connect_timeout"))
}

func TestNewDatabaseConfig_Missing(t *testing.T) {
	_, err := NewDatabaseConfig(nil, discardLogger())
	assert.Error(t, err)

	_, err = NewDatabaseConfig(&config.Config{}, discardLogger())
	assert.Error(t, err)
}

func TestRunMigrations_RejectsScheme(t *testing.T) {
	err := RunMigrations("mysql://localhost/cities", discardLogger())
	assert.Error(t, err)
}

func TestWaitForDB(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errors.New("starting up"))
	mock.ExpectPing()

	assert.True(t, WaitForDB(context.Background(), mock, discardLogger()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWaitForDB_Cancelled(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errors.New("down"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, WaitForDB(ctx, mock, discardLogger()))
}
