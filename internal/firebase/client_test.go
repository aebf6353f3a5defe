package firebase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/worldwise-cities/internal/types"
)

const testBaseURL = "https://worldwise-test.firebasedatabase.app"

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	hc := &http.Client{}
	gock.InterceptClient(hc)
	t.Cleanup(func() {
		gock.RestoreClient(hc)
		gock.Off()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithHTTPClient(hc), WithWriteRetry(3, time.Millisecond)}, opts...)
	c, err := NewClient(testBaseURL, logger, opts...)
	require.NoError(t, err)
	return c
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url", slog.Default())
	require.Error(t, err)
}

func TestClient_FetchAll(t *testing.T) {
	ctx := context.Background()

	t.Run("null collection", func(t *testing.T) {
		c := newTestClient(t)
		gock.New(testBaseURL).Get("/cities.json").Reply(200).BodyString("null")

		snap, err := c.FetchAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, snap.Entries)
		assert.NotNil(t, snap.Cities())
		assert.True(t, gock.IsDone())
	})

	t.Run("object form sorted by key", func(t *testing.T) {
		c := newTestClient(t)
		gock.New(testBaseURL).
			Get("/cities.json").
			MatchHeader("X-Firebase-ETag", "true").
			Reply(200).
			SetHeader("ETag", "etag-all").
			JSON(`{"10":{"id":3,"cityName":"Porto"},"2":{"id":2,"cityName":"Faro"},"0":{"id":1,"cityName":"Lisbon"},"x":null}`)

		snap, err := c.FetchAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, "etag-all", snap.ETag)
		require.Len(t, snap.Entries, 3)
		assert.Equal(t, []string{"0", "2", "10"}, []string{snap.Entries[0].Key, snap.Entries[1].Key, snap.Entries[2].Key})

		cities := snap.Cities()
		assert.Equal(t, "Lisbon", cities[0].Name())
		assert.Equal(t, "0", cities[0].Index)
		assert.Equal(t, "10", cities[2].Index)
	})

	t.Run("array form with holes", func(t *testing.T) {
		c := newTestClient(t)
		gock.New(testBaseURL).Get("/cities.json").Reply(200).JSON(`[{"id":1},null,{"id":3}]`)

		snap, err := c.FetchAll(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Entries, 2)
		assert.Equal(t, "0", snap.Entries[0].Key)
		assert.Equal(t, "2", snap.Entries[1].Key)
		assert.Equal(t, int64(3), snap.Entries[1].City.ID)
	})

	t.Run("server error", func(t *testing.T) {
		c := newTestClient(t)
		gock.New(testBaseURL).Get("/cities.json").Reply(500).BodyString(`{"error":"boom"}`)

		_, err := c.FetchAll(ctx)
		require.Error(t, err)
		var se *StatusError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, 500, se.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		c := newTestClient(t)
		gock.New(testBaseURL).Get("/cities.json").Reply(200).BodyString(`"oops"`)

		_, err := c.FetchAll(ctx)
		require.Error(t, err)
	})

	t.Run("auth token is sent as query param", func(t *testing.T) {
		c := newTestClient(t, WithAuth("secret"))
		gock.New(testBaseURL).Get("/cities.json").MatchParam("auth", "secret").Reply(200).BodyString("null")

		_, err := c.FetchAll(ctx)
		require.NoError(t, err)
		assert.True(t, gock.IsDone())
	})
}

func TestClient_CreateAt(t *testing.T) {
	ctx := context.Background()
	city := types.City{ID: 42, Attributes: map[string]any{"cityName": "Tokyo"}}

	t.Run("writes at next key with location etag", func(t *testing.T) {
		c := newTestClient(t)
		snap := Snapshot{Entries: []Entry{{Key: "0", City: types.City{ID: 1}}}}

		gock.New(testBaseURL).Get("/cities/1.json").Reply(200).SetHeader("ETag", "null-etag").BodyString("null")
		gock.New(testBaseURL).Put("/cities/1.json").MatchHeader("if-match", "null-etag").Reply(200).JSON(`{"id":42}`)

		key, err := c.CreateAt(ctx, snap, city)
		require.NoError(t, err)
		assert.Equal(t, "1", key)
		assert.True(t, gock.IsDone())
	})

	t.Run("retries with fresh snapshot on precondition failure", func(t *testing.T) {
		c := newTestClient(t)
		snap := Snapshot{Entries: []Entry{}}

		gock.New(testBaseURL).Get("/cities/0.json").Reply(200).SetHeader("ETag", "e0").BodyString("null")
		gock.New(testBaseURL).Put("/cities/0.json").Reply(412)
		gock.New(testBaseURL).Get("/cities.json").Reply(200).JSON(`[{"id":7}]`)
		gock.New(testBaseURL).Get("/cities/1.json").Reply(200).SetHeader("ETag", "e1").BodyString("null")
		gock.New(testBaseURL).Put("/cities/1.json").MatchHeader("if-match", "e1").Reply(200).JSON(`{"id":42}`)

		key, err := c.CreateAt(ctx, snap, city)
		require.NoError(t, err)
		assert.Equal(t, "1", key)
		assert.True(t, gock.IsDone())
	})

	t.Run("gives up after the configured attempts", func(t *testing.T) {
		c := newTestClient(t, WithWriteRetry(1, time.Millisecond))

		gock.New(testBaseURL).Get("/cities/0.json").Reply(200).SetHeader("ETag", "e0").BodyString("null")
		gock.New(testBaseURL).Put("/cities/0.json").Reply(412)

		_, err := c.CreateAt(ctx, Snapshot{}, city)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrPreconditionFailed))
	})

	t.Run("transport failure is not retried", func(t *testing.T) {
		c := newTestClient(t)

		gock.New(testBaseURL).Get("/cities/0.json").Reply(503)

		_, err := c.CreateAt(ctx, Snapshot{}, city)
		require.Error(t, err)
		assert.True(t, gock.IsDone())
	})
}

func TestClient_DeleteEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes matching key", func(t *testing.T) {
		c := newTestClient(t)
		gock.New(testBaseURL).Get("/cities/1.json").Reply(200).SetHeader("ETag", "e1").JSON(`{"id":2}`)
		gock.New(testBaseURL).Delete("/cities/1.json").MatchHeader("if-match", "e1").Reply(200).BodyString("null")

		err := c.DeleteEntry(ctx, Entry{Key: "1", City: types.City{ID: 2}})
		require.NoError(t, err)
		assert.True(t, gock.IsDone())
	})

	t.Run("slot reused since snapshot", func(t *testing.T) {
		c := newTestClient(t)
		gock.New(testBaseURL).Get("/cities/0.json").Reply(200).SetHeader("ETag", "e0").JSON(`{"id":5}`)

		err := c.DeleteEntry(ctx, Entry{Key: "0", City: types.City{ID: 1}})
		assert.True(t, errors.Is(err, types.ErrPreconditionFailed))
	})

	t.Run("slot already empty", func(t *testing.T) {
		c := newTestClient(t)
		gock.New(testBaseURL).Get("/cities/0.json").Reply(200).SetHeader("ETag", "n0").BodyString("null")

		err := c.DeleteEntry(ctx, Entry{Key: "0", City: types.City{ID: 1}})
		assert.True(t, errors.Is(err, types.ErrPreconditionFailed))
	})
}

func TestNextKey(t *testing.T) {
	assert.Equal(t, "0", NextKey(nil))
	assert.Equal(t, "2", NextKey([]Entry{{Key: "0"}, {Key: "1"}}))
	// key "1" was deleted, count is 2 but "2" is still live
	assert.Equal(t, "3", NextKey([]Entry{{Key: "0"}, {Key: "2"}}))
	assert.Equal(t, "1", NextKey([]Entry{{Key: "-Nabc"}}))
}
