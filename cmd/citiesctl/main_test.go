package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/worldwise-cities/internal/citysync"
	"github.com/FACorreiaa/worldwise-cities/internal/firebase"
)

const testBase = "https://worldwise-cli.firebasedatabase.app"

// runCLI executes the root command against a gock-intercepted client.
func runCLI(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()

	hc := &http.Client{}
	gock.InterceptClient(hc)
	t.Cleanup(func() {
		gock.RestoreClient(hc)
		gock.Off()
	})

	var out, errOut bytes.Buffer
	a := &app{
		out:    &out,
		errOut: &errOut,
		newStore: func(baseURL, auth string, _ time.Duration, logger *slog.Logger) (citysync.Store, error) {
			opts := []firebase.Option{firebase.WithHTTPClient(hc)}
			if auth != "" {
				opts = append(opts, firebase.WithAuth(auth))
			}
			return firebase.NewClient(baseURL, logger, opts...)
		},
	}

	cmd := newRootCmd(a)
	cmd.SetArgs(append([]string{"--base-url", testBase}, args...))
	err := cmd.ExecuteContext(context.Background())

	var st map[string]any
	if out.Len() > 0 {
		require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	}
	return st, err
}

func TestList(t *testing.T) {
	gock.New(testBase).Get("/cities.json").
		Reply(200).JSON(`[{"id":1,"cityName":"Lisbon"},null,{"id":3,"cityName":"Rome"}]`)

	st, err := runCLI(t, "list")
	require.NoError(t, err)

	cities := st["cities"].([]any)
	require.Len(t, cities, 2)
	assert.Equal(t, "2", cities[1].(map[string]any)["index"])
	assert.Equal(t, map[string]any{}, st["currentCity"])
}

func TestGet_NotFound(t *testing.T) {
	gock.New(testBase).Get("/cities.json").Times(2).Reply(200).JSON(`[{"id":1}]`)

	st, err := runCLI(t, "get", "2")
	assert.True(t, errors.Is(err, errRejected))
	assert.Equal(t, citysync.MsgCityNotFound, st["error"])
}

func TestCreate(t *testing.T) {
	gock.New(testBase).Get("/cities.json").Times(2).Reply(200).BodyString("null")
	gock.New(testBase).Get("/cities/0.json").Reply(200).SetHeader("ETag", "e0").BodyString("null")
	gock.New(testBase).Put("/cities/0.json").
		MatchHeader("if-match", "e0").
		Reply(200).JSON(`{"id":5}`)

	st, err := runCLI(t, "create", "--id", "5", "--name", "Tokyo", "--country", "Japan", "--attr", "visits=3")
	require.NoError(t, err)

	current := st["currentCity"].(map[string]any)
	assert.Equal(t, float64(5), current["id"])
	assert.Equal(t, "Tokyo", current["cityName"])
	assert.Equal(t, "Japan", current["country"])
	assert.Equal(t, float64(3), current["visits"])
	assert.Equal(t, "0", current["index"])
	assert.True(t, gock.IsDone())
}

func TestCreate_BadAttr(t *testing.T) {
	gock.New(testBase).Get("/cities.json").Reply(200).BodyString("null")

	_, err := runCLI(t, "create", "--attr", "novalue")
	require.Error(t, err)
	assert.False(t, errors.Is(err, errRejected))
}

func TestDelete_ServerError(t *testing.T) {
	gock.New(testBase).Get("/cities.json").Reply(200).JSON(`[{"id":1}]`)
	gock.New(testBase).Get("/cities.json").Reply(500)

	st, err := runCLI(t, "delete", "1")
	assert.True(t, errors.Is(err, errRejected))
	assert.Equal(t, citysync.MsgDeleteFailed, st["error"])
	assert.Equal(t, false, st["isLoading"])
}

func TestInvalidID(t *testing.T) {
	gock.New(testBase).Get("/cities.json").Reply(200).BodyString("null")

	_, err := runCLI(t, "get", "abc")
	assert.Error(t, err)
}

func TestAttrValue(t *testing.T) {
	assert.Equal(t, float64(3), attrValue("3"))
	assert.Equal(t, true, attrValue("true"))
	assert.Equal(t, "Lisbon", attrValue("Lisbon"))
	assert.Equal(t, map[string]any{"lat": 1.5}, attrValue(`{"lat":1.5}`))
}
