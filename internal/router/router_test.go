package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRoutes struct{}

func (stubRoutes) Routes(r chi.Router) {
	r.Get("/cities", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})
}

func TestSetupRouter(t *testing.T) {
	r := SetupRouter(&Config{CityHandler: stubRoutes{}})

	tests := []struct {
		name   string
		path   string
		status int
		body   string
	}{
		{"ping", "/ping", http.StatusOK, "pong"},
		{"city routes mounted", "/cities", http.StatusOK, "[]"},
		{"swagger document", "/swagger/doc.json", http.StatusOK, ""},
		{"unknown", "/nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.status, rr.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rr.Body.String())
			}
		})
	}
}

func TestSetupRouter_CORS(t *testing.T) {
	r := SetupRouter(&Config{CityHandler: stubRoutes{}})

	req := httptest.NewRequest(http.MethodOptions, "/cities", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/cities", nil)
	req.Header.Set("Origin", "https://cities.example")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}
