package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/FACorreiaa/worldwise-cities/docs"
)

// Routes is implemented by every feature handler that mounts endpoints.
type Routes interface {
	Routes(r chi.Router)
}

// Config contains dependencies needed for the router setup
type Config struct {
	CityHandler Routes
}

// SetupRouter builds the application router. Server-wide middleware (request
// id, logging, recovery) is applied by the caller before mounting it.
func SetupRouter(cfg *Config) chi.Router {
	r := chi.NewRouter()

	// the service is called directly from browser frontends on any origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	cfg.CityHandler.Routes(r)

	return r
}
