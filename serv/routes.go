package serv

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const (
	routeAggregate = "/api/v1/aggregate"
	routeCompile   = "/api/v1/compile"
	healthRoute    = "/health"
)

// routesHandler is the main handler for all routes
func routesHandler(s *Service, r chi.Router) http.Handler {
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(healthRoute, healthCheckHandler(s))
	r.Post(routeAggregate, aggregateHandler(s))

	// Pipelines leak the collection layout
	if !s.conf.Production {
		r.Post(routeCompile, compileHandler(s))
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.conf.AllowedOrigins,
		AllowedHeaders: s.conf.AllowedHeaders,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		Debug:          s.conf.DebugCORS,
	})
	if s.conf.DebugCORS {
		c.Log = zap.NewStdLog(s.log)
	}

	h := otelhttp.NewHandler(c.Handler(r), "aggjin")
	return setServerHeader(h)
}
