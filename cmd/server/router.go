package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/openvoice/internal/api"
	apiMiddleware "github.com/phrazzld/openvoice/internal/api/middleware"
)

// setupRouter creates and configures the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	// Apply standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	jobHandler := api.NewJobHandler(app.jobService, app.config.Storage.MaxUploadBytes(), app.logger)
	jobHandler.Routes(r)

	return r
}
