// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// =============================================================================
// ROUTER
// =============================================================================

// RouterConfig carries the knobs the router needs beyond the handler.
type RouterConfig struct {
	// ImagesDir is served read-only under /images/.
	ImagesDir string

	// UploadsDir holds deposited course files, served under /uploads/.
	UploadsDir string

	// MaxBodyBytes caps request bodies; zero means 10 MiB.
	MaxBodyBytes int64

	// RateLimitRPS and RateLimitBurst configure the per-IP limiter.
	// Zero values mean 20 req/s with a burst of 40.
	RateLimitRPS   float64
	RateLimitBurst int

	// AllowedOrigins for CORS; empty means allow all.
	AllowedOrigins []string
}

func (c *RouterConfig) normalized() {
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 * 1024 * 1024
	}
	if c.RateLimitRPS <= 0 {
		c.RateLimitRPS = 20
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = 40
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
}

// NewRouter assembles the SOURCE HTTP surface.
func NewRouter(h *Handler, logger zerolog.Logger, cfg RouterConfig) http.Handler {
	cfg.normalized()

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(Metrics)
	r.Use(MaxBodySize(cfg.MaxBodyBytes))
	r.Use(chimw.Timeout(2 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Source-Author"},
		MaxAge:         300,
	}))

	limiter := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	r.Use(limiter.Middleware)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Post("/login", h.Login)
		r.Post("/community/post", h.PostMessage)
		r.Get("/community/messages", h.CommunityMessages)
		r.Get("/conversations/{conversationID}/messages", h.ListMessages)
		r.Post("/deposit-course", h.DepositCourse)
		r.Get("/courses", h.ListCourses)
	})

	// Uploaded blobs are served by their stable paths.
	images := http.StripPrefix("/images/", http.FileServer(http.Dir(cfg.ImagesDir)))
	r.Get("/images/*", images.ServeHTTP)
	uploads := http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.UploadsDir)))
	r.Get("/uploads/*", uploads.ServeHTTP)

	return r
}
