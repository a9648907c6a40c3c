package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/albertohelena/rdpwizard/internal/config"
	"github.com/albertohelena/rdpwizard/internal/handlers"
	"github.com/albertohelena/rdpwizard/internal/metrics"
	"github.com/albertohelena/rdpwizard/internal/services"
	"github.com/albertohelena/rdpwizard/internal/workers"
	"github.com/albertohelena/rdpwizard/pkg/crypto"
	"github.com/albertohelena/rdpwizard/pkg/database"
	"github.com/albertohelena/rdpwizard/pkg/openai"
	"github.com/albertohelena/rdpwizard/pkg/ratelimit"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogger(cfg)
	log.Info().Str("environment", cfg.Environment).Msg("Starting PRD Wizard API")

	if cfg.UsesDevJWTSecret() {
		log.Warn().Msg("JWT_SECRET not set, using default insecure secret")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	vault, err := crypto.NewVault(cfg.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid encryption key")
	}

	// Connect to database
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Run migrations
	log.Info().Msg("Running database migrations...")
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}
	log.Info().Msg("Migrations completed successfully")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Rate limiter: Redis when configured, otherwise in process with a sweeper
	var store ratelimit.Store
	if cfg.RedisURL != "" {
		rdb, err := ratelimit.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to redis")
		}
		defer rdb.Close()
		store = ratelimit.NewRedisStore(rdb, "rdpwizard:rate_limit")
		log.Info().Msg("Using Redis rate limiter")
	} else {
		store = ratelimit.NewMemoryStore()
		log.Info().Msg("Using in-memory rate limiter")
	}
	limiter := ratelimit.New(store)
	go workers.NewRateLimitSweeper(limiter, cfg.RateLimitSweepInterval).Start(ctx)

	// Initialize services
	client := openai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.UpstreamIdleTimeout)
	credentialService := services.NewCredentialService(services.NewPostgresCredentialStore(db), vault, client, m)

	// Initialize handlers
	aiHandler := handlers.NewAIHandler(client, credentialService, limiter, cfg, m)
	keyHandler := handlers.NewKeyHandler(credentialService, limiter, cfg, m)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		handlers.Mount(r, aiHandler, keyHandler, handlers.Authenticator([]byte(cfg.JWTSecret)))
	})

	// Start server. Event streams extend their own write deadline.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		cancel()
	}()

	log.Info().Str("port", cfg.Port).Msg("Server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}

	credentialService.Wait()
	log.Info().Msg("Server stopped")
}

// setupLogger configures the global logger: console output in development,
// JSON everywhere else.
func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown LOG_LEVEL, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
