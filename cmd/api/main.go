package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mathsnap/internal/auth"
	"mathsnap/internal/config"
	"mathsnap/internal/database"
	"mathsnap/internal/handlers"
	"mathsnap/internal/llm"
	appmetrics "mathsnap/internal/metrics"
	"mathsnap/internal/middleware/ratelimit"
	"mathsnap/internal/quota"
	"mathsnap/internal/services"
	"mathsnap/internal/session"
)

func main() {

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	db, err := database.NewConnection(cfg.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	// Initialize Redis
	redisClient, err := database.NewRedisConnection(cfg.RedisAddr)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	// Initialize services
	userService := services.NewUserService(db)
	solveService := services.NewSolveService(db)
	authService := auth.NewService(userService, cfg.SessionSecret, cfg.RememberTTL)
	sessionManager := session.NewManager(redisClient, cfg.SessionTTL, cfg.SecureCookies)
	quotaCache := quota.NewCache(redisClient, cfg.QuotaCacheTTL)
	tracker := quota.NewTracker(userService, quotaCache, cfg.MaxQuestionsDaily)
	limiter := ratelimit.NewRateLimiter(cfg.BurstLimit, time.Minute)
	gemini := llm.NewClient(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiModel)

	// Metrics
	registry := prometheus.NewRegistry()
	appmetrics.MustRegister(registry)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.Validator = handlers.NewValidator()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(session.LoadIdentity(sessionManager, handlers.IdentityRestorer(authService)))

	// Initialize handlers
	h := &handlers.Handler{
		Users:         userService,
		Solves:        solveService,
		Auth:          authService,
		Sessions:      sessionManager,
		Quota:         tracker,
		Limiter:       limiter,
		LLM:           gemini,
		DB:            db,
		Redis:         redisClient,
		RememberTTL:   cfg.RememberTTL,
		SecureCookies: cfg.SecureCookies,
	}

	// Routes
	e.GET("/health", h.HealthCheck)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/logout", h.Logout)
	api.GET("/me", h.Me, session.RequireUser)
	api.PUT("/settings", h.UpdateSettings, session.RequireUser)
	api.POST("/solve", h.Solve, session.RequireUser)

	admin := api.Group("/admin", session.RequireAdmin)
	admin.GET("/users", h.AdminListUsers)
	admin.PATCH("/users/:email/premium", h.AdminSetPremium)

	// Start server
	go func() {
		e.Server.ReadTimeout = cfg.ReadTimeout
		e.Server.WriteTimeout = cfg.WriteTimeout
		e.Server.IdleTimeout = cfg.IdleTimeout
		if err := e.Start(cfg.Addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
