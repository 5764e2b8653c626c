package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/sortify-app/sortify-api/internal/auth"
	"github.com/sortify-app/sortify-api/internal/businesstype"
	"github.com/sortify-app/sortify-api/internal/config"
	"github.com/sortify-app/sortify-api/internal/database"
	"github.com/sortify-app/sortify-api/internal/email"
	httpServer "github.com/sortify-app/sortify-api/internal/http"
	"github.com/sortify-app/sortify-api/internal/logging"
	"github.com/sortify-app/sortify-api/internal/metrics"
	"github.com/sortify-app/sortify-api/internal/oauth"
	"github.com/sortify-app/sortify-api/internal/onboarding"
	"github.com/sortify-app/sortify-api/internal/ratelimit"
	"github.com/sortify-app/sortify-api/internal/secrets"
	"github.com/sortify-app/sortify-api/internal/user"
	"github.com/sortify-app/sortify-api/internal/worker"
)

// @title           Sortify API
// @version         1.0
// @description     Email-sorting SaaS backend: authentication, provider connections, and onboarding.

// @contact.name   API Support
// @contact.email  support@sortify.app

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
	)

	// Run database migrations
	if err := database.RunMigrations(cfg.Database.URL()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Initialize database connection
	db, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Initialize Redis connection
	redisClient, err := initRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	// Initialize token cipher
	cipher, err := secrets.NewCipher(cfg.Crypto.TokenCipherKey)
	if err != nil {
		return fmt.Errorf("failed to initialize token cipher: %w", err)
	}

	// Initialize metrics
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// Initialize repositories
	userRepo := user.NewRepository(db)
	authRepo := initRefreshTokenStore(cfg.Auth, db, redisClient)
	passwordResetRepo := auth.NewPasswordResetRepository(redisClient)
	businessTypeRepo := businesstype.NewRepository(db)
	progressRepo := onboarding.NewRepository(db)
	credentialStore := oauth.NewStore(db, cipher)
	stateRepo := oauth.NewStateRepository(redisClient, cfg.OAuth.StateTTL)

	// Initialize rate limiter
	rateLimiter := ratelimit.NewLimiter(redisClient)

	// Initialize session token service
	tokenService, err := initTokenService(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize token service: %w", err)
	}

	// Initialize email service
	emailService := email.NewService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.Email.FrontendURL,
	)

	// Initialize auth service
	authService := auth.NewService(
		userRepo,
		authRepo,
		passwordResetRepo,
		tokenService,
		emailService,
		logger,
		cfg.Auth.AccessTokenDuration,
		cfg.Auth.RefreshTokenDuration,
	)

	// Initialize OAuth providers and manager
	providers := []oauth.Provider{
		oauth.NewGoogleProvider(oauth.GoogleConfig{
			ClientID:     cfg.OAuth.Google.ClientID,
			ClientSecret: cfg.OAuth.Google.ClientSecret,
			RedirectURL:  cfg.OAuth.Google.RedirectURL,
		}),
		oauth.NewMicrosoftProvider(oauth.MicrosoftConfig{
			ClientID:     cfg.OAuth.Microsoft.ClientID,
			ClientSecret: cfg.OAuth.Microsoft.ClientSecret,
			RedirectURL:  cfg.OAuth.Microsoft.RedirectURL,
		}),
	}
	oauthManager := oauth.NewManager(credentialStore, stateRepo, providers, logger, collector)

	// Initialize onboarding service
	onboardingService := onboarding.NewService(
		progressRepo,
		oauthManager,
		businessTypeRepo,
		userRepo,
		logger,
		collector,
	)

	// Initialize HTTP handlers
	authHandler := auth.NewHandler(
		authService,
		rateLimiter,
		logger,
		!cfg.Server.IsDevelopment(), // isProduction
		cfg.Auth.AccessTokenDuration,
		cfg.Auth.RefreshTokenDuration,
	)
	authMiddleware := auth.NewMiddleware(tokenService)

	handlers := httpServer.Handlers{
		Auth:          authHandler,
		OAuth:         oauth.NewHandler(oauthManager, logger, cfg.Email.FrontendURL),
		Onboarding:    onboarding.NewHandler(onboardingService, logger),
		BusinessTypes: businesstype.NewHandler(businessTypeRepo, logger),
		Metrics:       metrics.Handler(registry),
	}

	// Initialize router
	router := httpServer.NewRouter(cfg, handlers, authMiddleware, logger)

	// Initialize HTTP server
	serverAddr := ":" + cfg.Server.Port
	server := httpServer.NewServer(
		serverAddr,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
	)

	// Background refresh sweep (optional)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if cfg.Worker.RefreshSweepEnabled {
		sweeper := worker.NewRefreshSweeper(oauthManager, logger, cfg.Worker.RefreshSweepInterval)
		go sweeper.Start(workerCtx, cfg.Worker.RefreshSweepInterval)
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		log.Printf("Received signal: %v", sig)
		stopWorkers()

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// initRefreshTokenStore selects where refresh tokens are persisted.
func initRefreshTokenStore(cfg config.AuthConfig, db *bun.DB, redisClient *redis.Client) auth.RefreshTokenRepository {
	if cfg.RefreshTokenStore == "postgres" {
		return auth.NewRepository(db)
	}
	return auth.NewRedisRepository(redisClient)
}

// initTokenService selects the session token backend from configuration.
func initTokenService(cfg config.AuthConfig) (auth.TokenService, error) {
	switch cfg.Backend {
	case "jwt":
		return auth.NewJWTService(cfg.JWTSecret)
	default:
		return auth.NewPasetoService(cfg.PasetoKey)
	}
}

// initDB initializes the database connection and returns a Bun DB instance
func initDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	// Create Bun DB wrapper
	return database.NewBunDB(sqlDB), nil
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
