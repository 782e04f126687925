package main

import (
	"context"
	crypto_rand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicflow/clinicflow/internal/config"
	"github.com/clinicflow/clinicflow/internal/domain/scheduling"
	"github.com/clinicflow/clinicflow/internal/platform/auth"
	"github.com/clinicflow/clinicflow/internal/platform/db"
	"github.com/clinicflow/clinicflow/internal/platform/logging"
	"github.com/clinicflow/clinicflow/internal/platform/metrics"
	"github.com/clinicflow/clinicflow/internal/platform/middleware"
	"github.com/clinicflow/clinicflow/internal/platform/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic appointment scheduling API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduling API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, _ := cmd.Flags().GetBool("seed")
			return runServer(seed)
		},
	}
	cmd.Flags().Bool("seed", false, "Create and approve the demo doctors before serving")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			pool, cfg, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsDir(dir, cfg))
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()
			pool, cfg, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, migrationsDir(dir, cfg))
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					appliedAt = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create and approve the demo doctors if their rooms are free",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := checkSeedBackend(cfg); err != nil {
				return err
			}
			logger, closer := newLogger(cfg)
			defer closer.Close()

			ctx := context.Background()
			backend, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.close()

			svc := scheduling.NewService(scheduling.NewStoreRepository(backend.store, logger,
				scheduling.WithLockTimeout(cfg.LockTimeout)), logger)
			created, err := seedDemo(ctx, svc)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d demo doctor(s).\n", created)
			return nil
		},
	}
}

// checkSeedBackend refuses to seed a memory store, which is gone as soon
// as the seed command exits.
func checkSeedBackend(cfg *config.Config) error {
	if cfg.StoreBackend == config.BackendMemory || cfg.StoreBackend == "" {
		return errors.New("seed needs a persistent STORE_BACKEND (postgres or redis); " +
			"use \"serve --seed\" to seed the memory store")
	}
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return errors.New("AUTH_SIGNING_KEY must be set to issue tokens")
			}
			sub, _ := cmd.Flags().GetString("sub")
			name, _ := cmd.Flags().GetString("name")
			roles, _ := cmd.Flags().GetStringSlice("role")
			doctorID, _ := cmd.Flags().GetString("doctor-id")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := auth.IssueToken(jwtConfig(cfg, []byte(cfg.AuthSigningKey)), auth.Identity{
				UserID:   sub,
				Name:     name,
				Roles:    roles,
				DoctorID: doctorID,
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("sub", "dev-user", "Subject (user id)")
	cmd.Flags().String("name", "Developer", "Display name")
	cmd.Flags().StringSlice("role", []string{auth.RoleAdmin}, "Role(s): admin, doctor, patient")
	cmd.Flags().String("doctor-id", "", "Doctor record linked to a doctor token")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func runServer(seed bool) error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Logger
	logger, closer := newLogger(cfg)
	defer closer.Close()

	signingKey, generated, err := resolveSigningKey(cfg.AuthSigningKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve signing key")
	}
	if generated {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; using a random key, bearer tokens will not survive a restart")
	}

	// Store
	ctx := context.Background()
	backend, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open store")
	}
	defer backend.close()
	logger.Info().Str("backend", backend.store.Backend()).Msg("store ready")

	m := metrics.New()
	svc := scheduling.NewService(scheduling.NewStoreRepository(backend.store, logger,
		scheduling.WithLockTimeout(cfg.LockTimeout)), logger)
	svc.SetObserver(m)

	if seed {
		created, err := seedDemo(ctx, svc)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to seed demo doctors")
		}
		logger.Info().Int("created", created).Msg("demo doctors seeded")
	}

	e := newServer(cfg, logger, signingKey, svc, m, backend)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer assembles the middleware chain and routes.
func newServer(cfg *config.Config, logger zerolog.Logger, signingKey []byte, svc *scheduling.Service, m *metrics.Metrics, backend *storeBackend) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(m.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))

	// Operational endpoints sit outside auth.
	e.GET("/health", db.HealthHandler(backend.store.Backend(), backend.checks...))
	e.GET("/metrics", m.Handler())

	// API group
	apiV1 := e.Group("/api/v1")
	jwtCfg := jwtConfig(cfg, signingKey)
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	apiV1.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	apiV1.Use(middleware.Audit(logger))

	scheduling.NewHandler(svc).RegisterRoutes(apiV1)
	return e
}

func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer) {
	return logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Development: cfg.IsDev(),
		File:        cfg.LogFile,
		MaxSizeMB:   cfg.LogMaxSizeMB,
		MaxBackups:  cfg.LogMaxBackups,
		MaxAgeDays:  cfg.LogMaxAgeDays,
	})
}

func jwtConfig(cfg *config.Config, key []byte) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: key,
	}
}

// resolveSigningKey returns the configured key, or a random one when none is
// configured. Validate refuses an empty key outside development.
func resolveSigningKey(configured string) ([]byte, bool, error) {
	if configured != "" {
		return []byte(configured), false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

// storeBackend is the opened persistence layer with its health checks.
type storeBackend struct {
	store  store.Store
	checks []db.Check
	close  func()
}

func openStore(ctx context.Context, cfg *config.Config) (*storeBackend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, err
		}
		return &storeBackend{
			store:  store.NewPostgres(pool),
			checks: []db.Check{db.PoolCheck(pool)},
			close:  pool.Close,
		}, nil
	case config.BackendRedis:
		rs, err := store.NewRedisFromURL(ctx, cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, err
		}
		return &storeBackend{
			store:  rs,
			checks: []db.Check{{Name: "redis", Ping: rs.Ping}},
			close:  func() { _ = rs.Close() },
		}, nil
	case config.BackendMemory, "":
		return &storeBackend{store: store.NewMemory(), close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func openPool(ctx context.Context) (*pgxpool.Pool, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required for migrations")
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return pool, cfg, nil
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: "clinic-server",
		ConnectTimeout:  10 * time.Second,
	}
}

func migrationsDir(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	return cfg.MigrationsDir
}

// demoDoctors are created by the seed command.
var demoDoctors = []scheduling.DoctorInput{
	{Name: "Dr. Smith", Specialty: "Cardiology", Room: "Room 302"},
	{Name: "Dr. Brown", Specialty: "Dermatology", Room: "Room 210"},
}

// seedDemo creates and approves every demo doctor whose room is still free.
// Running it again changes nothing.
func seedDemo(ctx context.Context, svc *scheduling.Service) (int, error) {
	created := 0
	for _, in := range demoDoctors {
		taken, err := svc.Directory.IsRoomTaken(ctx, in.Room)
		if err != nil {
			return created, err
		}
		if taken {
			continue
		}
		doc, err := svc.Directory.CreateDoctor(ctx, in)
		if err != nil {
			if errors.Is(err, scheduling.ErrConflict) {
				continue
			}
			return created, fmt.Errorf("seed %s: %w", in.Name, err)
		}
		if _, err := svc.Directory.Approve(ctx, doc.ID); err != nil {
			return created, fmt.Errorf("approve %s: %w", doc.Name, err)
		}
		created++
	}
	return created, nil
}
