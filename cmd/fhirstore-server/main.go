package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fhirstore/fhirstore/internal/config"
	"github.com/fhirstore/fhirstore/internal/platform/auth"
	"github.com/fhirstore/fhirstore/internal/platform/db"
	"github.com/fhirstore/fhirstore/internal/platform/middleware"
	"github.com/fhirstore/fhirstore/internal/registry"
	"github.com/fhirstore/fhirstore/internal/repo"
	"github.com/fhirstore/fhirstore/internal/rest"
	"github.com/fhirstore/fhirstore/internal/schema"
	"github.com/fhirstore/fhirstore/internal/search"
	"github.com/fhirstore/fhirstore/internal/terminology"
	"github.com/fhirstore/fhirstore/internal/validate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fhirstore-server",
		Short: "Multi-tenant FHIR R4 storage and query engine",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(projectCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// buildLogger constructs the process logger: console writer in development,
// JSON elsewhere, level from config.
func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

// buildRegistry seeds the built-in conformance set and layers any bundle
// files from CONFORMANCE_DIR on top before flattening.
func buildRegistry(cfg *config.Config, logger zerolog.Logger) (*registry.Registry, error) {
	reg := registry.New(logger)
	if err := registry.Seed(reg); err != nil {
		return nil, fmt.Errorf("seed conformance: %w", err)
	}
	if cfg.ConformanceDir != "" {
		if err := reg.LoadDirectory(cfg.ConformanceDir); err != nil {
			return nil, fmt.Errorf("load conformance dir: %w", err)
		}
	}
	if err := reg.Build(); err != nil {
		return nil, fmt.Errorf("build registries: %w", err)
	}
	return reg, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	logger := buildLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build registries")
	}
	plan, err := schema.PlanSchema(reg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to plan schema")
	}

	// Bootstrap migrations first, then the generated resource DDL. Both are
	// idempotent, so boot after a conformance change only adds new tables.
	migrator := db.NewMigrator(pool)
	applied, err := migrator.Up(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}
	if applied > 0 {
		logger.Info().Int("applied", applied).Msg("migrations applied")
	}
	if err := migrator.ApplyDDL(ctx, plan.Statements()); err != nil {
		logger.Fatal().Err(err).Msg("resource DDL failed")
	}
	logger.Info().Int("resource_types", len(reg.ResourceTypes())).Msg("schema ready")

	term := terminology.NewStore(logger)
	compiler := search.NewCompiler(reg, term, search.Options{
		DefaultCount: cfg.SearchDefaultCount,
		MaxCount:     cfg.SearchMaxCount,
	})
	repository := repo.New(pool, db.NewTxRunner(pool, logger), reg, plan, compiler, logger)
	validator := validate.New(reg, validate.Options{}, logger)
	server := rest.New(repository, validator, reg, pool, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Project-ID", "If-Match", "If-None-Exist", "Prefer"},
	}))
	e.Use(middleware.BodyLimit("10M"))
	e.Use(middleware.RequestTimeout(cfg.OperationTimeout()))

	fhirGroup := e.Group("/fhir/R4")
	if cfg.AuthDisabled || (cfg.IsDev() && cfg.JWTSecret == "") {
		logger.Warn().Msg("authentication disabled; requests run as superAdmin")
		fhirGroup.Use(auth.DevMiddleware())
	} else {
		fhirGroup.Use(auth.JWTMiddleware(cfg.JWTSecret))
	}
	server.Register(e, fhirGroup)

	// Serve until interrupted, then drain in-flight requests.
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()
	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool).Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status failed: %w", err)
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the generated resource-table DDL",
		RunE: func(cmd *cobra.Command, args []string) error {
			apply, _ := cmd.Flags().GetBool("apply")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := buildLogger(cfg)
			reg, err := buildRegistry(cfg, logger)
			if err != nil {
				return err
			}
			plan, err := schema.PlanSchema(reg)
			if err != nil {
				return err
			}

			if !apply {
				fmt.Print(plan.DDL())
				return nil
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.NewMigrator(pool).ApplyDDL(ctx, plan.Statements()); err != nil {
				return fmt.Errorf("apply DDL: %w", err)
			}
			fmt.Printf("Applied DDL for %d resource type(s).\n", len(reg.ResourceTypes()))
			return nil
		},
	}
	cmd.Flags().Bool("apply", false, "Execute the DDL instead of printing it")
	return cmd
}

func projectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			superAdmin, _ := cmd.Flags().GetBool("super-admin")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			secret := make([]byte, 32)
			if _, err := crypto_rand.Read(secret); err != nil {
				return fmt.Errorf("generate project secret: %w", err)
			}
			id := uuid.New()
			_, err = pool.Exec(ctx,
				`INSERT INTO "Project" ("id", "name", "superAdmin", "secret") VALUES ($1, $2, $3, $4)`,
				id, name, superAdmin, hex.EncodeToString(secret))
			if err != nil {
				return fmt.Errorf("create project: %w", err)
			}
			fmt.Printf("Created project %s (%s)\n", name, id)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Project name")
	createCmd.Flags().Bool("super-admin", false, "Grant the project superAdmin scope")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			rows, err := pool.Query(ctx,
				`SELECT "id", "name", "superAdmin", "createdAt" FROM "Project" ORDER BY "createdAt"`)
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			defer rows.Close()

			fmt.Printf("%-38s %-30s %-12s %s\n", "ID", "NAME", "SUPERADMIN", "CREATED")
			for rows.Next() {
				var id uuid.UUID
				var name string
				var superAdmin bool
				var createdAt time.Time
				if err := rows.Scan(&id, &name, &superAdmin, &createdAt); err != nil {
					return err
				}
				fmt.Printf("%-38s %-30s %-12t %s\n", id, name, superAdmin, createdAt.Format("2006-01-02 15:04:05"))
			}
			return rows.Err()
		},
	})

	return cmd
}
