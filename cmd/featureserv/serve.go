package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koustreak/featureserv/internal/config"
	"github.com/koustreak/featureserv/internal/database"
	"github.com/koustreak/featureserv/internal/database/postgres"
	"github.com/koustreak/featureserv/internal/logger"
	"github.com/koustreak/featureserv/internal/server"
	"github.com/koustreak/featureserv/internal/service"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, log, err := setup(configPath)
	if err != nil {
		return err
	}

	pools := postgres.NewRegistry()
	defer pools.Close()

	db, err := pools.Get(ctx, databaseConfig(cfg))
	if err != nil {
		log.ErrorWith("database unavailable", err, nil)
		return err
	}
	log.InfoWith("connected to database", map[string]any{
		"max_conns":        cfg.Database.MaxConns,
		"max_record_count": cfg.Service.MaxRecordCount,
	})

	srv := server.New(cfg.Server, service.New(db, cfg.Service), log)
	if err := srv.Run(ctx); err != nil {
		log.ErrorWith("server stopped", err, nil)
		return err
	}
	log.Info("server exited")
	return nil
}

// setup loads configuration and installs the process logger.
func setup(configPath string) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		TimeFormat: "rfc3339",
		Output:     os.Stdout,
	})
	logger.SetGlobal(log)
	return cfg, log, nil
}

func databaseConfig(cfg *config.Config) *database.Config {
	dbCfg := database.DefaultConfig(cfg.Database.URL)
	dbCfg.MaxConns = cfg.Database.MaxConns
	dbCfg.MinConns = cfg.Database.MinConns
	dbCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	dbCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	dbCfg.ConnectTimeout = cfg.Database.ConnectTimeout
	dbCfg.QueryTimeout = cfg.Service.QueryTimeout
	dbCfg.SchemaTimeout = cfg.Service.SchemaTimeout
	return dbCfg
}
