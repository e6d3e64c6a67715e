package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"userchat/internal/config"
	"userchat/internal/logging"
	"userchat/internal/redis"
	"userchat/internal/service/ai"
	"userchat/internal/service/assistant"
	"userchat/internal/storage"
	"userchat/internal/worker"
)

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg   *config.Config
	log   zerolog.Logger
	db    *sql.DB
	store *storage.UserStore
	rdb   *redis.Client
}

func newApp(cmd *cobra.Command) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logging.New(cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogPretty)

	driver := cfg.BasicConfig.DatabaseDriver
	db, err := storage.Open(driver, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	log.Debug().Str("driver", driver).Msg("database opened")

	store := storage.NewUserStore(db, driver, log)
	store.Init(cmd.Context())

	return &app{cfg: cfg, log: log, db: db, store: store}, nil
}

// workflow builds the chat model for the configured provider and compiles
// the graph around it.
func (a *app) workflow(ctx context.Context) (*assistant.Workflow, error) {
	defaults := assistant.FromConfigurable(a.cfg.Configurable)
	chatModel, err := ai.NewChatModel(ctx, a.cfg, ai.ModelSettings{
		Provider:    a.cfg.BasicConfig.Provider,
		Model:       defaults.ModelName,
		Temperature: float32(defaults.Temperature),
	})
	if err != nil {
		return nil, fmt.Errorf("chat model: %w", err)
	}
	node, err := assistant.NewChatNode(a.store, chatModel,
		assistant.WithDatabaseLookup(a.cfg.BasicConfig.DatabaseLookup),
		assistant.WithLogger(a.log),
	)
	if err != nil {
		return nil, err
	}
	return assistant.NewWorkflow(ctx, node.Run)
}

// manager starts the session workers, sharing transcripts through redis
// when it is enabled.
func (a *app) manager(wf worker.Invoker) (*worker.Manager, error) {
	ttl := time.Duration(a.cfg.BasicConfig.SessionTTLMinutes) * time.Minute
	opts := []worker.Option{
		worker.WithQueueSize(a.cfg.BasicConfig.QueueSize),
		worker.WithLogger(a.log),
	}
	if a.cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(a.cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		a.rdb = rdb
		opts = append(opts, worker.WithRedis(rdb, ttl))
	}
	return worker.NewManager(wf, opts...)
}

func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
