package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vtryon/backend/internal/config"
	"github.com/vtryon/backend/internal/database"
	"github.com/vtryon/backend/internal/ledger"
)

type commandContext struct {
	databaseFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	pool   *pgxpool.Pool
	logger *slog.Logger
}

func newCommandContext(databaseFlag *string) *commandContext {
	return &commandContext{
		databaseFlag: databaseFlag,
		logger:       slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.LoadEnv()
		if err != nil {
			c.configErr = err
			return
		}
		if c.databaseFlag != nil && *c.databaseFlag != "" {
			cfg.DatabaseURL = *c.databaseFlag
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) db(ctx context.Context) (*pgxpool.Pool, error) {
	if c.pool != nil {
		return c.pool, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	c.pool = pool
	return pool, nil
}

func (c *commandContext) ledger(ctx context.Context) (*ledger.Ledger, error) {
	pool, err := c.db(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.New(ledger.NewRepository(pool), c.config.Limits(), c.logger), nil
}

func (c *commandContext) close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
