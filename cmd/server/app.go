package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/filevault/internal/config"
	"github.com/iliyamo/filevault/internal/database"
	"github.com/iliyamo/filevault/internal/logger"
	"github.com/iliyamo/filevault/internal/metrics"
	"github.com/iliyamo/filevault/internal/repository"
	"github.com/iliyamo/filevault/internal/service"
	"github.com/iliyamo/filevault/internal/utils"
)

// core is what every command needs: config, logger, database and the
// token ledger plus user directory built on top of them.
type core struct {
	cfg     *config.Config
	log     logger.Logger
	db      *sql.DB
	metrics *metrics.Metrics
	events  service.EventPublisher

	userRepo *repository.UserRepo
	fileRepo *repository.FileRepo
	issuer   *utils.TokenIssuer
	hasher   *utils.PasswordHasher
	ledger   *service.Ledger
	users    *service.UserService
}

func newCore(ctx context.Context) (*core, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	db, err := database.Open(ctx, *cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.AMQP.Enabled {
		events = service.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Queue, log)
	}

	c := &core{
		cfg:      cfg,
		log:      log,
		db:       db,
		metrics:  metrics.New(),
		events:   events,
		userRepo: repository.NewUserRepo(db),
		fileRepo: repository.NewFileRepo(db),
		issuer:   utils.NewTokenIssuer(cfg.JWTSecret),
		hasher:   utils.NewPasswordHasher(cfg.BcryptCost),
	}
	c.ledger = service.NewLedger(repository.NewTokenRepo(db), c.issuer, nil)
	c.users = service.NewUserService(c.userRepo, c.ledger, c.hasher, log, events)
	return c, nil
}

func (c *core) Close() {
	if p, ok := c.events.(*service.AMQPPublisher); ok {
		_ = p.Close()
	}
	if err := c.db.Close(); err != nil {
		c.log.Warn().Err(err).Msg("database close failed")
	}
}
