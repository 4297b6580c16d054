package main

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"whatsapp-relay/handler"
	"whatsapp-relay/internal/config"
	"whatsapp-relay/internal/coordination"
	"whatsapp-relay/internal/integrations/gemini"
	"whatsapp-relay/internal/integrations/openai"
	"whatsapp-relay/internal/integrations/paramstore"
	"whatsapp-relay/internal/integrations/whatsapp"
	"whatsapp-relay/internal/logger"
	"whatsapp-relay/internal/repository"
	"whatsapp-relay/internal/usecase"
)

const lockExpiry = 2 * time.Minute

// base is what every subcommand needs before touching a store.
type base struct {
	cfg    *config.Config
	log    zerolog.Logger
	awsCfg *aws.Config
	params *paramstore.Client
}

type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   repository.ReadWriter
	handler *handler.Handler
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// loadConfig reads the dotenv file and the environment, then fills empty
// secrets from Parameter Store when PARAM_PREFIX is set.
func loadConfig(ctx context.Context, envFile string) (*base, error) {
	loaded, err := config.LoadDotEnv(envFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg)
	if loaded != "" {
		log.Debug().Str("file", loaded).Msg("dotenv loaded")
	}

	b := &base{cfg: cfg, log: log}
	if cfg.ParamPrefix == "" && cfg.StateTable == "" {
		return b, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	b.awsCfg = &awsCfg

	if cfg.ParamPrefix != "" {
		ps, err := paramstore.New(ssm.NewFromConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		missing, err := ps.FillEmpty(ctx, cfg.ParamPrefix, cfg.Secrets()...)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			log.Debug().Strs("parameters", missing).Msg("parameters not found, keeping environment values")
		}
		b.params = ps
	}
	return b, nil
}

func openPostgres(cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	log.Info().Str("dsn", config.SanitizeDSN(cfg.DatabaseURL)).Msg("connecting to postgres")
	return repository.OpenPostgres(repository.PostgresConfig{
		DSN:             cfg.DatabaseURL,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
}

// openStore prefers PostgreSQL, then DynamoDB, then the in-process store.
func openStore(b *base) (repository.ReadWriter, func(), error) {
	cfg, log := b.cfg, b.log
	switch {
	case cfg.DatabaseURL != "":
		db, err := openPostgres(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		store, err := repository.NewGorm(db)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return store, closer, nil
	case cfg.StateTable != "":
		store, err := repository.New(dynamodb.NewFromConfig(*b.awsCfg), cfg.StateTable)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("table", cfg.StateTable).Msg("using dynamodb store")
		return store, func() {}, nil
	default:
		log.Warn().Msg("no DATABASE_URL or STATE_TABLE set, conversations are kept in memory")
		return repository.NewMemory(), func() {}, nil
	}
}

func newGenerator(b *base) (usecase.Generator, error) {
	cfg := b.cfg
	if cfg.GenerationProvider == config.ProviderOpenAI {
		opts := []openai.Option{openai.WithBaseURL(cfg.OpenAIBaseURL)}
		if cfg.OpenAIAPIKey == "" && b.params != nil {
			opts = append(opts, openai.WithKeyParameter(b.params, path.Join(cfg.ParamPrefix, "open-ai-token")))
		}
		client, err := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	client, err := gemini.NewClient(cfg.GoogleAPIKey, cfg.GeminiModel, gemini.WithBaseURL(cfg.GeminiBaseURL))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func newCoordination(ctx context.Context, cfg *config.Config, log zerolog.Logger) (coordination.Locker, coordination.Guard, func(), error) {
	if cfg.RedisURL == "" {
		guard, err := coordination.NewMemoryGuard(cfg.DedupeCacheSize, cfg.DedupeTTL)
		if err != nil {
			return nil, nil, nil, err
		}
		return coordination.NewKeyedMutex(), guard, func() {}, nil
	}

	client, err := coordination.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	closer := func() { _ = client.Close() }
	locker, err := coordination.NewRedisLocker(client, lockExpiry, log)
	if err != nil {
		closer()
		return nil, nil, nil, err
	}
	guard, err := coordination.NewRedisGuard(client, cfg.DedupeTTL)
	if err != nil {
		closer()
		return nil, nil, nil, err
	}
	log.Info().Str("addr", client.Options().Addr).Msg("using redis for locks and dedupe")
	return locker, guard, closer, nil
}

// bootstrap builds the full relay graph shared by serve and lambda.
func bootstrap(ctx context.Context, envFile string) (_ *app, err error) {
	b, err := loadConfig(ctx, envFile)
	if err != nil {
		return nil, err
	}
	cfg, log := b.cfg, b.log
	if err := cfg.ValidateRelay(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	store, closeStore, err := openStore(b)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	gen, err := newGenerator(b)
	if err != nil {
		return nil, err
	}
	wa, err := whatsapp.NewClient(cfg.MetaAccessToken, cfg.PhoneNumberID,
		whatsapp.WithBaseURL(cfg.GraphBaseURL),
		whatsapp.WithAPIVersion(cfg.GraphAPIVersion),
		whatsapp.WithTimeout(cfg.DeliveryTimeout),
	)
	if err != nil {
		return nil, err
	}
	gateway, err := usecase.NewDeliveryGateway(wa, log)
	if err != nil {
		return nil, err
	}
	memory, err := usecase.NewMemory(store, cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	responder, err := usecase.NewResponder(memory, gen, cfg.PersonaPrompt, cfg.FallbackReply, log)
	if err != nil {
		return nil, err
	}

	locker, guard, closeCoord, err := newCoordination(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeCoord)

	dispatcher, err := usecase.NewDispatcher(store, responder, gateway, cfg.MetaVerifyToken,
		usecase.WithLocker(locker),
		usecase.WithGuard(guard),
		usecase.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	a.handler, err = handler.NewHandler(dispatcher, log)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("provider", cfg.GenerationProvider).
		Int("history_limit", cfg.HistoryLimit).
		Msg("relay ready")
	return a, nil
}
