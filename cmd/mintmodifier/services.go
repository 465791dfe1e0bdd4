package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/abraham-ai/mintmodifier/pkg/artifacts"
	"github.com/abraham-ai/mintmodifier/pkg/chain"
	"github.com/abraham-ai/mintmodifier/pkg/config"
	"github.com/abraham-ai/mintmodifier/pkg/eden"
	"github.com/abraham-ai/mintmodifier/pkg/lease"
	"github.com/abraham-ai/mintmodifier/pkg/observability"
	"github.com/abraham-ai/mintmodifier/pkg/reconciler"
	"github.com/abraham-ai/mintmodifier/pkg/store/mintevents"
)

// services holds everything a running process owns. close releases them in
// reverse order of acquisition.
type services struct {
	store     mintevents.Store
	engine    *reconciler.Engine
	writer    *chain.Writer
	telemetry *observability.Provider
	closers   []func(context.Context) error
}

func (s *services) onClose(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

func (s *services) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// openStore connects the configured mint event store and prepares its schema.
func openStore(ctx context.Context, cfg *config.Config, s *services) error {
	if err := connectStore(ctx, cfg, s); err != nil {
		return err
	}
	return s.store.Init(ctx)
}

// connectStore connects the configured mint event store without creating
// tables or indexes. Read-only commands use it.
func connectStore(ctx context.Context, cfg *config.Config, s *services) error {
	var store mintevents.Store

	switch cfg.Store.Backend {
	case "mongo":
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Store.MongoURL))
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		s.onClose(client.Disconnect)
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			return fmt.Errorf("ping mongo: %w", err)
		}
		coll := client.Database(cfg.Store.MongoDatabase).Collection(cfg.Store.MongoCollection)
		store = mintevents.NewMongoStore(coll)

	case "postgres":
		db, err := sql.Open("postgres", cfg.Store.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		s.onClose(func(context.Context) error { return db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		store = mintevents.NewPostgresStore(db)

	case "sqlite":
		db, err := sql.Open("sqlite", cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		s.onClose(func(context.Context) error { return db.Close() })
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping sqlite: %w", err)
		}
		store = mintevents.NewSQLiteStore(db)

	case "memory":
		store = mintevents.NewMemoryStore()

	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}

	s.store = store
	return nil
}

func publisherConfig(cfg *config.Config) artifacts.Config {
	a := cfg.Artifacts
	return artifacts.Config{
		Backend: artifacts.Backend(a.Backend),
		Gateway: a.Gateway,
		MaxSize: a.MaxSize,
		DataDir: a.DataDir,
		S3: artifacts.S3StoreConfig{
			Bucket:   a.S3Bucket,
			Region:   a.S3Region,
			Endpoint: a.S3Endpoint,
			Prefix:   a.S3Prefix,
		},
		GCS: artifacts.GCSStoreConfig{
			Bucket: a.GCSBucket,
			Prefix: a.GCSPrefix,
		},
		Pinata: artifacts.PinataConfig{
			APIURL:    a.PinataAPIURL,
			APIKey:    a.PinataAPIKey,
			APISecret: a.PinataAPISecret,
			JWT:       a.PinataJWT,
			Gateway:   a.Gateway,
			MaxSize:   a.MaxSize,
		},
	}
}

func chainConfig(cfg *config.Config) chain.Config {
	c := cfg.Chain
	return chain.Config{
		RPCURL:              c.RPCURL,
		PrivateKey:          c.SignerKey,
		ContractAddress:     c.ContractAddress,
		BroadcastFile:       c.BroadcastFile,
		ABIPath:             c.ABIPath,
		GasLimit:            c.GasLimit,
		ReceiptPollInterval: c.ReceiptPollInterval,
		ReceiptTimeout:      c.ReceiptTimeout,
	}
}

func newTaskClient(cfg *config.Config) *eden.Client {
	return eden.NewClient(eden.Config{
		BaseURL:       cfg.Eden.BaseURL,
		APIKey:        cfg.Eden.APIKey,
		APISecret:     cfg.Eden.APISecret,
		RatePerSecond: cfg.Eden.RatePerSecond,
		Timeout:       cfg.Eden.Timeout,
	})
}

func newTelemetry(ctx context.Context, cfg *config.Config) (*observability.Provider, error) {
	if !cfg.TelemetryEnabled() {
		return observability.Disabled(), nil
	}
	oc := observability.DefaultConfig()
	oc.Enabled = true
	oc.ServiceName = cfg.Telemetry.ServiceName
	oc.ServiceVersion = version
	oc.Environment = cfg.Environment
	oc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	oc.Insecure = cfg.Telemetry.Insecure
	oc.SampleRate = cfg.Telemetry.SampleRate
	return observability.New(ctx, oc)
}

func newRedisClient(cfg *config.Config, s *services) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Lease.RedisAddr,
		Password: cfg.Lease.RedisPassword,
		DB:       cfg.Lease.RedisDB,
	})
	s.onClose(func(context.Context) error { return client.Close() })
	return client
}

func newLease(cfg *config.Config, s *services) lease.Lease {
	if cfg.Lease.RedisAddr == "" {
		return lease.Always{}
	}
	return lease.NewRedisLease(newRedisClient(cfg, s), cfg.Lease.Key, cfg.Lease.TTL)
}

// buildServices wires the reconciler from cfg. On error, everything opened
// so far has already been released.
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *services, err error) {
	s := &services{}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = s.close(closeCtx)
		}
	}()

	if s.telemetry, err = newTelemetry(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s.onClose(s.telemetry.Shutdown)

	if err = openStore(ctx, cfg, s); err != nil {
		return nil, err
	}

	publisher, err := artifacts.NewPublisher(ctx, publisherConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init artifact publisher: %w", err)
	}

	if s.writer, err = chain.Dial(ctx, chainConfig(cfg)); err != nil {
		return nil, err
	}
	s.onClose(func(context.Context) error { s.writer.Close(); return nil })
	logger.Info("ledger writer ready", "contract", s.writer.Contract().Hex(), "signer", s.writer.From().Hex())

	s.engine = reconciler.New(s.store, newTaskClient(cfg), publisher, s.writer,
		reconciler.NewHTTPFetcher(cfg.Artifacts.DownloadTimeout),
		reconciler.Options{
			PollInterval:    cfg.Engine.PollInterval,
			Concurrency:     cfg.Engine.Concurrency,
			Ledger:          reconciler.LedgerRetryPolicy{MaxAttempts: cfg.Engine.LedgerMaxAttempts},
			MetadataName:    cfg.Engine.MetadataName,
			CreationBaseURL: cfg.Engine.CreationBaseURL,
			Lease:           newLease(cfg, s),
			Telemetry:       s.telemetry,
			Logger:          logger,
		})
	return s, nil
}
