// Package di assembles the orders service from configuration.
package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/handlers"
	"github.com/hanko-field/orders/internal/platform/config"
	pfirestore "github.com/hanko-field/orders/internal/platform/firestore"
	"github.com/hanko-field/orders/internal/platform/idempotency"
	"github.com/hanko-field/orders/internal/platform/jobs"
	"github.com/hanko-field/orders/internal/platform/observability"
	platformstorage "github.com/hanko-field/orders/internal/platform/storage"
	"github.com/hanko-field/orders/internal/repositories"
	"github.com/hanko-field/orders/internal/repositories/cache"
	firestoreRepo "github.com/hanko-field/orders/internal/repositories/firestore"
	"github.com/hanko-field/orders/internal/repositories/memory"
	"github.com/hanko-field/orders/internal/repositories/postgres"
	"github.com/hanko-field/orders/internal/services"
	"github.com/hanko-field/orders/internal/services/plugins"
)

const probeTimeout = 2 * time.Second

// Container wires repositories, services, and transports for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Orders       *services.OrderAssembler
	Health       repositories.HealthRepository
	Router       http.Handler

	closers []func(context.Context) error
}

// Option customises NewContainer.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	registry repositories.Registry
	build    handlers.BuildInfo
}

// WithLogger sets the base logger handed to every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegistry bypasses backend selection and uses the given registry. The container does not
// close an injected registry.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithBuildInfo sets the metadata reported by /healthz.
func WithBuildInfo(info handlers.BuildInfo) Option {
	return func(o *options) {
		o.build = info
	}
}

// NewContainer constructs the runtime dependencies. On error every resource opened so far is
// released.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (_ *Container, err error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	logger := o.logger

	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	reg := o.registry
	var (
		probes   []repositories.Probe
		provider *pfirestore.Provider
	)
	if reg == nil {
		var b backend
		b, err = openBackend(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		reg, provider = b.registry, b.firestore
		c.closers = append(c.closers, reg.Close)
		probes = append(probes, b.probe)
	} else {
		probes = append(probes, registryProbe(reg))
	}
	c.Repositories = reg

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c.closers = append(c.closers, func(context.Context) error { return redisClient.Close() })
		probes = append(probes, repositories.Probe{
			Name:    "redis",
			Timeout: probeTimeout,
			Ping: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	products := reg.Products()
	if redisClient != nil {
		products, err = cache.NewProducts(cache.ProductsDeps{
			Next:   reg.Products(),
			Client: redisClient,
			TTL:    cfg.Redis.ProductTTL,
			Logger: logger.Named("cache"),
		})
		if err != nil {
			return nil, fmt.Errorf("build product cache: %w", err)
		}
	}

	events, err := c.buildEvents(ctx, cfg, redisClient)
	if err != nil {
		return nil, err
	}

	var archive services.InvoiceArchiver
	if bucket := strings.TrimSpace(cfg.Storage.ExportsBucket); bucket != "" {
		archive, err = c.buildArchive(ctx, cfg, bucket, logger)
		if err != nil {
			return nil, err
		}
	}

	assembler, err := buildAssembler(cfg, reg, products, events, archive, logger)
	if err != nil {
		return nil, err
	}
	c.Orders = assembler

	health, err := repositories.NewProbeHealth(probes, nil)
	if err != nil {
		return nil, fmt.Errorf("build health probes: %w", err)
	}
	c.Health = health

	keys, err := buildIdempotencyStore(redisClient, provider)
	if err != nil {
		return nil, err
	}
	c.startIdempotencyCleanup(keys, cfg.Idempotency, logger.Named("idempotency"))

	c.Router = buildRouter(cfg, assembler, health, keys, o.build, logger)
	return c, nil
}

// Close releases clients in reverse order of creation.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

type backend struct {
	registry  repositories.Registry
	probe     repositories.Probe
	firestore *pfirestore.Provider
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, error) {
	switch cfg.Orders.Backend {
	case config.BackendMemory, "":
		store := memory.NewStore()
		return backend{registry: store, probe: registryProbe(store)}, nil
	case config.BackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestoreRepo.NewRegistry(provider, cfg.Orders.RefParam)
		if err != nil {
			return backend{}, fmt.Errorf("build firestore registry: %w", err)
		}
		return backend{
			registry:  reg,
			probe:     repositories.Probe{Name: "firestore", Timeout: probeTimeout, Ping: provider.Ping},
			firestore: provider,
		}, nil
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres, logger)
		if err != nil {
			return backend{}, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return backend{}, err
		}
		store, err := postgres.NewStore(db)
		if err != nil {
			return backend{}, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			_ = store.Close(ctx)
			return backend{}, fmt.Errorf("postgres: %w", err)
		}
		return backend{
			registry: store,
			probe:    repositories.Probe{Name: "postgres", Timeout: probeTimeout, Ping: sqlDB.PingContext},
		}, nil
	default:
		return backend{}, fmt.Errorf("unknown orders backend %q", cfg.Orders.Backend)
	}
}

// buildIdempotencyStore prefers Redis, then the Firestore backend, then process memory.
func buildIdempotencyStore(redisClient *redis.Client, provider *pfirestore.Provider) (idempotency.Store, error) {
	switch {
	case redisClient != nil:
		return idempotency.NewRedisStore(redisClient)
	case provider != nil:
		return idempotency.NewFirestoreStore(provider, "")
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

func (c *Container) startIdempotencyCleanup(store idempotency.Store, cfg config.IdempotencyConfig, logger *zap.Logger) {
	if cfg.CleanupInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed, err := store.CleanupExpired(ctx, now, cfg.CleanupBatchSize)
				if err != nil {
					logger.Warn("idempotency cleanup failed", zap.Error(err))
					continue
				}
				if removed > 0 {
					logger.Debug("idempotency records expired", zap.Int("removed", removed))
				}
			}
		}
	}()
	c.closers = append(c.closers, func(closeCtx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-closeCtx.Done():
			return closeCtx.Err()
		}
	})
}

// registryProbe turns a registry's own health report into a single probe.
func registryProbe(reg repositories.Registry) repositories.Probe {
	return repositories.Probe{
		Name:    "repositories",
		Timeout: probeTimeout,
		Ping: func(ctx context.Context) error {
			health := reg.Health()
			if health == nil {
				return nil
			}
			report, err := health.Collect(ctx)
			if err != nil {
				return err
			}
			for name, check := range report.Checks {
				if check.Status != domain.HealthStatusOK {
					return fmt.Errorf("%s: %s", name, check.Detail)
				}
			}
			return nil
		},
	}
}

func (c *Container) buildEvents(ctx context.Context, cfg config.Config, redisClient *redis.Client) (services.OrderEventPublisher, error) {
	var sinks jobs.MultiPublisher

	if cfg.Orders.Events == config.EventsPubSub || cfg.Orders.Events == config.EventsAll {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		topic := client.Topic(cfg.PubSub.OrdersTopic)
		c.closers = append(c.closers, func(context.Context) error {
			topic.Stop()
			return client.Close()
		})
		publisher, err := jobs.NewPubSubOrderPublisher(topic)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publisher)
	}

	if cfg.Orders.Events == config.EventsRedis || cfg.Orders.Events == config.EventsAll {
		if redisClient == nil {
			return nil, errors.New("redis events require ORDERS_REDIS_ADDR")
		}
		publisher, err := jobs.NewRedisOrderPublisher(redisClient, cfg.Redis.Channel)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, publisher)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return sinks, nil
	}
}

func (c *Container) buildArchive(ctx context.Context, cfg config.Config, bucket string, logger *zap.Logger) (services.InvoiceArchiver, error) {
	client, err := cloudstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	c.closers = append(c.closers, func(context.Context) error { return client.Close() })

	writer, err := platformstorage.NewGCSObjectWriter(client)
	if err != nil {
		return nil, err
	}
	archive, err := platformstorage.NewInvoiceArchive(platformstorage.InvoiceArchiveDeps{
		Writer:    writer,
		Bucket:    bucket,
		RefLength: cfg.Orders.RefLength,
		Logger:    logger.Named("archive"),
	})
	if err != nil {
		return nil, fmt.Errorf("build invoice archive: %w", err)
	}
	return archive, nil
}

func buildAssembler(cfg config.Config, reg repositories.Registry, products repositories.ProductRepository, events services.OrderEventPublisher, archive services.InvoiceArchiver, logger *zap.Logger) (*services.OrderAssembler, error) {
	registry := services.NewLineItemPluginRegistry()
	registry.RegisterPriceModifier(plugins.ProductOptions{})
	registry.RegisterCustomiser(plugins.ProductOptions{})

	builder, err := services.NewLineItemBuilder(services.LineItemBuilderDeps{
		Tax:       services.NewTaxResolver(reg.TaxCategories(), logger.Named("tax")),
		Plugins:   registry,
		Stocked:   services.ProductFlagAccessor(cfg.Orders.ProductStockedParam),
		CustomMap: cfg.Orders.CustomMap,
		Logger:    logger.Named("line_items"),
	})
	if err != nil {
		return nil, fmt.Errorf("build line item builder: %w", err)
	}

	// Stock levels are read uncached so checks see the latest catalogue counts.
	stock, err := services.NewStockChecker(services.StockCheckerDeps{
		Products:     reg.Products(),
		Ledger:       reg.StockLedger(),
		ForceCheck:   cfg.Orders.ForceCheckStock,
		StockTracked: services.ProductFlagAccessor(cfg.Orders.ProductStockParam),
		Logger:       logger.Named("stock"),
	})
	if err != nil {
		return nil, fmt.Errorf("build stock checker: %w", err)
	}

	assembler, err := services.NewOrderAssembler(services.OrderAssemblerDeps{
		Orders:     reg.Orders(),
		Products:   products,
		Contacts:   reg.Contacts(),
		Builder:    builder,
		Stock:      stock,
		UnitOfWork: reg,
		Events:     events,
		Archive:    archive,
		Settings: services.OrderSettings{
			CustomMap:           cfg.Orders.CustomMap,
			ForceCheckStock:     cfg.Orders.ForceCheckStock,
			ProductStockedParam: cfg.Orders.ProductStockedParam,
			ProductStockParam:   cfg.Orders.ProductStockParam,
			DefaultValidityDays: cfg.Orders.DefaultValidityDays,
			EstimatePrefix:      cfg.Orders.EstimatePrefix,
			InvoicePrefix:       cfg.Orders.InvoicePrefix,
			RefLength:           cfg.Orders.RefLength,
			RefMaxAttempts:      cfg.Orders.RefMaxAttempts,
		},
		Logger: logger.Named("orders"),
	})
	if err != nil {
		return nil, fmt.Errorf("build order assembler: %w", err)
	}
	return assembler, nil
}

func buildRouter(cfg config.Config, assembler *services.OrderAssembler, health repositories.HealthRepository, keys idempotency.Store, build handlers.BuildInfo, logger *zap.Logger) http.Handler {
	orderHandlers := handlers.NewOrderHandlers(assembler)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthRepository(health),
		handlers.WithHealthBuildInfo(build),
	)

	return handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAPIMiddlewares(
			handlers.RateLimitMiddleware("default", cfg.RateLimits.DefaultPerMinute),
			idempotency.Middleware(keys,
				idempotency.WithHeader(cfg.Idempotency.Header),
				idempotency.WithTTL(cfg.Idempotency.TTL),
				idempotency.WithRequired(cfg.Idempotency.Required),
				idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
			),
		),
		handlers.WithEstimateRoutes(orderHandlers.EstimateRoutes),
		handlers.WithInvoiceRoutes(orderHandlers.InvoiceRoutes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPublicRoutes(orderHandlers.PublicRoutes),
		handlers.WithPublicMiddlewares(handlers.RateLimitMiddleware("public", cfg.RateLimits.PublicPerMinute)),
	)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firestore.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.PubSub.ProjectID)
}
