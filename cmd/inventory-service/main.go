// cmd/inventory-service/main.go
package main

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"marketplace/internal/pkg/bootstrap"
	"marketplace/internal/pkg/httpclient"
	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/mq"
	"marketplace/internal/pkg/redis"
	"marketplace/internal/pkg/zookeeper"
	"marketplace/internal/service/inventory/application"
	"marketplace/internal/service/inventory/domain"
	"marketplace/internal/service/inventory/domain/port"
	"marketplace/internal/service/inventory/infrastructure"
	"marketplace/internal/service/inventory/infrastructure/adapter"
	"marketplace/internal/service/inventory/infrastructure/memory"
	"marketplace/internal/service/inventory/interfaces"
)

const serviceName = "inventory-service"

// repositories 是按存储驱动选出的一组仓储
type repositories struct {
	stocks       domain.StockRepository
	reservations domain.ReservationRepository
	policies     domain.DeliveryPolicyRepository
	tx           domain.Transactor
}

// main 函数是应用的"组装根"：创建并组装所有依赖项，然后启动应用
func main() {
	cfg := bootstrap.Init()
	logger.Init(serviceName, cfg.App.LogLevel)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      serviceName,
		Port:             cfg.App.Port,
		StaticServices:   map[string]string{cfg.Inventory.Catalog.ServiceName: "http://localhost:8090"},
		RegisterHandlers: wire,
	})
}

func wire(appCtx *bootstrap.AppCtx) error {
	cfg := appCtx.Config
	ctx := context.Background()
	tracer := otel.Tracer(serviceName)

	// 1. 存储
	repos, err := openRepositories(ctx, appCtx)
	if err != nil {
		return err
	}

	// 2. 出站适配器
	var publisher port.ReservationEventPublisher = port.NopPublisher{}
	brokers := cfg.KafkaBrokerList()
	if len(brokers) > 0 {
		kafkaAdapter := adapter.NewReservationKafkaAdapter(mq.NewWriter(brokers, cfg.Infra.Kafka.ReservationTopic))
		publisher = kafkaAdapter
		appCtx.OnShutdown(func(ctx context.Context) { _ = kafkaAdapter.Close() })
	}

	var carts port.CartStore = memory.NewCartStore()
	if cfg.Infra.Redis.Addrs != "" {
		redisClient, err := redis.NewClient(ctx, cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			return err
		}
		carts = adapter.NewCartRedisAdapter(redisClient, cfg.Inventory.Cart.TTL)
		appCtx.OnShutdown(func(ctx context.Context) { _ = redisClient.Close() })
	}

	catalog := adapter.NewCatalogHTTPAdapter(
		httpclient.NewClient(tracer, appCtx.Resolver),
		cfg.Inventory.Catalog.ServiceName,
		cfg.Inventory.Catalog.Timeout,
	)

	var locker port.SweepLocker
	if cfg.Inventory.Reconciler.DistributedLock {
		zkConn, err := zookeeper.Connect(cfg.ZookeeperServerList(), cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return err
		}
		locker = adapter.NewSweepLockZKAdapter(zkConn)
		appCtx.OnShutdown(func(ctx context.Context) { zkConn.Close() })
	}

	// 3. 应用服务
	ledger := application.NewStockLedger(repos.stocks, repos.tx, application.LedgerOptions{
		MaxAttempts:    cfg.Inventory.Ledger.MaxAttempts,
		InitialBackoff: cfg.Inventory.Ledger.InitialBackoff,
		MaxBackoff:     cfg.Inventory.Ledger.MaxBackoff,
	}, tracer)
	delivery := application.NewDeliveryPolicyResolver(repos.policies, tracer)
	coordinator := application.NewReservationCoordinator(ledger, repos.reservations, delivery, repos.tx, publisher, tracer)
	reconciler := application.NewStaleReservationReconciler(ledger, repos.reservations, repos.tx, publisher, locker,
		application.ReconcilerOptions{
			Interval:        cfg.Inventory.Reconciler.Interval,
			StalenessWindow: cfg.Inventory.Reconciler.StalenessWindow,
			BatchSize:       cfg.Inventory.Reconciler.BatchSize,
		}, tracer)
	cartService := application.NewCartService(carts, catalog, delivery, tracer)
	lifecycle := application.NewStoreLifecycleService(ledger, repos.policies, repos.reservations, repos.tx, publisher, tracer)

	// 4. 入站适配器
	interfaces.NewInventoryHandler(coordinator, reconciler, cartService, ledger, delivery).RegisterRoutes(appCtx.Mux)

	if cfg.Inventory.Reconciler.Enabled {
		reconciler.Start(ctx)
		appCtx.OnShutdown(func(ctx context.Context) { reconciler.Stop() })
	}

	if len(brokers) > 0 {
		reader := mq.NewReader(brokers, cfg.Infra.Kafka.StoreEventsTopic, cfg.Infra.Kafka.ConsumerGroup)
		consumer := interfaces.NewStoreEventConsumerAdapter(reader, lifecycle, cfg.Infra.Kafka.StoreEventsTopic)
		if topic := cfg.Infra.Kafka.StoreEventsDLTTopic; topic != "" {
			dltWriter := mq.NewWriter(brokers, topic)
			consumer.WithDeadLetter(dltWriter)
			appCtx.OnShutdown(func(ctx context.Context) { _ = dltWriter.Close() })
		}
		consumerCtx, cancel := context.WithCancel(ctx)
		consumer.Start(consumerCtx)
		appCtx.OnShutdown(func(ctx context.Context) {
			cancel()
			consumer.Stop(ctx)
		})
	}
	return nil
}

func openRepositories(ctx context.Context, appCtx *bootstrap.AppCtx) (*repositories, error) {
	cfg := appCtx.Config
	switch cfg.Infra.Storage.Driver {
	case "memory":
		store := memory.NewStore()
		logger.Ctx(ctx).Warn().Msg("⚠️ Using in-memory storage, data will be lost on restart.")
		return &repositories{
			stocks:       store.Stocks(),
			reservations: store.Reservations(),
			policies:     store.Policies(),
			tx:           store,
		}, nil
	case "mysql":
		db, err := infrastructure.OpenMySQL(ctx, infrastructure.MySQLOptions{
			DSN:             cfg.Infra.MySQL.DSN,
			MaxOpenConns:    cfg.Infra.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Infra.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Infra.MySQL.ConnMaxLifetime,
			AutoMigrate:     cfg.Infra.MySQL.AutoMigrate,
		})
		if err != nil {
			return nil, err
		}
		if sqlDB, err := db.DB(); err == nil {
			appCtx.OnShutdown(func(ctx context.Context) { _ = sqlDB.Close() })
		}
		return gormRepositories(db), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Infra.Storage.Driver)
	}
}

func gormRepositories(db *gorm.DB) *repositories {
	return &repositories{
		stocks:       infrastructure.NewGormStockRepository(db),
		reservations: infrastructure.NewGormReservationRepository(db),
		policies:     infrastructure.NewGormDeliveryPolicyRepository(db),
		tx:           infrastructure.NewGormTransactor(db),
	}
}
