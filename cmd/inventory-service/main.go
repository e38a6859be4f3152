// cmd/inventory-service/main.go
package main

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel"

	"inventory-saga/internal/pkg/bootstrap"
	"inventory-saga/internal/pkg/database"
	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/mq"
	"inventory-saga/internal/pkg/redis"
	"inventory-saga/internal/pkg/zookeeper"
	"inventory-saga/internal/service/inventory/application"
	"inventory-saga/internal/service/inventory/domain"
	"inventory-saga/internal/service/inventory/infrastructure"
	"inventory-saga/internal/service/inventory/infrastructure/memory"
	"inventory-saga/internal/service/inventory/infrastructure/persistence"
	"inventory-saga/internal/service/inventory/interfaces"
)

const serviceName = "inventory-service"

// ports 聚合了服务依赖的存储端口
type ports struct {
	store      domain.InventoryStore
	ledger     domain.ReservationLedger
	warehouses domain.WarehouseDirectory
	products   domain.ProductCatalog
	tx         domain.Transactor
}

// main 函数是应用的"组装根" (Composition Root)
func main() {
	bootstrap.Init(serviceName)

	var closers []io.Closer
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        bootstrap.EnvInt("PORT", 8082),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) []bootstrap.Worker {
			workers, c := wire(appCtx)
			closers = c
			return workers
		},
		OnShutdown: func(ctx context.Context) {
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i].Close(); err != nil {
					logger.L().Warn().Err(err).Msg("error while closing resource")
				}
			}
		},
	})
}

func wire(appCtx bootstrap.AppCtx) ([]bootstrap.Worker, []io.Closer) {
	cfg := appCtx.Config
	log := logger.L()
	ctx := context.Background()
	brokers := cfg.Infra.Kafka.Brokers
	var closers []io.Closer

	// 1. 存储
	p := openStorage(ctx, cfg)

	// 2. 库存事件发布
	stockWriter := mq.NewKafkaWriter(brokers, cfg.Messaging.StockTopic)
	closers = append(closers, stockWriter)
	publisher := infrastructure.NewKafkaStockPublisher(stockWriter)

	// 3. 订单锁：配置了 ZooKeeper 时跨实例加锁
	var opts []application.Option
	if cfg.Infra.Zookeeper.Servers != "" {
		zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect zookeeper")
		}
		closers = append(closers, closerFunc(func() error { zkConn.Close(); return nil }))
		opts = append(opts, application.WithOrderLocker(infrastructure.NewZkOrderLocker(zkConn, cfg.Infra.Zookeeper.LockRoot)))
	}

	service := application.NewReservationService(p.store, p.ledger, p.warehouses, p.products, publisher, p.tx, otel.Tracer(serviceName), opts...)
	interfaces.NewInventoryHandler(service).RegisterRoutes(appCtx.Mux)

	// 4. 补偿消费：已处理消息去重
	var processed application.ProcessedMessageStore
	if cfg.Infra.Redis.Addrs != "" {
		redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ redis unavailable, compensation dedupe disabled")
		} else {
			closers = append(closers, redisClient)
			processed = infrastructure.NewRedisProcessedStore(redisClient, cfg.Infra.Redis.DedupTTL)
		}
	}
	compensation := application.NewCompensationHandler(service, processed)

	policy, err := mq.NewCELPolicy(cfg.Messaging.DeadLetterExpression, cfg.Messaging.MaxAttempts)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid dead-letter expression")
	}
	retryWriter := mq.NewKafkaWriter(brokers, cfg.Messaging.RetryTopic)
	dltWriter := mq.NewKafkaWriter(brokers, cfg.Messaging.DeadLetterTopic)
	closers = append(closers, retryWriter, dltWriter)
	failures := mq.NewFailureHandler(retryWriter, dltWriter, policy, cfg.Messaging.RetryDelay)

	topics := compensationTopics(ctx, cfg)
	log.Info().Strs("topics", topics).Str("pattern", cfg.Messaging.RollbackPattern).Msg("compensation topics resolved")

	var workers []bootstrap.Worker
	for i := 0; i < max(1, cfg.Messaging.ConsumerWorkers); i++ {
		reader := mq.NewKafkaGroupReader(brokers, topics, cfg.Messaging.ConsumerGroup)
		closers = append(closers, reader)
		workers = append(workers, interfaces.NewCompensationConsumer(reader, compensation, failures).Run)
	}

	dltReader := mq.NewKafkaReader(brokers, cfg.Messaging.DeadLetterTopic, cfg.Messaging.ConsumerGroup+"-dlt")
	closers = append(closers, dltReader)
	workers = append(workers, interfaces.NewDltConsumer(dltReader).Run)

	return workers, closers
}

func openStorage(ctx context.Context, cfg *bootstrap.Config) ports {
	if cfg.App.Storage == "memory" {
		logger.L().Warn().Msg("⚠️ using in-memory storage, data will be lost on restart")
		return ports{
			store:      memory.NewInventoryStore(),
			ledger:     memory.NewReservationLedger(),
			warehouses: memory.NewWarehouseDirectory(),
			products:   memory.NewProductCatalog(),
			tx:         memory.NewTransactor(),
		}
	}

	db, err := database.Open(ctx, cfg.Infra.MySQL)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect mysql")
	}
	if cfg.Infra.MySQL.AutoMigrate {
		if err := db.AutoMigrate(persistence.Models()...); err != nil {
			logger.L().Fatal().Err(err).Msg("auto migrate failed")
		}
	}
	return ports{
		store:      persistence.NewGormInventoryStore(db),
		ledger:     persistence.NewGormReservationLedger(db),
		warehouses: persistence.NewGormWarehouseDirectory(db),
		products:   persistence.NewGormProductCatalog(db),
		tx:         database.NewTransactor(db),
	}
}

// compensationTopics 预先创建配置中的补偿 topic，再与元数据中匹配路由模式的 topic 合并
func compensationTopics(ctx context.Context, cfg *bootstrap.Config) []string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	kafkaCfg := cfg.Infra.Kafka
	pattern := cfg.Messaging.RollbackPattern

	configured := mq.FilterTopics(pattern, cfg.Messaging.RollbackTopics)
	if err := mq.EnsureTopics(ctx, kafkaCfg.Brokers, configured, kafkaCfg.TopicPartitions, kafkaCfg.ReplicationFactor); err != nil {
		logger.L().Warn().Err(err).Strs("topics", configured).Msg("⚠️ cannot pre-create rollback topics")
	}
	resolved, err := mq.ResolveTopics(ctx, kafkaCfg.Brokers, pattern)
	if err != nil {
		logger.L().Warn().Err(err).Msg("cannot read kafka metadata, using configured rollback topics")
	}

	topics := mq.MergeTopics(pattern, resolved, configured)
	if len(topics) == 0 {
		logger.L().Fatal().Str("pattern", pattern).Msg("no topic matches the rollback pattern")
	}
	return topics
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
