// cmd/order-service/main.go
package main

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"

	"inventory-saga/internal/pkg/bootstrap"
	"inventory-saga/internal/pkg/database"
	"inventory-saga/internal/pkg/httpclient"
	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/mq"
	"inventory-saga/internal/service/order/application"
	"inventory-saga/internal/service/order/domain"
	"inventory-saga/internal/service/order/infrastructure"
	"inventory-saga/internal/service/order/infrastructure/adapter"
	"inventory-saga/internal/service/order/interfaces"
)

const serviceName = "order-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init(serviceName)

	var closers []io.Closer
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        bootstrap.EnvInt("PORT", 8081),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) []bootstrap.Worker {
			closers = wire(appCtx)
			return nil
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

func wire(appCtx bootstrap.AppCtx) []io.Closer {
	cfg := appCtx.Config
	tracer := otel.Tracer(serviceName)
	var closers []io.Closer

	// 1. 订单仓储
	repo := openRepository(cfg)

	// 2. 库存服务客户端：配置了直连地址时跳过服务发现
	var resolve adapter.BaseURLResolver
	switch {
	case cfg.Order.InventoryURL != "":
		resolve = adapter.StaticBaseURL(cfg.Order.InventoryURL)
	case appCtx.Nacos != nil:
		resolve = adapter.DiscoveredBaseURL(appCtx.Nacos, cfg.Order.InventoryServiceName)
	default:
		logger.L().Fatal().Msg("inventory service address unknown: set INVENTORY_URL or enable nacos")
	}
	inventory := adapter.NewInventoryHTTPAdapter(httpclient.NewClient(tracer), resolve, cfg.Order.RPCTimeout)

	// 3. 补偿消息：topic 由消息决定
	compensationWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, "")
	closers = append(closers, compensationWriter)
	compensator := adapter.NewCompensationKafkaAdapter(compensationWriter)

	service := application.NewOrderApplicationService(repo, cfg.Order.ProcessingTimeout, tracer, inventory, compensator)
	interfaces.NewOrderHandler(service).RegisterRoutes(appCtx.Mux)
	return closers
}

func openRepository(cfg *bootstrap.Config) domain.OrderRepository {
	if cfg.App.Storage == "memory" {
		logger.L().Warn().Msg("⚠️ using in-memory order repository, data will be lost on restart")
		return infrastructure.NewMemoryRepository()
	}
	db, err := database.Open(context.Background(), cfg.Infra.MySQL)
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to connect mysql")
	}
	if cfg.Infra.MySQL.AutoMigrate {
		if err := db.AutoMigrate(&infrastructure.OrderModel{}); err != nil {
			logger.L().Fatal().Err(err).Msg("auto migrate failed")
		}
	}
	return infrastructure.NewMysqlRepository(db)
}
