// cmd/delay-scheduler/main.go
package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inventory-saga/internal/pkg/bootstrap"
	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/mq"
)

const serviceName = "delay-scheduler"

// delay-scheduler 消费重试 topic，到期后把补偿消息转发回原始的 inventory.rollback.<reason>
func main() {
	bootstrap.Init(serviceName)

	var relays []*mq.DelayRelay
	var readers []interface{ Close() error }
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        bootstrap.EnvInt("PORT", 8083),
		RegisterHandlers: func(appCtx bootstrap.AppCtx) []bootstrap.Worker {
			cfg := appCtx.Config
			brokers := cfg.Infra.Kafka.Brokers
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())

			reader := mq.NewKafkaReader(brokers, cfg.Messaging.RetryTopic, serviceName+"-group")
			readers = append(readers, reader)
			relay := mq.NewDelayRelay(reader, func(topic string) mq.MessageWriter {
				return mq.NewKafkaWriter(brokers, topic)
			})
			relays = append(relays, relay)

			logger.L().Info().Str("topic", cfg.Messaging.RetryTopic).Msg("✅ delay relay configured")
			return []bootstrap.Worker{relay.Run}
		},
		OnShutdown: func(ctx context.Context) {
			for _, r := range relays {
				r.Close()
			}
			for _, r := range readers {
				if err := r.Close(); err != nil {
					logger.L().Warn().Err(err).Msg("failed to close reader")
				}
			}
		},
	})
}
