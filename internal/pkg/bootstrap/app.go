// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"inventory-saga/internal/pkg/logger"
	"inventory-saga/internal/pkg/nacos"
	"inventory-saga/internal/pkg/tracing"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Nacos  *nacos.Client // 未配置 Nacos 时为 nil
	Config *Config
}

// Worker 是随服务一起启动的后台任务，ctx 在收到退出信号时取消
type Worker func(ctx context.Context) error

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) []Worker // 注册 HTTP 路由，并返回需要托管的后台任务
	OnShutdown       func(ctx context.Context)    // 在 HTTP 服务关闭后调用，用于释放连接
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	log := logger.L()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. Nacos：服务注册与远程配置
	var nacosClient *nacos.Client
	var ip string
	if cfg.Infra.Nacos.ServerAddrs != "" {
		nacosClient, ip = connectNacos(info, cfg)
	} else {
		log.Warn().Msg("⚠️ Nacos disabled, service will not be discoverable")
	}

	// 3. 创建并启动 HTTP Server
	mux := http.NewServeMux()
	var workers []Worker
	if info.RegisterHandlers != nil {
		workers = info.RegisterHandlers(AppCtx{Mux: mux, Nacos: nacosClient, Config: GetCurrentConfig()})
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("🚀 %s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})
	for _, w := range workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}

	// 4. 阻塞直到收到退出信号或任一组件失败
	<-gctx.Done()
	log.Info().Msgf("Shutting down service %s...", info.ServiceName)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 5. 按顺序执行清理操作 (后进先出)
	// a. 从 Nacos 注销服务
	if nacosClient != nil {
		if err := nacosClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		nacosClient.Close()
	}

	// b. 关闭 HTTP 服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	} else {
		log.Info().Msg("HTTP server shut down.")
	}

	// c. 等待后台任务退出
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("service stopped with error")
	}

	if info.OnShutdown != nil {
		info.OnShutdown(shutdownCtx)
	}

	// d. 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	} else {
		log.Info().Msg("Tracer provider shut down.")
	}

	log.Info().Msgf("✅ Service %s gracefully shut down.", info.ServiceName)
}

func connectNacos(info AppInfo, cfg *Config) (*nacos.Client, string) {
	log := logger.L()

	serverConfigs, err := nacos.ParseServerConfigs(cfg.Infra.Nacos.ServerAddrs)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid Nacos server address format")
	}
	clientConfig := nacos.NewClientConfig(cfg.Infra.Nacos.Namespace)

	client, err := nacos.NewNacosClientWithConfigs(serverConfigs, &clientConfig, cfg.Infra.Nacos.Group)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize nacos client")
	}

	if dataID := cfg.Infra.Nacos.ConfigDataID; dataID != "" {
		if content, err := client.GetConfig(dataID); err != nil {
			log.Warn().Err(err).Str("data_id", dataID).Msg("remote config unavailable, keep local config")
		} else if content != "" {
			reload(content)
		}
		if err := client.ListenConfig(dataID, reload); err != nil {
			log.Warn().Err(err).Str("data_id", dataID).Msg("failed to listen remote config")
		}
	}

	ip, err := GetOutboundIP()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get outbound IP address")
	}
	if err := client.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		log.Fatal().Err(err).Msg("failed to register service with nacos")
	}
	return client, ip
}

// GetOutboundIP 获取本机对外通信使用的 IP，UDP Dial 不会真正发包
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "dial udp")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
