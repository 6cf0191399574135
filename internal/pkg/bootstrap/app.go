// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"marketplace/internal/pkg/httpclient"
	"marketplace/internal/pkg/logger"
	"marketplace/internal/pkg/nacos"
	"marketplace/internal/pkg/tracing"
)

// AppCtx 是注册路由时可用的公共组件
type AppCtx struct {
	Mux      *http.ServeMux
	Config   *Config
	Nacos    *nacos.Client // 未启用 Nacos 时为 nil
	Resolver httpclient.Resolver

	cleanups []func(ctx context.Context)
}

// OnShutdown 注册一个关停回调，按后进先出顺序执行
func (a *AppCtx) OnShutdown(fn func(ctx context.Context)) {
	a.cleanups = append(a.cleanups, fn)
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	Port        int
	// StaticServices 在未启用 Nacos 时用于解析下游服务地址
	StaticServices map[string]string
	// RegisterHandlers 组装依赖并注册服务独有的 HTTP 路由
	RegisterHandlers func(appCtx *AppCtx) error
}

// StartService 封装了通用的启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	ctx := context.Background()
	log := logger.Ctx(ctx)

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	appCtx := &AppCtx{
		Mux:      http.NewServeMux(),
		Config:   cfg,
		Resolver: httpclient.StaticResolver(info.StaticServices),
	}

	// 2. 服务注册与发现
	var ip string
	if cfg.Infra.Nacos.Enabled {
		namingClient, err := nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		ip, err = getOutboundIP()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
		appCtx.Nacos = namingClient
		appCtx.Resolver = namingClient
	}

	// 3. 业务组装
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(appCtx); err != nil {
			log.Fatal().Err(err).Msgf("failed to wire %s", info.ServiceName)
		}
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(info.Port),
		Handler:           appCtx.Mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Msgf("✅ %s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	// 4. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msgf("Shutting down service %s...", info.ServiceName)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// a. 先从注册中心摘除，停止接收新流量
	if appCtx.Nacos != nil {
		if err := appCtx.Nacos.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
		appCtx.Nacos.Close()
	}

	// b. 关闭 HTTP 服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down http server")
	} else {
		log.Info().Msg("HTTP server shut down.")
	}

	// c. 业务组件（后进先出）
	for i := len(appCtx.cleanups) - 1; i >= 0; i-- {
		appCtx.cleanups[i](shutdownCtx)
	}

	// d. 最后关闭 Tracer Provider，确保缓冲的 trace 都被发送出去
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	log.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}

// getOutboundIP 通过一次 UDP "连接" 取得本机出口 IP，不会真正发包
func getOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("failed to detect outbound ip: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// getEnv 从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
