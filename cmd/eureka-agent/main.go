package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/client"
	"github.com/xsxdot/eureka-client/pkg/common"
	"github.com/xsxdot/eureka-client/pkg/sidecar"
)

func main() {
	// 解析命令行参数
	configFile := flag.String("config", "/etc/eureka-agent/agent.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := client.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 创建 logger
	logger, err := common.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建 logger 失败: %v\n", err)
		os.Exit(1)
	}
	common.SetLogger(logger)
	defer logger.Sync()
	zapLogger := logger.GetZapLogger("eureka-agent")

	// 创建 Eureka 客户端
	eurekaClient, err := client.New(cfg.Eureka, client.WithLogger(logger.GetZapLogger("eureka-client")))
	if err != nil {
		zapLogger.Fatal("创建 Eureka 客户端失败", zap.Error(err))
	}

	ctx := context.Background()
	if err := eurekaClient.Start(ctx); err != nil {
		zapLogger.Fatal("启动 Eureka 客户端失败", zap.Error(err))
	}

	// 启动 sidecar HTTP 服务
	addr := ":" + strconv.Itoa(cfg.Server.Port)
	server := sidecar.NewServer(addr, eurekaClient, logger.GetZapLogger("sidecar"))
	if err := server.Start(ctx); err != nil {
		_ = eurekaClient.Stop(ctx)
		zapLogger.Fatal("启动 sidecar 失败", zap.Error(err))
	}

	zapLogger.Info("Agent 已启动",
		zap.String("app", cfg.Eureka.AppName),
		zap.String("address", server.Addr()),
		zap.String("state", eurekaClient.State().String()))

	// 等待信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zapLogger.Info("收到退出信号", zap.String("signal", sig.String()))
	case err := <-server.Errors():
		zapLogger.Error("sidecar 异常退出", zap.Error(err))
	}

	zapLogger.Info("Agent 正在关闭...")

	// 优雅关闭：先停止对外服务，再从注册中心注销
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		zapLogger.Warn("关闭 sidecar 失败", zap.Error(err))
	}
	if err := eurekaClient.Stop(shutdownCtx); err != nil {
		zapLogger.Warn("关闭 Eureka 客户端失败", zap.Error(err))
	}

	zapLogger.Info("Agent 已关闭")
}
