package sidecar

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xsxdot/eureka-client/pkg/utils"
)

// Server sidecar 的 HTTP 服务
type Server struct {
	app    *fiber.App
	addr   string
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
}

// NewServer 创建 sidecar 服务并注册路由
func NewServer(addr string, agent Agent, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	fiberApp := fiber.New(fiber.Config{
		AppName:               "Eureka Sidecar",
		ErrorHandler:          utils.ErrorResponse,
		JSONEncoder:           jsoniter.ConfigCompatibleWithStandardLibrary.Marshal,
		JSONDecoder:           jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal,
		DisableStartupMessage: true,
	})

	// 添加中间件
	fiberApp.Use(recover.New())
	fiberApp.Use(fiberlogger.New())

	NewAPI(agent, logger).RegisterRoutes(fiberApp)

	return &Server{
		app:    fiberApp,
		addr:   addr,
		logger: logger,
		errCh:  make(chan error, 1),
	}
}

// App 返回底层Fiber应用实例
func (s *Server) App() *fiber.App {
	return s.app
}

// Start 绑定端口并在后台处理请求，运行期间的错误可从 Errors 读取
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("sidecar 已在运行: %s", s.listener.Addr())
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", s.addr, err)
	}
	s.listener = ln

	s.logger.Info("启动sidecar HTTP服务", zap.String("地址", ln.Addr().String()))
	go func() {
		if err := s.app.Listener(ln); err != nil {
			s.logger.Error("sidecar HTTP服务退出", zap.Error(err))
			s.errCh <- err
		}
	}()
	return nil
}

// Addr 实际监听地址，未启动时返回配置的地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Errors 监听错误
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Stop 停止服务
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}

	s.logger.Info("关闭sidecar HTTP服务")
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	s.listener = nil
	return nil
}
