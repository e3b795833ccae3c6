package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Registrar 可以把路由注册到 gin 引擎的处理器
type Registrar interface {
	Register(r *gin.Engine)
}

// Server HTTP 服务
type Server struct {
	engine *gin.Engine
	srv    *http.Server
	logger *zap.Logger
	errCh  chan error
}

// NewServer 创建 gin 引擎并注册全部处理器
func NewServer(addr, mode string, logger *zap.Logger, handlers ...Registrar) *Server {
	switch mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))
	for _, h := range handlers {
		h.Register(engine)
	}

	return &Server{
		engine: engine,
		srv: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With(zap.String("component", "http")),
		errCh:  make(chan error, 1),
	}
}

// Handler 返回路由，便于测试
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 在后台监听
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP服务启动", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
			s.errCh <- err
		}
	}()
}

// Errors 监听失败时收到错误
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("HTTP服务已关闭")
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP请求",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
