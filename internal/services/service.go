package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/account"
	"github.com/life2you_mini/pledgeflow/internal/config"
	"github.com/life2you_mini/pledgeflow/internal/features"
	"github.com/life2you_mini/pledgeflow/internal/httpapi"
	"github.com/life2you_mini/pledgeflow/internal/model"
	"github.com/life2you_mini/pledgeflow/internal/notify"
	"github.com/life2you_mini/pledgeflow/internal/pledge"
	_redisClient "github.com/life2you_mini/pledgeflow/internal/redis"
	"github.com/life2you_mini/pledgeflow/internal/scheduler"
	"github.com/life2you_mini/pledgeflow/internal/storage"
)

// PledgeflowService 质押和期权结算服务，负责组装存储、业务组件、定时任务和HTTP接口
type PledgeflowService struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	store       storage.Store
	notifyRedis *_redisClient.StorageClient // 仅在存储不是Redis时单独持有
	ledger      *pledge.Ledger
	features    *features.Service
	accounts    *account.Service
	runner      *scheduler.Runner
	server      *httpapi.Server
}

// NewPledgeflowService 创建服务
func NewPledgeflowService(
	parentCtx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (*PledgeflowService, error) {
	// 创建服务上下文
	ctx, cancel := context.WithCancel(parentCtx)

	store, redisStorage, err := buildStore(cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	notifier, notifyRedis, err := buildNotifier(cfg, redisStorage, logger)
	if err != nil {
		_ = store.Close()
		cancel()
		return nil, err
	}

	cleanup := func() {
		if notifyRedis != nil {
			_ = notifyRedis.Close()
		}
		_ = store.Close()
		cancel()
	}

	plans := model.NewPlanCatalog(cfg.ToPlans())

	ledger := pledge.NewLedger(
		store.Users(),
		store.Pledges(),
		store.Locker(),
		plans,
		notifier,
		nil,
		logger,
	)
	featuresSvc := features.NewService(
		store.Users(),
		store.Orders(),
		store.Locker(),
		notifier,
		nil,
		cfg.Features.DefaultLever,
		logger,
	)
	featuresSvc.SetLimits(features.Limits{
		MaxPeriod:        cfg.Features.MaxPeriodSeconds,
		MaxPeriodPercent: decimal.NewFromFloat(cfg.Features.MaxPeriodPercent),
		MaxLever:         decimal.NewFromFloat(cfg.Features.MaxLever),
	})
	accounts := account.NewService(store.Users(), notifier, nil, logger)

	// 注册定时任务
	runner := scheduler.New(logger, ctx)
	if _, err := runner.Add("process_expired_orders", cfg.System.ExpirySweepSpec, func(ctx context.Context) error {
		_, err := featuresSvc.ProcessExpired(ctx)
		return err
	}); err != nil {
		cleanup()
		return nil, fmt.Errorf("注册订单过期扫描失败: %w", err)
	}
	if _, err := runner.Add("settle_matured_pledges", cfg.System.PledgeSweepSpec, func(ctx context.Context) error {
		_, err := ledger.SettleAllMatured(ctx)
		return err
	}); err != nil {
		cleanup()
		return nil, fmt.Errorf("注册质押到期结算失败: %w", err)
	}

	handlers := []httpapi.Registrar{
		&httpapi.HealthHandler{Store: store},
		&httpapi.PledgeHandler{Ledger: ledger, Logger: logger},
		&httpapi.FeaturesHandler{Service: featuresSvc, Logger: logger},
		&httpapi.AccountHandler{Service: accounts, Logger: logger},
	}
	// Redis 通知队列提供管理员消费接口
	if queue, ok := notifier.(httpapi.NotificationQueue); ok {
		handlers = append(handlers, &httpapi.NotificationHandler{Queue: queue, Logger: logger})
	}
	server := httpapi.NewServer(cfg.Server.Addr, cfg.Server.Mode, logger, handlers...)

	return &PledgeflowService{
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		store:       store,
		notifyRedis: notifyRedis,
		ledger:      ledger,
		features:    featuresSvc,
		accounts:    accounts,
		runner:      runner,
		server:      server,
	}, nil
}

// buildStore 按配置创建存储，Redis存储同时返回其客户端供通知复用
func buildStore(cfg *config.Config, logger *zap.Logger) (storage.Store, *_redisClient.StorageClient, error) {
	switch cfg.Storage.Type {
	case storage.StorageTypeInMemory:
		logger.Warn("使用内存存储，重启后数据会丢失")
		return storage.NewMemoryStore(), nil, nil
	case storage.StorageTypeRedis:
		client, err := newRedisStorageClient(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("初始化Redis客户端失败: %w", err)
		}
		return storage.NewRedisStore(client, logger), client, nil
	case storage.StorageTypePostgres, storage.StorageTypeSQLite:
		store, err := storage.OpenGormStore(storage.GormOptions{
			Driver:          cfg.Storage.Type,
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("不支持的存储类型: %s", cfg.Storage.Type)
	}
}

// buildNotifier 启用通知时写入Redis队列，否则只记日志
// 返回的客户端非空时由调用方负责关闭
func buildNotifier(cfg *config.Config, shared *_redisClient.StorageClient, logger *zap.Logger) (notify.Notifier, *_redisClient.StorageClient, error) {
	if !cfg.Notification.Enabled {
		return notify.NewLogNotifier(logger.With(zap.String("component", "notify"))), nil, nil
	}

	client := shared
	var owned *_redisClient.StorageClient
	if client == nil {
		var err error
		client, err = newRedisStorageClient(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("初始化通知Redis客户端失败: %w", err)
		}
		owned = client
	}
	return notify.NewRedisNotifier(client.GetQueueService(), cfg.Notification.Queue, logger), owned, nil
}

func newRedisStorageClient(cfg *config.Config) (*_redisClient.StorageClient, error) {
	return _redisClient.NewStorageClient(_redisClient.ClientOptions{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.Redis.KeyPrefix)
}

// Handler 返回HTTP路由
func (s *PledgeflowService) Handler() http.Handler {
	return s.server.Handler()
}

// Start 启动服务
func (s *PledgeflowService) Start() {
	s.logger.Info("启动质押结算服务")

	// 启动时先处理一次积压的到期任务
	if n, err := s.features.ProcessExpired(s.ctx); err != nil {
		s.logger.Error("启动时扫描过期订单失败", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("启动时标记过期订单", zap.Int("count", n))
	}
	if n, err := s.ledger.SettleAllMatured(s.ctx); err != nil {
		s.logger.Error("启动时结算到期质押失败", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("启动时结算到期质押", zap.Int("count", n))
	}

	s.runner.Start()
	s.server.Start()
}

// Errors HTTP服务监听失败时收到错误
func (s *PledgeflowService) Errors() <-chan error {
	return s.server.Errors()
}

// Stop 停止服务
func (s *PledgeflowService) Stop(ctx context.Context) error {
	s.logger.Info("停止质押结算服务")

	var firstErr error

	// 先停止接收请求
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("关闭HTTP服务失败", zap.Error(err))
		firstErr = err
	}

	// 取消服务上下文并等待定时任务结束
	s.cancel()
	s.runner.Stop(ctx)

	if s.notifyRedis != nil {
		if err := s.notifyRedis.Close(); err != nil {
			s.logger.Error("关闭通知Redis连接失败", zap.Error(err))
		}
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}
