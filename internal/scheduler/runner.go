package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner 基于 cron 的周期任务调度器
// 同一任务上一次未执行完时跳过本次触发，停止时等待正在执行的任务结束
type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// New 创建调度器，任务收到的上下文派生自 baseCtx
func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		logger:  logger.With(zap.String("component", "scheduler")),
		baseCtx: baseCtx,
	}
}

// Add 注册任务，spec 支持秒级字段和 "@every 1s" 形式
func (r *Runner) Add(name, spec string, job func(ctx context.Context) error) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		if r.baseCtx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job(r.baseCtx); err != nil {
			r.logger.Error("定时任务执行失败",
				zap.String("job", name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err))
			return
		}
		r.logger.Debug("定时任务执行完成",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// Start 启动调度
func (r *Runner) Start() {
	r.logger.Info("定时任务已启动", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

// Stop 停止调度并等待正在执行的任务，ctx 到期后不再等待
func (r *Runner) Stop(ctx context.Context) {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("定时任务已停止")
	case <-ctx.Done():
		r.logger.Warn("等待定时任务结束超时", zap.Error(ctx.Err()))
	}
}
