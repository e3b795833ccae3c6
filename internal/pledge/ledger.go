package pledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/apperr"
	"github.com/life2you_mini/pledgeflow/internal/model"
	"github.com/life2you_mini/pledgeflow/internal/notify"
	"github.com/life2you_mini/pledgeflow/internal/storage"
)

// Ledger 质押账本：创建质押、到期结算、统计
type Ledger struct {
	users    storage.UserRepository
	pledges  storage.PledgeRepository
	locker   storage.Locker
	plans    *model.PlanCatalog
	notifier notify.Notifier
	clock    clock.Clock
	logger   *zap.Logger
}

// UserStats 用户的质押列表和统计
type UserStats struct {
	Pledges []*model.Pledge `json:"pledges"`
	Stats   Stats           `json:"stats"`
}

// NewLedger 创建质押账本
func NewLedger(
	users storage.UserRepository,
	pledges storage.PledgeRepository,
	locker storage.Locker,
	plans *model.PlanCatalog,
	notifier notify.Notifier,
	clk clock.Clock,
	logger *zap.Logger,
) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Ledger{
		users:    users,
		pledges:  pledges,
		locker:   locker,
		plans:    plans,
		notifier: notifier,
		clock:    clk,
		logger:   logger.With(zap.String("component", "pledge_ledger")),
	}
}

// Plans 返回计划目录
func (l *Ledger) Plans() []model.Plan {
	return l.plans.List()
}

// CreatePledge 校验后扣减余额并新增一笔进行中的质押
// 扣款和写入要么都成功，要么都不生效
func (l *Ledger) CreatePledge(ctx context.Context, userID, userEmail, planID string, amount decimal.Decimal) (*model.Pledge, error) {
	plan, ok := l.plans.Get(planID)
	if !ok {
		return nil, apperr.Validation(apperr.CodePlanNotFound, fmt.Sprintf("质押计划不存在: %s", planID))
	}
	if !plan.Contains(amount) {
		return nil, apperr.Validation(apperr.CodeAmountOutOfRange,
			fmt.Sprintf("质押金额须在 %s 到 %s 之间", plan.Min.String(), plan.Max.String()))
	}

	user, err := l.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := user.CheckCanSpend(); err != nil {
		return nil, err
	}
	if user.BalanceUSDT.LessThan(amount) {
		return nil, apperr.Validation(apperr.CodeInsufficientBalance, "余额不足")
	}

	unlock, err := l.locker.Lock(ctx, storage.LockPledges)
	if err != nil {
		return nil, apperr.Internal("获取质押锁失败", err)
	}
	defer unlock()

	pledges, err := l.loadForUpdate(ctx)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 扣款之后的写入和补偿不随调用方取消而中断
	wctx := context.WithoutCancel(ctx)

	// 在最新持久化的账户上重新校验状态和余额后扣款
	if _, err := l.users.Update(wctx, userID, func(u *model.User) error {
		if err := u.CheckCanSpend(); err != nil {
			return err
		}
		return u.Debit(amount)
	}); err != nil {
		return nil, err
	}

	now := l.clock.Now()
	p := &model.Pledge{
		ID:                uuid.NewString(),
		UserID:            userID,
		UserEmail:         userEmail,
		PlanID:            plan.ID,
		Amount:            amount,
		DailyYieldPercent: plan.DailyYieldPercent,
		CycleDays:         plan.CycleDays,
		Status:            model.PledgeStatusActive,
		TotalEarned:       decimal.Zero,
		CreatedAt:         now,
		EndsAt:            now.Add(time.Duration(plan.CycleDays) * 24 * time.Hour),
	}

	if err := l.pledges.SaveAll(wctx, append(pledges, p)); err != nil {
		l.refund(wctx, userID, amount)
		return nil, apperr.Internal("保存质押记录失败", err)
	}

	l.logger.Info("质押已创建",
		zap.String("pledge_id", p.ID),
		zap.String("user_id", userID),
		zap.String("plan_id", plan.ID),
		zap.String("amount", amount.String()))

	notify.Send(wctx, l.notifier, l.logger, model.Notification{
		Type:      model.NotifyPledgeCreated,
		Priority:  "LOW",
		UserID:    userID,
		RelatedID: p.ID,
		Message:   "质押已创建",
		Data:      p,
		Timestamp: now,
	})

	return p, nil
}

// SettleMatured 结算该用户所有已到期的质押，本金加收益一次性入账
// 已完成的质押会被跳过，重复调用不会重复入账
func (l *Ledger) SettleMatured(ctx context.Context, userID string) (int, error) {
	return l.settle(ctx, func(p *model.Pledge) bool { return p.UserID == userID })
}

// SettleAllMatured 结算所有用户已到期的质押，供定时任务调用
func (l *Ledger) SettleAllMatured(ctx context.Context) (int, error) {
	return l.settle(ctx, func(p *model.Pledge) bool { return true })
}

func (l *Ledger) settle(ctx context.Context, match func(p *model.Pledge) bool) (int, error) {
	unlock, err := l.locker.Lock(ctx, storage.LockPledges)
	if err != nil {
		return 0, apperr.Internal("获取质押锁失败", err)
	}
	defer unlock()

	pledges, err := l.loadForUpdate(ctx)
	if err != nil {
		return 0, err
	}

	now := l.clock.Now()

	// 按用户归集到期质押，保持首次出现的顺序
	var userIDs []string
	matured := make(map[string][]*model.Pledge)
	for _, p := range pledges {
		if !match(p) || !p.IsMatured(now) {
			continue
		}
		if _, seen := matured[p.UserID]; !seen {
			userIDs = append(userIDs, p.UserID)
		}
		matured[p.UserID] = append(matured[p.UserID], p)
	}
	if len(userIDs) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	// 开始入账后，状态写回和补偿都必须完成，否则下次扫描会重复入账
	wctx := context.WithoutCancel(ctx)

	var firstErr error
	credited := make(map[string]decimal.Decimal)
	settled := 0
	for _, userID := range userIDs {
		total := decimal.Zero
		for _, p := range matured[userID] {
			total = total.Add(p.Amount).Add(CalculateTotalEarned(p))
		}

		if _, err := l.users.Credit(wctx, userID, total); err != nil {
			l.logger.Error("质押到期入账失败",
				zap.String("user_id", userID),
				zap.String("amount", total.String()),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		credited[userID] = total
		for _, p := range matured[userID] {
			p.TotalEarned = CalculateTotalEarned(p)
			p.Status = model.PledgeStatusCompleted
			settled++
		}
	}
	if settled == 0 {
		return 0, firstErr
	}

	if err := l.pledges.SaveAll(wctx, pledges); err != nil {
		for userID, total := range credited {
			l.reclaim(wctx, userID, total)
		}
		return 0, apperr.Internal("保存质押结算结果失败", err)
	}

	for _, userID := range userIDs {
		total, ok := credited[userID]
		if !ok {
			continue
		}
		l.logger.Info("质押到期已结算",
			zap.String("user_id", userID),
			zap.Int("count", len(matured[userID])),
			zap.String("credited", total.String()))

		notify.Send(wctx, l.notifier, l.logger, model.Notification{
			Type:      model.NotifyPledgeSettled,
			Priority:  "MEDIUM",
			UserID:    userID,
			RelatedID: matured[userID][0].ID,
			Message:   "质押到期，本金和收益已入账",
			Data:      map[string]interface{}{"count": len(matured[userID]), "credited": total},
			Timestamp: now,
		})
	}

	return settled, firstErr
}

// GetStatsForUser 先结算到期质押，再计算统计，统计本身不修改任何数据
func (l *Ledger) GetStatsForUser(ctx context.Context, userID string) (*UserStats, error) {
	if _, err := l.SettleMatured(ctx, userID); err != nil {
		return nil, err
	}

	all, err := l.pledges.LoadAll(ctx)
	if err != nil {
		l.degraded(err)
		all = nil
	}

	pledges := make([]*model.Pledge, 0)
	for _, p := range all {
		if p.UserID == userID {
			pledges = append(pledges, p)
		}
	}
	sort.SliceStable(pledges, func(i, j int) bool {
		return pledges[i].CreatedAt.After(pledges[j].CreatedAt)
	})

	return &UserStats{
		Pledges: pledges,
		Stats:   CalculateStats(pledges, l.clock.Now()),
	}, nil
}

// loadForUpdate 读取全部质押用于改写
// 数据损坏时按空集合处理并记录告警；其他读取错误直接返回，避免覆盖有效数据
func (l *Ledger) loadForUpdate(ctx context.Context) ([]*model.Pledge, error) {
	pledges, err := l.pledges.LoadAll(ctx)
	if err == nil {
		return pledges, nil
	}
	if errors.Is(err, storage.ErrCorrupt) {
		l.degraded(err)
		return nil, nil
	}
	return nil, apperr.Internal("读取质押记录失败", err)
}

func (l *Ledger) degraded(err error) {
	e := apperr.New(apperr.KindPersistenceDegraded, apperr.CodeStorageCorrupt, "质押数据不可读，按空集合处理", err)
	l.logger.Warn(e.Message, zap.String("kind", string(e.Kind)), zap.Error(err))
}

// refund 写入失败时退回已扣的本金
func (l *Ledger) refund(ctx context.Context, userID string, amount decimal.Decimal) {
	if _, err := l.users.Credit(ctx, userID, amount); err != nil {
		l.logger.Error("退回质押本金失败，需要人工处理",
			zap.String("user_id", userID),
			zap.String("amount", amount.String()),
			zap.Error(err))
	}
}

// reclaim 写入失败时收回已入账的结算金额
func (l *Ledger) reclaim(ctx context.Context, userID string, amount decimal.Decimal) {
	if _, err := l.users.Debit(ctx, userID, amount); err != nil {
		l.logger.Error("收回结算金额失败，需要人工处理",
			zap.String("user_id", userID),
			zap.String("amount", amount.String()),
			zap.Error(err))
	}
}
