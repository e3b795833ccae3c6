package features

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
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

// Service 涨跌期权订单：下单、人工结算、过期扫描
type Service struct {
	users        storage.UserRepository
	orders       storage.OrderRepository
	locker       storage.Locker
	notifier     notify.Notifier
	clock        clock.Clock
	defaultLever string
	limits       Limits
	logger       *zap.Logger
}

// Limits 下单参数上限
type Limits struct {
	MaxPeriod        int64           // 秒
	MaxPeriodPercent decimal.Decimal // 收益率(%)
	MaxLever         decimal.Decimal // 倍数
}

// DefaultLimits 默认上限：周期30天，收益率1000%，杠杆100倍
func DefaultLimits() Limits {
	return Limits{
		MaxPeriod:        30 * 24 * 3600,
		MaxPeriodPercent: decimal.NewFromInt(1000),
		MaxLever:         decimal.NewFromInt(100),
	}
}

// PlaceOrderRequest 下单参数
type PlaceOrderRequest struct {
	UserID        string             `json:"user_id"`
	UserEmail     string             `json:"user_email"`
	Pair          string             `json:"pair"`
	Side          model.FeaturesSide `json:"side"`
	Amount        decimal.Decimal    `json:"amount"`
	Period        int64              `json:"period"`
	PeriodPercent decimal.Decimal    `json:"period_percent"`
	Lever         string             `json:"lever"`
}

// OrderView 订单及其展示用的派彩和剩余时间
type OrderView struct {
	*model.FeaturesOrder
	ExpectedPayout decimal.Decimal `json:"expected_payout"`
	TimeRemaining  int64           `json:"time_remaining"`
}

// NewService 创建订单服务
func NewService(
	users storage.UserRepository,
	orders storage.OrderRepository,
	locker storage.Locker,
	notifier notify.Notifier,
	clk clock.Clock,
	defaultLever string,
	logger *zap.Logger,
) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if defaultLever == "" {
		defaultLever = "1x"
	}
	return &Service{
		users:        users,
		orders:       orders,
		locker:       locker,
		notifier:     notifier,
		clock:        clk,
		defaultLever: defaultLever,
		limits:       DefaultLimits(),
		logger:       logger.With(zap.String("component", "features")),
	}
}

// SetLimits 设置下单参数上限，未设置(非正数)的项沿用默认值
func (s *Service) SetLimits(l Limits) {
	def := DefaultLimits()
	if l.MaxPeriod <= 0 {
		l.MaxPeriod = def.MaxPeriod
	}
	if !l.MaxPeriodPercent.IsPositive() {
		l.MaxPeriodPercent = def.MaxPeriodPercent
	}
	if !l.MaxLever.IsPositive() {
		l.MaxLever = def.MaxLever
	}
	s.limits = l
}

func (s *Service) validateOrder(req PlaceOrderRequest) error {
	lever := strings.TrimSpace(req.Lever)
	if lever == "" {
		lever = s.defaultLever
	}
	switch {
	case strings.TrimSpace(req.Pair) == "":
		return apperr.Validation(apperr.CodeInvalidOrder, "交易对不能为空")
	case req.Side != model.SideUp && req.Side != model.SideDown:
		return apperr.Validation(apperr.CodeInvalidOrder, fmt.Sprintf("无效的方向: %s", req.Side))
	case !req.Amount.IsPositive():
		return apperr.Validation(apperr.CodeInvalidAmount, "下单金额必须大于0")
	case req.Period <= 0:
		return apperr.Validation(apperr.CodeInvalidOrder, "周期必须大于0")
	case req.Period > s.limits.MaxPeriod:
		return apperr.Validation(apperr.CodeInvalidOrder, fmt.Sprintf("周期不能超过 %d 秒", s.limits.MaxPeriod))
	case req.PeriodPercent.IsNegative():
		return apperr.Validation(apperr.CodeInvalidOrder, "收益率不能为负数")
	case req.PeriodPercent.GreaterThan(s.limits.MaxPeriodPercent):
		return apperr.Validation(apperr.CodeInvalidOrder, fmt.Sprintf("收益率不能超过 %s%%", s.limits.MaxPeriodPercent.String()))
	case ParseLever(lever).GreaterThan(s.limits.MaxLever):
		return apperr.Validation(apperr.CodeInvalidOrder, fmt.Sprintf("杠杆不能超过 %sx", s.limits.MaxLever.String()))
	}
	return nil
}

// PlaceOrder 扣除本金并新增一笔待结算订单
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderView, error) {
	if err := s.validateOrder(req); err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := user.CheckCanSpend(); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, storage.LockOrders)
	if err != nil {
		return nil, apperr.Internal("获取订单锁失败", err)
	}
	defer unlock()

	orders, err := s.loadForUpdate(ctx)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 扣款之后的写入和补偿不随调用方取消而中断
	wctx := context.WithoutCancel(ctx)

	if _, err := s.users.Update(wctx, req.UserID, func(u *model.User) error {
		if err := u.CheckCanSpend(); err != nil {
			return err
		}
		return u.Debit(req.Amount)
	}); err != nil {
		return nil, err
	}

	lever := strings.TrimSpace(req.Lever)
	if lever == "" {
		lever = s.defaultLever
	}
	email := req.UserEmail
	if email == "" {
		email = user.Email
	}

	now := s.clock.Now()
	order := &model.FeaturesOrder{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		UserEmail:      email,
		Pair:           strings.TrimSpace(req.Pair),
		Side:           req.Side,
		Amount:         req.Amount,
		Period:         req.Period,
		PeriodPercent:  req.PeriodPercent,
		Lever:          lever,
		CreatedAt:      now,
		FeaturesStatus: model.FeaturesStatusPending,
	}

	if err := s.orders.SaveAll(wctx, append(orders, order)); err != nil {
		s.adjust(wctx, order.UserID, order.Amount, true)
		return nil, apperr.Internal("保存订单失败", err)
	}

	s.logger.Info("订单已创建",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("pair", order.Pair),
		zap.String("side", string(order.Side)),
		zap.String("amount", order.Amount.String()))

	notify.Send(wctx, s.notifier, s.logger, model.Notification{
		Type:      model.NotifyOrderPlaced,
		Priority:  "LOW",
		UserID:    order.UserID,
		RelatedID: order.ID,
		Message:   "订单已创建",
		Data:      order,
		Timestamp: now,
	})

	return s.view(order, now), nil
}

// Settle 人工结算订单并把派彩计入用户余额，已结算的订单不能再次结算
func (s *Service) Settle(ctx context.Context, orderID string, result string) (*model.FeaturesOrder, error) {
	res, ok := model.ParseFeaturesResult(result)
	if !ok {
		return nil, apperr.Validation(apperr.CodeInvalidResult, fmt.Sprintf("无效的结算结果: %s", result))
	}

	unlock, err := s.locker.Lock(ctx, storage.LockOrders)
	if err != nil {
		return nil, apperr.Internal("获取订单锁失败", err)
	}
	defer unlock()

	orders, err := s.loadForUpdate(ctx)
	if err != nil {
		return nil, err
	}

	var order *model.FeaturesOrder
	for _, o := range orders {
		if o.ID == orderID {
			order = o
			break
		}
	}
	if order == nil {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, fmt.Sprintf("订单不存在: %s", orderID))
	}
	if order.IsSettled() {
		return nil, apperr.Conflict(apperr.CodeOrderSettled, fmt.Sprintf("订单已结算: %s", orderID))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// 入账后结算结果必须写回，否则订单可以被再次结算
	wctx := context.WithoutCancel(ctx)

	payout := PayoutFor(order, res)
	if payout.IsPositive() {
		if _, err := s.users.Credit(wctx, order.UserID, payout); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	order.FeaturesStatus = model.FeaturesStatusSettled
	order.FeaturesResult = res
	order.PayoutAmount = &payout
	order.SettledAt = &now

	if err := s.orders.SaveAll(wctx, orders); err != nil {
		if payout.IsPositive() {
			s.adjust(wctx, order.UserID, payout, false)
		}
		return nil, apperr.Internal("保存结算结果失败", err)
	}

	s.logger.Info("订单已结算",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.String("result", string(res)),
		zap.String("payout", payout.String()))

	notify.Send(wctx, s.notifier, s.logger, model.Notification{
		Type:      model.NotifyOrderSettled,
		Priority:  "MEDIUM",
		UserID:    order.UserID,
		RelatedID: order.ID,
		Message:   fmt.Sprintf("订单已结算: %s", res),
		Data:      order,
		Timestamp: now,
	})

	return order, nil
}

// ProcessExpired 把窗口已结束的待结算订单标记为等待裁定，不分配结果也不改动余额
// 未到期和已标记过的订单不会被修改，可按固定间隔重复调用
func (s *Service) ProcessExpired(ctx context.Context) (int, error) {
	unlock, err := s.locker.Lock(ctx, storage.LockOrders)
	if err != nil {
		return 0, apperr.Internal("获取订单锁失败", err)
	}
	defer unlock()

	orders, err := s.loadForUpdate(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	var expired []*model.FeaturesOrder
	for _, o := range orders {
		if o.FeaturesStatus != model.FeaturesStatusPending || o.ExpiredAt != nil {
			continue
		}
		if TimeRemaining(o, now) > 0 {
			continue
		}
		expiredAt := now
		o.ExpiredAt = &expiredAt
		expired = append(expired, o)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	if err := s.orders.SaveAll(ctx, orders); err != nil {
		return 0, apperr.Internal("保存过期标记失败", err)
	}

	s.logger.Info("过期订单已标记为等待裁定", zap.Int("count", len(expired)))
	for _, o := range expired {
		notify.Send(ctx, s.notifier, s.logger, model.Notification{
			Type:      model.NotifyOrderExpired,
			Priority:  "HIGH",
			UserID:    o.UserID,
			RelatedID: o.ID,
			Message:   "订单已到期，等待裁定",
			Timestamp: now,
		})
	}

	return len(expired), nil
}

// ListOrders 按创建时间倒序列出订单，userID 为空时返回全部
func (s *Service) ListOrders(ctx context.Context, userID string) ([]*OrderView, error) {
	orders := s.loadForRead(ctx)

	now := s.clock.Now()
	views := make([]*OrderView, 0, len(orders))
	for _, o := range orders {
		if userID != "" && o.UserID != userID {
			continue
		}
		views = append(views, s.view(o, now))
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views, nil
}

// GetOrder 获取单个订单
func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderView, error) {
	for _, o := range s.loadForRead(ctx) {
		if o.ID == orderID {
			return s.view(o, s.clock.Now()), nil
		}
	}
	return nil, apperr.NotFound(apperr.CodeOrderNotFound, fmt.Sprintf("订单不存在: %s", orderID))
}

func (s *Service) view(o *model.FeaturesOrder, now time.Time) *OrderView {
	return &OrderView{
		FeaturesOrder:  o,
		ExpectedPayout: ComputeExpectedPayout(o),
		TimeRemaining:  TimeRemaining(o, now),
	}
}

// loadForUpdate 读取全部订单用于改写，数据损坏时按空集合处理
func (s *Service) loadForUpdate(ctx context.Context) ([]*model.FeaturesOrder, error) {
	orders, err := s.orders.LoadAll(ctx)
	if err == nil {
		return orders, nil
	}
	if errors.Is(err, storage.ErrCorrupt) {
		s.degraded(err)
		return nil, nil
	}
	return nil, apperr.Internal("读取订单失败", err)
}

// loadForRead 只读场景下任何读取错误都按空集合处理
func (s *Service) loadForRead(ctx context.Context) []*model.FeaturesOrder {
	orders, err := s.orders.LoadAll(ctx)
	if err != nil {
		s.degraded(err)
		return nil
	}
	return orders
}

func (s *Service) degraded(err error) {
	e := apperr.New(apperr.KindPersistenceDegraded, apperr.CodeStorageCorrupt, "订单数据不可读，按空集合处理", err)
	s.logger.Warn(e.Message, zap.String("kind", string(e.Kind)), zap.Error(err))
}

// adjust 写入失败时的补偿，credit 为 true 表示退回，否则收回
func (s *Service) adjust(ctx context.Context, userID string, amount decimal.Decimal, credit bool) {
	var err error
	if credit {
		_, err = s.users.Credit(ctx, userID, amount)
	} else {
		_, err = s.users.Debit(ctx, userID, amount)
	}
	if err != nil {
		s.logger.Error("余额补偿失败，需要人工处理",
			zap.String("user_id", userID),
			zap.String("amount", amount.String()),
			zap.Bool("credit", credit),
			zap.Error(err))
	}
}
