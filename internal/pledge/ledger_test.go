package pledge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/pledgeflow/internal/apperr"
	"github.com/life2you_mini/pledgeflow/internal/mocks"
	"github.com/life2you_mini/pledgeflow/internal/model"
	"github.com/life2you_mini/pledgeflow/internal/notify"
	"github.com/life2you_mini/pledgeflow/internal/storage"
)

var testPlans = model.NewPlanCatalog([]model.Plan{
	{ID: "plan-test", Name: "测试", Min: d("100"), Max: d("1000"), DailyYieldPercent: d("20"), CycleDays: 4},
	{ID: "plan-long", Name: "长周期", Min: d("10"), Max: d("5000"), DailyYieldPercent: d("1"), CycleDays: 30},
})

var testStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type ledgerFixture struct {
	ledger *Ledger
	store  *storage.MemoryStore
	clock  *clock.Mock
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	store := storage.NewMemoryStore()
	clk := clock.NewMock()
	clk.Set(testStart)

	ctx := context.Background()
	require.NoError(t, store.Users().SaveUser(ctx, &model.User{ID: "u1", Email: "u1@example.com", BalanceUSDT: d("1000")}))
	require.NoError(t, store.Users().SaveUser(ctx, &model.User{ID: "u2", Email: "u2@example.com", BalanceUSDT: d("500")}))
	require.NoError(t, store.Users().SaveUser(ctx, &model.User{ID: "locked", BalanceUSDT: d("1000"), Locked: true}))
	require.NoError(t, store.Users().SaveUser(ctx, &model.User{ID: "frozen", BalanceUSDT: d("1000"), BalanceFrozen: true}))

	ledger := NewLedger(store.Users(), store.Pledges(), store.Locker(), testPlans, notify.Nop{}, clk, zaptest.NewLogger(t))
	return &ledgerFixture{ledger: ledger, store: store, clock: clk}
}

func (f *ledgerFixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	u, err := f.store.Users().GetUser(context.Background(), userID)
	require.NoError(t, err)
	return u.BalanceUSDT
}

func (f *ledgerFixture) allPledges(t *testing.T) []*model.Pledge {
	t.Helper()
	pledges, err := f.store.Pledges().LoadAll(context.Background())
	require.NoError(t, err)
	return pledges
}

func TestLedger_CreatePledge(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	p, err := f.ledger.CreatePledge(ctx, "u1", "u1@example.com", "plan-test", d("100"))
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, model.PledgeStatusActive, p.Status)
	assert.True(t, p.TotalEarned.IsZero())
	assert.True(t, d("20").Equal(p.DailyYieldPercent))
	assert.Equal(t, 4, p.CycleDays)
	assert.Equal(t, testStart, p.CreatedAt)
	assert.Equal(t, p.CreatedAt.Add(4*24*time.Hour), p.EndsAt)

	assert.True(t, d("900").Equal(f.balance(t, "u1")))
	require.Len(t, f.allPledges(t), 1)
}

func TestLedger_CreatePledge_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		planID string
		amount string
		kind   apperr.Kind
		code   string
	}{
		{name: "低于计划下限", userID: "u1", planID: "plan-test", amount: "99.99", kind: apperr.KindValidation, code: apperr.CodeAmountOutOfRange},
		{name: "高于计划上限", userID: "u1", planID: "plan-test", amount: "1000.01", kind: apperr.KindValidation, code: apperr.CodeAmountOutOfRange},
		{name: "计划不存在", userID: "u1", planID: "plan-x", amount: "100", kind: apperr.KindValidation, code: apperr.CodePlanNotFound},
		{name: "用户不存在", userID: "nobody", planID: "plan-test", amount: "100", kind: apperr.KindNotFound, code: apperr.CodeUserNotFound},
		{name: "账户锁定", userID: "locked", planID: "plan-test", amount: "100", kind: apperr.KindAuthorization, code: apperr.CodeAccountLocked},
		{name: "余额冻结", userID: "frozen", planID: "plan-test", amount: "100", kind: apperr.KindAuthorization, code: apperr.CodeBalanceFrozen},
		{name: "余额不足", userID: "u2", planID: "plan-long", amount: "600", kind: apperr.KindValidation, code: apperr.CodeInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture(t)
			before := map[string]decimal.Decimal{}
			for _, id := range []string{"u1", "u2", "locked", "frozen"} {
				before[id] = f.balance(t, id)
			}

			_, err := f.ledger.CreatePledge(context.Background(), tt.userID, "", tt.planID, d(tt.amount))
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
			assert.True(t, apperr.Is(err, tt.code), err.Error())

			// 失败时不产生任何修改
			for id, b := range before {
				assert.True(t, b.Equal(f.balance(t, id)), id)
			}
			assert.Empty(t, f.allPledges(t))
		})
	}
}

func TestLedger_SettleMatured(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreatePledge(ctx, "u1", "u1@example.com", "plan-test", d("100"))
	require.NoError(t, err)

	// 未到期不结算
	f.clock.Add(4*24*time.Hour - time.Second)
	n, err := f.ledger.SettleMatured(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, d("900").Equal(f.balance(t, "u1")))

	// 到期：100 * 20% * 4 = 80，入账 180
	f.clock.Add(time.Second)
	n, err = f.ledger.SettleMatured(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, d("1080").Equal(f.balance(t, "u1")), f.balance(t, "u1").String())

	pledges := f.allPledges(t)
	require.Len(t, pledges, 1)
	assert.Equal(t, model.PledgeStatusCompleted, pledges[0].Status)
	assert.True(t, d("80").Equal(pledges[0].TotalEarned))

	// 再次调用不改变余额
	f.clock.Add(24 * time.Hour)
	n, err = f.ledger.SettleMatured(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, d("1080").Equal(f.balance(t, "u1")))
}

func TestLedger_SettleMatured_AggregatesAndScopesToUser(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	_, err := f.ledger.CreatePledge(ctx, "u1", "", "plan-test", d("100"))
	require.NoError(t, err)
	_, err = f.ledger.CreatePledge(ctx, "u1", "", "plan-test", d("200"))
	require.NoError(t, err)
	_, err = f.ledger.CreatePledge(ctx, "u2", "", "plan-test", d("100"))
	require.NoError(t, err)

	f.clock.Add(5 * 24 * time.Hour)
	n, err := f.ledger.SettleMatured(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// 700 + 180 + 360
	assert.True(t, d("1240").Equal(f.balance(t, "u1")), f.balance(t, "u1").String())
	// u2 的质押不受影响
	assert.True(t, d("400").Equal(f.balance(t, "u2")))

	n, err = f.ledger.SettleAllMatured(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, d("580").Equal(f.balance(t, "u2")))

	for _, p := range f.allPledges(t) {
		assert.Equal(t, model.PledgeStatusCompleted, p.Status)
	}
}

func TestLedger_SettleMatured_CreditFailureLeavesPledgeActive(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	// 用户记录已不存在的到期质押
	orphan := newPledge("100", "20", 4, testStart)
	orphan.UserID = "ghost"
	require.NoError(t, f.store.Pledges().SaveAll(ctx, []*model.Pledge{orphan}))

	f.clock.Add(5 * 24 * time.Hour)
	_, err := f.ledger.SettleMatured(ctx, "ghost")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	pledges := f.allPledges(t)
	require.Len(t, pledges, 1)
	assert.Equal(t, model.PledgeStatusActive, pledges[0].Status)
}

func TestLedger_GetStatsForUser(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	first, err := f.ledger.CreatePledge(ctx, "u1", "", "plan-test", d("100"))
	require.NoError(t, err)

	f.clock.Add(24 * time.Hour)
	second, err := f.ledger.CreatePledge(ctx, "u1", "", "plan-long", d("800"))
	require.NoError(t, err)
	_, err = f.ledger.CreatePledge(ctx, "u2", "", "plan-long", d("100"))
	require.NoError(t, err)

	// first 到期并被结算，second 已过去 3.5 天
	f.clock.Add(3*24*time.Hour + 12*time.Hour)
	result, err := f.ledger.GetStatsForUser(ctx, "u1")
	require.NoError(t, err)

	require.Len(t, result.Pledges, 2)
	assert.Equal(t, second.ID, result.Pledges[0].ID)
	assert.Equal(t, first.ID, result.Pledges[1].ID)
	assert.Equal(t, model.PledgeStatusCompleted, result.Pledges[1].Status)

	assert.Equal(t, "800.00", result.Stats.AmountMined.StringFixed(2))
	assert.Equal(t, "8.00", result.Stats.TodayEarnings.StringFixed(2))
	// 80 + 8 * 3.5
	assert.Equal(t, "108.00", result.Stats.CumulativeIncome.StringFixed(2))
	assert.Equal(t, 2, result.Stats.IncomeOrder)

	// 1000 - 100 - 800 + 180
	assert.True(t, d("280").Equal(f.balance(t, "u1")), f.balance(t, "u1").String())
}

func TestLedger_CreatePledge_RefundsWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Users().SaveUser(ctx, &model.User{ID: "u1", BalanceUSDT: d("1000")}))

	pledgeRepo := new(mocks.MockPledgeRepository)
	pledgeRepo.On("LoadAll", mock.Anything).Return([]*model.Pledge{}, nil)
	pledgeRepo.On("SaveAll", mock.Anything, mock.Anything).Return(errors.New("写入超时"))

	clk := clock.NewMock()
	ledger := NewLedger(store.Users(), pledgeRepo, store.Locker(), testPlans, nil, clk, zaptest.NewLogger(t))

	_, err := ledger.CreatePledge(ctx, "u1", "", "plan-test", d("100"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	u, err := store.Users().GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, d("1000").Equal(u.BalanceUSDT), u.BalanceUSDT.String())
	pledgeRepo.AssertExpectations(t)
}

func TestLedger_SettleMatured_ReclaimsWhenSaveFails(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	clk.Set(testStart.Add(10 * 24 * time.Hour))

	matured := newPledge("100", "20", 4, testStart)

	users := new(mocks.MockUserRepository)
	users.On("Credit", mock.Anything, "u1", mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(d("180")) })).
		Return(&model.User{ID: "u1"}, nil).Once()
	users.On("Debit", mock.Anything, "u1", mock.MatchedBy(func(a decimal.Decimal) bool { return a.Equal(d("180")) })).
		Return(&model.User{ID: "u1"}, nil).Once()

	pledgeRepo := new(mocks.MockPledgeRepository)
	pledgeRepo.On("LoadAll", mock.Anything).Return([]*model.Pledge{matured}, nil)
	pledgeRepo.On("SaveAll", mock.Anything, mock.Anything).Return(errors.New("连接断开"))

	ledger := NewLedger(users, pledgeRepo, storage.NewMemoryLocker(), testPlans, nil, clk, zaptest.NewLogger(t))

	n, err := ledger.SettleMatured(ctx, "u1")
	assert.Equal(t, 0, n)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	users.AssertExpectations(t)
}

func TestLedger_CorruptStorageDegradesToEmpty(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Users().SaveUser(ctx, &model.User{ID: "u1", BalanceUSDT: d("1000")}))

	corrupt := fmt.Errorf("%w: pledges: unexpected end of JSON input", storage.ErrCorrupt)
	pledgeRepo := new(mocks.MockPledgeRepository)
	pledgeRepo.On("LoadAll", mock.Anything).Return(nil, corrupt)
	pledgeRepo.On("SaveAll", mock.Anything, mock.MatchedBy(func(p []*model.Pledge) bool { return len(p) == 1 })).Return(nil)

	ledger := NewLedger(store.Users(), pledgeRepo, store.Locker(), testPlans, nil, clock.NewMock(), zaptest.NewLogger(t))

	result, err := ledger.GetStatsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, result.Pledges)
	assert.Equal(t, 0, result.Stats.IncomeOrder)

	// 损坏的集合被视为空集合，新质押覆盖写入
	_, err = ledger.CreatePledge(ctx, "u1", "", "plan-test", d("100"))
	require.NoError(t, err)
	pledgeRepo.AssertExpectations(t)
}

func TestLedger_ReadFailureDoesNotOverwrite(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Users().SaveUser(ctx, &model.User{ID: "u1", BalanceUSDT: d("1000")}))

	pledgeRepo := new(mocks.MockPledgeRepository)
	pledgeRepo.On("LoadAll", mock.Anything).Return(nil, errors.New("连接被拒绝"))

	ledger := NewLedger(store.Users(), pledgeRepo, store.Locker(), testPlans, nil, clock.NewMock(), zaptest.NewLogger(t))

	_, err := ledger.CreatePledge(ctx, "u1", "", "plan-test", d("100"))
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	pledgeRepo.AssertNotCalled(t, "SaveAll", mock.Anything, mock.Anything)

	u, err := store.Users().GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, d("1000").Equal(u.BalanceUSDT))
}

func TestLedger_Notifications(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Users().SaveUser(ctx, &model.User{ID: "u1", BalanceUSDT: d("1000")}))

	clk := clock.NewMock()
	clk.Set(testStart)

	notifier := new(mocks.MockNotifier)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n model.Notification) bool {
		return n.Type == model.NotifyPledgeCreated && n.UserID == "u1"
	})).Return(nil).Once()
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n model.Notification) bool {
		return n.Type == model.NotifyPledgeSettled && n.UserID == "u1"
	})).Return(errors.New("队列已满")).Once()

	ledger := NewLedger(store.Users(), store.Pledges(), store.Locker(), testPlans, notifier, clk, zaptest.NewLogger(t))

	_, err := ledger.CreatePledge(ctx, "u1", "", "plan-test", d("100"))
	require.NoError(t, err)

	// 通知失败不影响结算
	clk.Add(4 * 24 * time.Hour)
	n, err := ledger.SettleMatured(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	notifier.AssertExpectations(t)
}

// cancelOnCredit 入账成功后立即取消调用方上下文
type cancelOnCredit struct {
	storage.UserRepository
	cancel context.CancelFunc
}

func (r *cancelOnCredit) Credit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	u, err := r.UserRepository.Credit(ctx, id, amount)
	r.cancel()
	return u, err
}

func (r *cancelOnCredit) Debit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.UserRepository.Debit(ctx, id, amount)
}

// ctxPledges 上下文取消后拒绝写入，与网络存储一致
type ctxPledges struct {
	storage.PledgeRepository
}

func (r ctxPledges) SaveAll(ctx context.Context, pledges []*model.Pledge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.PledgeRepository.SaveAll(ctx, pledges)
}

func TestLedger_SettleMatured_CallerCancelAfterCredit(t *testing.T) {
	f := newLedgerFixture(t)
	_, err := f.ledger.CreatePledge(context.Background(), "u1", "", "plan-test", d("100"))
	require.NoError(t, err)
	f.clock.Add(5 * 24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	users := &cancelOnCredit{UserRepository: f.store.Users(), cancel: cancel}
	ledger := NewLedger(users, ctxPledges{f.store.Pledges()}, f.store.Locker(), testPlans, nil, f.clock, zaptest.NewLogger(t))

	settled, err := ledger.SettleMatured(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, settled)
	require.Error(t, ctx.Err())

	// 下一轮扫描不会重复入账：900 + 100 + 80
	settled, err = f.ledger.SettleAllMatured(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, settled)
	assert.True(t, d("1080").Equal(f.balance(t, "u1")), f.balance(t, "u1").String())

	pledges := f.allPledges(t)
	require.Len(t, pledges, 1)
	assert.Equal(t, model.PledgeStatusCompleted, pledges[0].Status)
}

func TestLedger_CreatePledge_CancelledBeforeDebit(t *testing.T) {
	f := newLedgerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ledger.CreatePledge(ctx, "u1", "", "plan-test", d("100"))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, d("1000").Equal(f.balance(t, "u1")))
	assert.Empty(t, f.allPledges(t))
}

// staleUsers 读取返回过期的账户快照，状态以存储中的最新值为准
type staleUsers struct {
	storage.UserRepository
}

func (r staleUsers) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := r.UserRepository.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Locked = false
	u.BalanceFrozen = false
	return u, nil
}

func TestLedger_CreatePledge_ChecksLatestAccountState(t *testing.T) {
	tests := []struct {
		name   string
		userID string
		code   string
	}{
		{name: "读取后被锁定", userID: "locked", code: apperr.CodeAccountLocked},
		{name: "读取后被冻结", userID: "frozen", code: apperr.CodeBalanceFrozen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newLedgerFixture(t)
			ledger := NewLedger(staleUsers{f.store.Users()}, f.store.Pledges(), f.store.Locker(), testPlans, nil, f.clock, zaptest.NewLogger(t))

			_, err := ledger.CreatePledge(context.Background(), tt.userID, "", "plan-test", d("100"))
			require.Error(t, err)
			appErr, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, appErr.Code)
			assert.True(t, d("1000").Equal(f.balance(t, tt.userID)))
			assert.Empty(t, f.allPledges(t))
		})
	}
}
