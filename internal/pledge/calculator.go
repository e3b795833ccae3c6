package pledge

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/pledgeflow/internal/model"
)

var (
	hundred       = decimal.NewFromInt(100)
	msPerDay      = decimal.NewFromInt(int64(24 * time.Hour / time.Millisecond))
	statPrecision = int32(2)
)

// Stats 用户质押统计
type Stats struct {
	AmountMined      decimal.Decimal `json:"amount_mined"`      // 进行中本金
	TodayEarnings    decimal.Decimal `json:"today_earnings"`    // 今日收益
	CumulativeIncome decimal.Decimal `json:"cumulative_income"` // 累计收益
	IncomeOrder      int             `json:"income_order"`      // 质押笔数
}

// CalculateDailyEarn 计算单日收益
// 根据公式: DailyEarn = Amount * DailyYieldPercent / 100
func CalculateDailyEarn(p *model.Pledge) decimal.Decimal {
	return p.Amount.Mul(p.DailyYieldPercent).Div(hundred)
}

// CalculateTotalEarned 计算整个周期的收益，不按实际天数折算
func CalculateTotalEarned(p *model.Pledge) decimal.Decimal {
	return CalculateDailyEarn(p).Mul(decimal.NewFromInt(int64(p.CycleDays)))
}

// CalculateElapsedDays 计算已经过的天数（含小数部分），时钟回拨时为0
func CalculateElapsedDays(p *model.Pledge, now time.Time) decimal.Decimal {
	elapsed := now.Sub(p.CreatedAt)
	if elapsed <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(elapsed.Milliseconds()).Div(msPerDay)
}

// CalculateAccrued 计算进行中质押到目前为止的收益，最多一个周期
func CalculateAccrued(p *model.Pledge, now time.Time) decimal.Decimal {
	days := decimal.Min(decimal.NewFromInt(int64(p.CycleDays)), CalculateElapsedDays(p, now))
	return CalculateDailyEarn(p).Mul(days)
}

// CalculateStats 汇总统计，不修改任何质押
// 只在汇总结果上四舍五入保留两位小数，避免逐笔舍入的累计误差
func CalculateStats(pledges []*model.Pledge, now time.Time) Stats {
	amountMined := decimal.Zero
	todayEarnings := decimal.Zero
	cumulative := decimal.Zero

	for _, p := range pledges {
		switch {
		case p.Status == model.PledgeStatusCompleted:
			cumulative = cumulative.Add(p.TotalEarned)
		case p.IsActive() && now.Before(p.EndsAt):
			amountMined = amountMined.Add(p.Amount)
			todayEarnings = todayEarnings.Add(CalculateDailyEarn(p))
			cumulative = cumulative.Add(CalculateAccrued(p, now))
		case p.IsActive():
			// 已到期但尚未结算，按完整周期计
			cumulative = cumulative.Add(CalculateTotalEarned(p))
		}
	}

	return Stats{
		AmountMined:      amountMined.Round(statPrecision),
		TodayEarnings:    todayEarnings.Round(statPrecision),
		CumulativeIncome: cumulative.Round(statPrecision),
		IncomeOrder:      len(pledges),
	}
}
