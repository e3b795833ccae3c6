package features

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/pledgeflow/internal/model"
)

var hundred = decimal.NewFromInt(100)

// ParseLever 解析杠杆倍数，如 "5x" -> 5，缺失、无法解析或非正数时按 1 倍
func ParseLever(lever string) decimal.Decimal {
	s := strings.TrimSpace(lever)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "x"), "X")
	if s == "" {
		return decimal.NewFromInt(1)
	}
	v, err := decimal.NewFromString(s)
	if err != nil || !v.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return v
}

// ComputeExpectedPayout 计算获胜时的派彩
// 根据公式: Payout = Amount + Amount * PeriodPercent / 100 * Lever
func ComputeExpectedPayout(o *model.FeaturesOrder) decimal.Decimal {
	profit := o.Amount.Mul(o.PeriodPercent).Div(hundred).Mul(ParseLever(o.Lever))
	return o.Amount.Add(profit)
}

// TimeRemaining 距离订单窗口结束的剩余秒数，向下取整，已过期返回0
func TimeRemaining(o *model.FeaturesOrder, now time.Time) int64 {
	remaining := o.ExpiresAt().Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(remaining / time.Second)
}

// PayoutFor 按结算结果计算派彩：win 为预期派彩，draw 退回本金，lose 为0
func PayoutFor(o *model.FeaturesOrder, result model.FeaturesResult) decimal.Decimal {
	switch result {
	case model.ResultWin:
		return ComputeExpectedPayout(o)
	case model.ResultDraw:
		return o.Amount
	default:
		return decimal.Zero
	}
}
