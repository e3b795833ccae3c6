package model

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// FeaturesSide 涨跌方向
type FeaturesSide string

const (
	SideUp   FeaturesSide = "up"
	SideDown FeaturesSide = "down"
)

// FeaturesStatus 订单状态，settled 为终态
type FeaturesStatus string

const (
	FeaturesStatusPending FeaturesStatus = "pending"
	FeaturesStatusSettled FeaturesStatus = "settled"
)

// FeaturesResult 结算结果
type FeaturesResult string

const (
	ResultWin  FeaturesResult = "win"
	ResultLose FeaturesResult = "lose"
	ResultDraw FeaturesResult = "draw"
)

// ParseFeaturesResult 解析结算结果
func ParseFeaturesResult(s string) (FeaturesResult, bool) {
	switch r := FeaturesResult(s); r {
	case ResultWin, ResultLose, ResultDraw:
		return r, true
	}
	return "", false
}

// FeaturesOrder 涨跌期权订单
type FeaturesOrder struct {
	ID             string           `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID         string           `gorm:"type:varchar(64);not null;index" json:"user_id"`
	UserEmail      string           `gorm:"type:varchar(255)" json:"user_email"`
	Pair           string           `gorm:"type:varchar(32);not null" json:"pair"`
	Side           FeaturesSide     `gorm:"type:varchar(8);not null" json:"side"`
	Amount         decimal.Decimal  `gorm:"type:numeric(30,8);not null" json:"amount"`
	Period         int64            `gorm:"not null" json:"period"`                            // 秒
	PeriodPercent  decimal.Decimal  `gorm:"type:numeric(10,4);not null" json:"period_percent"` // 获胜收益率(%)
	Lever          string           `gorm:"type:varchar(16)" json:"lever"`                     // 如 "5x"
	CreatedAt      time.Time        `gorm:"not null;index" json:"created_at"`
	FeaturesStatus FeaturesStatus   `gorm:"type:varchar(16);not null;index" json:"features_status"`
	FeaturesResult FeaturesResult   `gorm:"type:varchar(8)" json:"features_result,omitempty"`
	PayoutAmount   *decimal.Decimal `gorm:"type:numeric(30,8)" json:"payout_amount,omitempty"`
	SettledAt      *time.Time       `json:"settled_at,omitempty"`
	ExpiredAt      *time.Time       `json:"expired_at,omitempty"` // 到期后等待人工裁定
}

func (FeaturesOrder) TableName() string {
	return "features_orders"
}

// IsSettled 是否已结算
func (o *FeaturesOrder) IsSettled() bool {
	return o.FeaturesStatus == FeaturesStatusSettled
}

// AwaitingAdjudication 已过期但尚未结算
func (o *FeaturesOrder) AwaitingAdjudication() bool {
	return o.FeaturesStatus == FeaturesStatusPending && o.ExpiredAt != nil
}

// maxPeriodSeconds time.Duration 能表示的最大秒数
const maxPeriodSeconds = int64(math.MaxInt64 / int64(time.Second))

// ExpiresAt 订单窗口结束时间，周期超出 time.Duration 范围时取最大值
func (o *FeaturesOrder) ExpiresAt() time.Time {
	if o.Period > maxPeriodSeconds {
		return o.CreatedAt.Add(time.Duration(math.MaxInt64))
	}
	return o.CreatedAt.Add(time.Duration(o.Period) * time.Second)
}

// Clone 深拷贝，避免存储层共享指针字段
func (o *FeaturesOrder) Clone() *FeaturesOrder {
	c := *o
	if o.PayoutAmount != nil {
		v := *o.PayoutAmount
		c.PayoutAmount = &v
	}
	if o.SettledAt != nil {
		v := *o.SettledAt
		c.SettledAt = &v
	}
	if o.ExpiredAt != nil {
		v := *o.ExpiredAt
		c.ExpiredAt = &v
	}
	return &c
}
