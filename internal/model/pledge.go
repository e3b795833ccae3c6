package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PledgeStatus 质押状态，只允许 active -> completed
type PledgeStatus string

const (
	PledgeStatusActive    PledgeStatus = "active"
	PledgeStatusCompleted PledgeStatus = "completed"
)

// Pledge 质押仓位
type Pledge struct {
	ID                string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	UserID            string          `gorm:"type:varchar(64);not null;index" json:"user_id"`
	UserEmail         string          `gorm:"type:varchar(255)" json:"user_email"`
	PlanID            string          `gorm:"type:varchar(64);not null" json:"plan_id"`
	Amount            decimal.Decimal `gorm:"type:numeric(30,8);not null" json:"amount"`
	DailyYieldPercent decimal.Decimal `gorm:"type:numeric(10,4);not null" json:"daily_yield_percent"` // 创建时从计划复制
	CycleDays         int             `gorm:"not null" json:"cycle_days"`                             // 创建时从计划复制
	Status            PledgeStatus    `gorm:"type:varchar(16);not null;index" json:"status"`
	TotalEarned       decimal.Decimal `gorm:"type:numeric(30,8);not null" json:"total_earned"` // 结算时写入一次
	CreatedAt         time.Time       `gorm:"not null;index" json:"created_at"`
	EndsAt            time.Time       `gorm:"not null" json:"ends_at"` // 创建时确定，不再重算
}

func (Pledge) TableName() string {
	return "pledges"
}

// IsActive 是否仍在质押中
func (p *Pledge) IsActive() bool {
	return p.Status == PledgeStatusActive
}

// IsMatured 活跃且已到期
func (p *Pledge) IsMatured(now time.Time) bool {
	return p.IsActive() && !now.Before(p.EndsAt)
}
