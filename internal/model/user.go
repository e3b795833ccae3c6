package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/pledgeflow/internal/apperr"
)

// User 用户余额账户
type User struct {
	ID            string          `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Email         string          `gorm:"type:varchar(255);index" json:"email"`
	BalanceUSDT   decimal.Decimal `gorm:"column:balance_usdt;type:numeric(30,8);not null" json:"balance_usdt"`
	Locked        bool            `gorm:"not null;default:false" json:"locked"`         // 账户锁定
	BalanceFrozen bool            `gorm:"not null;default:false" json:"balance_frozen"` // 余额冻结
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// CheckCanSpend 锁定或冻结的账户不能发起新的质押或下单
func (u *User) CheckCanSpend() error {
	if u.Locked {
		return apperr.Forbidden(apperr.CodeAccountLocked, "账户已锁定")
	}
	if u.BalanceFrozen {
		return apperr.Forbidden(apperr.CodeBalanceFrozen, "余额已冻结")
	}
	return nil
}

// Credit 入账
func (u *User) Credit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperr.Validation(apperr.CodeInvalidAmount, "入账金额不能为负数")
	}
	u.BalanceUSDT = u.BalanceUSDT.Add(amount)
	return nil
}

// Debit 扣款，余额不足时不做任何修改
func (u *User) Debit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return apperr.Validation(apperr.CodeInvalidAmount, "扣款金额不能为负数")
	}
	if u.BalanceUSDT.LessThan(amount) {
		return apperr.Validation(apperr.CodeInsufficientBalance, "余额不足")
	}
	u.BalanceUSDT = u.BalanceUSDT.Sub(amount)
	return nil
}
