package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Plan 质押计划模板
type Plan struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Min               decimal.Decimal `json:"min"`
	Max               decimal.Decimal `json:"max"`
	DailyYieldPercent decimal.Decimal `json:"daily_yield_percent"` // 日收益率(%)
	CycleDays         int             `json:"cycle_days"`          // 周期天数
}

// Contains 金额是否落在计划的 [Min, Max] 区间内
func (p Plan) Contains(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(p.Min) && amount.LessThanOrEqual(p.Max)
}

// DefaultPlans 内置的演示计划目录
func DefaultPlans() []Plan {
	return []Plan{
		{ID: "plan-1", Name: "入门", Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(4999), DailyYieldPercent: decimal.RequireFromString("1.5"), CycleDays: 7},
		{ID: "plan-2", Name: "进阶", Min: decimal.NewFromInt(5000), Max: decimal.NewFromInt(19999), DailyYieldPercent: decimal.NewFromInt(2), CycleDays: 15},
		{ID: "plan-3", Name: "高级", Min: decimal.NewFromInt(20000), Max: decimal.NewFromInt(49999), DailyYieldPercent: decimal.RequireFromString("2.5"), CycleDays: 30},
		{ID: "plan-4", Name: "尊享", Min: decimal.NewFromInt(50000), Max: decimal.NewFromInt(200000), DailyYieldPercent: decimal.NewFromInt(3), CycleDays: 60},
	}
}

// PlanCatalog 只读计划目录，构造后不再变化
type PlanCatalog struct {
	plans map[string]Plan
	ids   []string
}

// NewPlanCatalog 创建计划目录，重复ID以后者为准
func NewPlanCatalog(plans []Plan) *PlanCatalog {
	c := &PlanCatalog{plans: make(map[string]Plan, len(plans))}
	for _, p := range plans {
		if _, exists := c.plans[p.ID]; !exists {
			c.ids = append(c.ids, p.ID)
		}
		c.plans[p.ID] = p
	}
	sort.Strings(c.ids)
	return c
}

// Get 按ID获取计划
func (c *PlanCatalog) Get(id string) (Plan, bool) {
	p, ok := c.plans[id]
	return p, ok
}

// List 按ID排序返回全部计划
func (c *PlanCatalog) List() []Plan {
	out := make([]Plan, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.plans[id])
	}
	return out
}
