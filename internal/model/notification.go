package model

import (
	"time"
)

// NotificationType 通知类型
type NotificationType string

const (
	NotifyPledgeCreated NotificationType = "PLEDGE_CREATED"
	NotifyPledgeSettled NotificationType = "PLEDGE_SETTLED"
	NotifyOrderPlaced   NotificationType = "ORDER_PLACED"
	NotifyOrderSettled  NotificationType = "ORDER_SETTLED"
	NotifyOrderExpired  NotificationType = "ORDER_EXPIRED"
	NotifyDeposit       NotificationType = "DEPOSIT"
)

// Notification 通知消息
type Notification struct {
	Type      NotificationType `json:"type"`
	Priority  string           `json:"priority"` // HIGH, MEDIUM, LOW
	UserID    string           `json:"user_id,omitempty"`
	RelatedID string           `json:"related_id,omitempty"` // 关联的质押或订单ID
	Message   string           `json:"message"`
	Data      interface{}      `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
