package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/life2you_mini/pledgeflow/internal/model"
)

// 存储类型常量
const (
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
	StorageTypeInMemory = "memory"
)

// 集合锁名称
const (
	LockPledges = "pledges"
	LockOrders  = "features_orders"
)

// ErrCorrupt 持久化数据无法解析
var ErrCorrupt = errors.New("存储数据已损坏")

// UserRepository 用户余额账本。每次余额变动都基于最新持久化的值做读改写
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	SaveUser(ctx context.Context, user *model.User) error
	Credit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error)
	Debit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error)
	// Update 在最新持久化的值上执行 fn 并写回，fn 返回错误时不做修改
	Update(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error)
}

// PledgeRepository 质押记录整体读写
type PledgeRepository interface {
	LoadAll(ctx context.Context) ([]*model.Pledge, error)
	SaveAll(ctx context.Context, pledges []*model.Pledge) error
}

// OrderRepository 期权订单整体读写
type OrderRepository interface {
	LoadAll(ctx context.Context) ([]*model.FeaturesOrder, error)
	SaveAll(ctx context.Context, orders []*model.FeaturesOrder) error
}

// Locker 按名称互斥，返回的函数用于释放
type Locker interface {
	Lock(ctx context.Context, name string) (func(), error)
}

// Store 存储层聚合，可以有多种实现（内存、Redis、PostgreSQL/SQLite）
type Store interface {
	Users() UserRepository
	Pledges() PledgeRepository
	Orders() OrderRepository
	Locker() Locker
	Health(ctx context.Context) error
	Close() error
}
