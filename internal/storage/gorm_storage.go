package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/life2you_mini/pledgeflow/internal/apperr"
	"github.com/life2you_mini/pledgeflow/internal/model"
)

// GormOptions 关系型数据库连接参数
type GormOptions struct {
	Driver          string // postgres 或 sqlite
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// GormStore 基于 gorm 的关系型存储，每条记录一行
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
	locker *MemoryLocker
}

// OpenGormStore 打开数据库并自动迁移表结构
func OpenGormStore(opts GormOptions, log *zap.Logger) (*GormStore, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case StorageTypePostgres:
		dialector = postgres.Open(opts.DSN)
	case StorageTypeSQLite:
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return NewGormStore(db, log)
}

// NewGormStore 使用已有连接创建存储
func NewGormStore(db *gorm.DB, log *zap.Logger) (*GormStore, error) {
	if err := db.AutoMigrate(&model.User{}, &model.Pledge{}, &model.FeaturesOrder{}); err != nil {
		return nil, fmt.Errorf("数据库迁移失败: %w", err)
	}
	return &GormStore{
		db:     db,
		logger: log,
		locker: NewMemoryLocker(),
	}, nil
}

func (s *GormStore) Users() UserRepository     { return (*gormUsers)(s) }
func (s *GormStore) Pledges() PledgeRepository { return (*gormPledges)(s) }
func (s *GormStore) Orders() OrderRepository   { return (*gormOrders)(s) }

// Locker 集合锁只在进程内生效，多实例部署请使用 Redis 存储
func (s *GormStore) Locker() Locker { return s.locker }

func (s *GormStore) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		s.logger.Error("关闭数据库连接失败", zap.Error(err))
		return fmt.Errorf("关闭数据库连接失败: %w", err)
	}
	return nil
}

type gormUsers GormStore

func (r *gormUsers) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, fmt.Sprintf("用户不存在: %s", id))
	}
	if err != nil {
		return nil, apperr.Internal("读取用户失败", err)
	}
	return &user, nil
}

func (r *gormUsers) SaveUser(ctx context.Context, user *model.User) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(user).Error
	if err != nil {
		return apperr.Internal("保存用户失败", err)
	}
	return nil
}

func (r *gormUsers) Credit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	return r.mutate(ctx, id, func(u *model.User) error { return u.Credit(amount) })
}

func (r *gormUsers) Debit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	return r.mutate(ctx, id, func(u *model.User) error { return u.Debit(amount) })
}

func (r *gormUsers) Update(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error) {
	return r.mutate(ctx, id, fn)
}

// mutate 在事务中锁定用户行后读改写
func (r *gormUsers) mutate(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error) {
	var updated model.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user model.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound(apperr.CodeUserNotFound, fmt.Sprintf("用户不存在: %s", id))
		}
		if err != nil {
			return err
		}
		if err := fn(&user); err != nil {
			return err
		}
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"email":          user.Email,
			"balance_usdt":   user.BalanceUSDT,
			"locked":         user.Locked,
			"balance_frozen": user.BalanceFrozen,
			"updated_at":     time.Now(),
		}).Error; err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Internal("更新用户余额失败", err)
	}
	return &updated, nil
}

type gormPledges GormStore

func (r *gormPledges) LoadAll(ctx context.Context) ([]*model.Pledge, error) {
	var pledges []*model.Pledge
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&pledges).Error; err != nil {
		return nil, fmt.Errorf("读取质押记录失败: %w", err)
	}
	return pledges, nil
}

// SaveAll 逐条 upsert，记录不会被删除
func (r *gormPledges) SaveAll(ctx context.Context, pledges []*model.Pledge) error {
	if len(pledges) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&pledges).Error
	if err != nil {
		return fmt.Errorf("保存质押记录失败: %w", err)
	}
	return nil
}

type gormOrders GormStore

func (r *gormOrders) LoadAll(ctx context.Context) ([]*model.FeaturesOrder, error) {
	var orders []*model.FeaturesOrder
	if err := r.db.WithContext(ctx).Order("created_at desc").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("读取订单记录失败: %w", err)
	}
	return orders, nil
}

func (r *gormOrders) SaveAll(ctx context.Context, orders []*model.FeaturesOrder) error {
	if len(orders) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&orders).Error
	if err != nil {
		return fmt.Errorf("保存订单记录失败: %w", err)
	}
	return nil
}
