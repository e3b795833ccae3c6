package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/apperr"
	"github.com/life2you_mini/pledgeflow/internal/model"
	_redisClient "github.com/life2you_mini/pledgeflow/internal/redis"
)

// Redis 键常量
const (
	keyUsers   = "users"
	keyPledges = "pledges"
	keyOrders  = "features_orders"

	// 乐观事务冲突时的最大重试次数
	maxBalanceTxRetries = 5
)

// RedisStore Redis存储实现，质押和订单各以一个JSON数组保存
type RedisStore struct {
	client *_redisClient.StorageClient
	logger *zap.Logger
}

// NewRedisStore 创建Redis存储
func NewRedisStore(client *_redisClient.StorageClient, logger *zap.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
	}
}

func (s *RedisStore) Users() UserRepository     { return (*redisUsers)(s) }
func (s *RedisStore) Pledges() PledgeRepository { return (*redisPledges)(s) }
func (s *RedisStore) Orders() OrderRepository   { return (*redisOrders)(s) }
func (s *RedisStore) Locker() Locker            { return s.client }

// Health 检查Redis健康状态
func (s *RedisStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// Close 关闭Redis连接
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.Error("关闭Redis连接失败", zap.Error(err))
		return fmt.Errorf("关闭Redis连接失败: %w", err)
	}

	s.logger.Info("Redis连接已关闭")
	return nil
}

type redisUsers RedisStore

func (r *redisUsers) userKey(id string) string {
	return r.client.Key(keyUsers, id)
}

func (r *redisUsers) GetUser(ctx context.Context, id string) (*model.User, error) {
	raw, err := r.client.GetRaw(ctx, r.userKey(id))
	if err != nil {
		return nil, apperr.Internal("读取用户失败", err)
	}
	if raw == nil {
		return nil, apperr.NotFound(apperr.CodeUserNotFound, fmt.Sprintf("用户不存在: %s", id))
	}

	var user model.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, apperr.Internal("解析用户数据失败", fmt.Errorf("%w: %v", ErrCorrupt, err))
	}
	return &user, nil
}

func (r *redisUsers) SaveUser(ctx context.Context, user *model.User) error {
	if err := r.client.SetJSON(ctx, r.userKey(user.ID), user); err != nil {
		return apperr.Internal("保存用户失败", err)
	}
	return nil
}

func (r *redisUsers) Credit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	return r.mutate(ctx, id, func(u *model.User) error { return u.Credit(amount) })
}

func (r *redisUsers) Debit(ctx context.Context, id string, amount decimal.Decimal) (*model.User, error) {
	return r.mutate(ctx, id, func(u *model.User) error { return u.Debit(amount) })
}

func (r *redisUsers) Update(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error) {
	return r.mutate(ctx, id, fn)
}

// mutate 在 WATCH 事务中读取最新余额并写回，并发修改时重试
func (r *redisUsers) mutate(ctx context.Context, id string, fn func(u *model.User) error) (*model.User, error) {
	key := r.userKey(id)
	client := r.client.GetClient()

	var updated model.User
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return apperr.NotFound(apperr.CodeUserNotFound, fmt.Sprintf("用户不存在: %s", id))
		}
		if err != nil {
			return err
		}

		var user model.User
		if err := json.Unmarshal(raw, &user); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if err := fn(&user); err != nil {
			return err
		}

		data, err := json.Marshal(&user)
		if err != nil {
			return fmt.Errorf("序列化用户数据失败: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		if err == nil {
			updated = user
		}
		return err
	}

	for i := 0; i < maxBalanceTxRetries; i++ {
		err := client.Watch(ctx, txf, key)
		if err == nil {
			return &updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			r.logger.Debug("余额事务冲突，重试", zap.String("user_id", id), zap.Int("attempt", i+1))
			continue
		}
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Internal("更新用户余额失败", err)
	}

	return nil, apperr.Internal("更新用户余额失败", fmt.Errorf("重试 %d 次后仍然冲突", maxBalanceTxRetries))
}

type redisPledges RedisStore

func (r *redisPledges) LoadAll(ctx context.Context) ([]*model.Pledge, error) {
	var pledges []*model.Pledge
	if err := (*RedisStore)(r).loadList(ctx, keyPledges, &pledges); err != nil {
		return nil, err
	}
	return pledges, nil
}

func (r *redisPledges) SaveAll(ctx context.Context, pledges []*model.Pledge) error {
	if pledges == nil {
		pledges = []*model.Pledge{}
	}
	if err := r.client.SetJSON(ctx, r.client.Key(keyPledges), pledges); err != nil {
		return fmt.Errorf("保存质押记录失败: %w", err)
	}
	return nil
}

type redisOrders RedisStore

func (r *redisOrders) LoadAll(ctx context.Context) ([]*model.FeaturesOrder, error) {
	var orders []*model.FeaturesOrder
	if err := (*RedisStore)(r).loadList(ctx, keyOrders, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *redisOrders) SaveAll(ctx context.Context, orders []*model.FeaturesOrder) error {
	if orders == nil {
		orders = []*model.FeaturesOrder{}
	}
	if err := r.client.SetJSON(ctx, r.client.Key(keyOrders), orders); err != nil {
		return fmt.Errorf("保存订单记录失败: %w", err)
	}
	return nil
}

// loadList 读取JSON数组，键不存在视为空集合
func (s *RedisStore) loadList(ctx context.Context, name string, dest interface{}) error {
	raw, err := s.client.GetRaw(ctx, s.client.Key(name))
	if err != nil {
		return fmt.Errorf("读取 %s 失败: %w", name, err)
	}
	if raw == nil {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		s.logger.Warn("解析存储数据失败", zap.String("key", name), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return nil
}
