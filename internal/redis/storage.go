package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	lockKeyPrefix   = "lock:"
	defaultLockTTL  = 10 * time.Second
	lockRetryPeriod = 20 * time.Millisecond
)

// StorageClient Redis存储客户端封装
type StorageClient struct {
	client       *redis.Client
	queueService *QueueService
	keyPrefix    string
	lockTTL      time.Duration
}

// NewStorageClient 创建新的Redis存储客户端
func NewStorageClient(opts ClientOptions, keyPrefix string) (*StorageClient, error) {
	if opts.Host == "" {
		opts.Host = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 6379
	}

	client, err := NewRedisClient(opts)
	if err != nil {
		return nil, fmt.Errorf("无法连接到Redis: %w", err)
	}

	return NewStorageClientFromClient(client, keyPrefix), nil
}

// NewStorageClientFromClient 使用已有连接创建存储客户端
func NewStorageClientFromClient(client *redis.Client, keyPrefix string) *StorageClient {
	return &StorageClient{
		client:       client,
		queueService: NewQueueService(client, keyPrefix),
		keyPrefix:    keyPrefix,
		lockTTL:      defaultLockTTL,
	}
}

// SetLockTTL 设置分布式锁的过期时间，持有期间每隔 ttl/3 续期一次
func (s *StorageClient) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		s.lockTTL = ttl
	}
}

// GetClient 返回原始的Redis客户端
func (s *StorageClient) GetClient() *redis.Client {
	return s.client
}

// GetQueueService 返回队列服务
func (s *StorageClient) GetQueueService() *QueueService {
	return s.queueService
}

// Key 拼接带前缀的键名
func (s *StorageClient) Key(parts ...string) string {
	key := s.keyPrefix
	for i, p := range parts {
		if i > 0 {
			key += ":"
		}
		key += p
	}
	return key
}

// Close 关闭Redis连接
func (s *StorageClient) Close() error {
	return s.client.Close()
}

// Ping 检查连接
func (s *StorageClient) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetRaw 读取原始值，键不存在时返回 nil
func (s *StorageClient) GetRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SetJSON 序列化后写入
func (s *StorageClient) SetJSON(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

// Lock 获取分布式锁，直到成功或 ctx 结束，返回的函数用于释放
// 持有期间后台定期续期，进程崩溃时锁在一个 TTL 内自动过期
func (s *StorageClient) Lock(ctx context.Context, name string) (func(), error) {
	key := s.Key(lockKeyPrefix + name)
	token := uuid.NewString()
	ttl := s.lockTTL

	ticker := time.NewTicker(lockRetryPeriod)
	defer ticker.Stop()

	for {
		ok, err := CreateLock(ctx, s.client, key, token, ttl)
		if err != nil {
			return nil, fmt.Errorf("获取分布式锁失败: %w", err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go s.keepLock(key, token, ttl, stop, done)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					// 释放使用独立上下文，调用方上下文可能已取消
					releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
					defer cancel()
					_, _ = ReleaseLock(releaseCtx, s.client, key, token)
				})
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待分布式锁超时: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// keepLock 持有期间续期，锁已被他人持有时停止
func (s *StorageClient) keepLock(key, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		renewCtx, cancel := context.WithTimeout(context.Background(), interval)
		ok, err := RenewLock(renewCtx, s.client, key, token, ttl)
		cancel()
		if err == nil && !ok {
			return
		}
		// 网络错误时等下一次续期
	}
}
