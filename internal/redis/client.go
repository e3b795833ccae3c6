package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions Redis客户端配置选项
type ClientOptions struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisClient 创建新的Redis客户端
func NewRedisClient(opts ClientOptions) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}

// releaseLockScript 只有持有者才能删除锁
const releaseLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// renewLockScript 只有持有者才能延长锁的过期时间
const renewLockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
else
	return 0
end`

// CreateLock 创建一个分布式锁
func CreateLock(ctx context.Context, client *redis.Client, key string, value string, ttl time.Duration) (bool, error) {
	return client.SetNX(ctx, key, value, ttl).Result()
}

// ReleaseLock 释放一个分布式锁
func ReleaseLock(ctx context.Context, client *redis.Client, key string, value string) (bool, error) {
	// 使用Lua脚本确保原子性操作
	result, err := client.Eval(ctx, releaseLockScript, []string{key}, value).Result()
	if err != nil {
		return false, err
	}

	n, ok := result.(int64)
	return ok && n == 1, nil
}

// RenewLock 延长锁的过期时间，锁已不属于 value 时返回 false
func RenewLock(ctx context.Context, client *redis.Client, key string, value string, ttl time.Duration) (bool, error) {
	result, err := client.Eval(ctx, renewLockScript, []string{key}, value, ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}

	n, ok := result.(int64)
	return ok && n == 1, nil
}
