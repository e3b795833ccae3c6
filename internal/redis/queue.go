package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 队列常量
const (
	QueueNotifications = "notifications"

	// 每个队列最多保留的消息数
	maxQueueLength = 10000
)

// QueueService Redis队列服务
type QueueService struct {
	client    *redis.Client
	keyPrefix string
}

// NewQueueService 创建新的队列服务
func NewQueueService(client *redis.Client, keyPrefix string) *QueueService {
	return &QueueService{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// 获取完整的队列名称
func (q *QueueService) getQueueKey(queue string) string {
	return fmt.Sprintf("%s%s", q.keyPrefix, queue)
}

// PushTask 将任务推送到队列，超出长度上限的旧任务被裁掉
func (q *QueueService) PushTask(ctx context.Context, queue string, task interface{}) error {
	taskData, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("序列化任务失败: %w", err)
	}

	queueKey := q.getQueueKey(queue)
	pipe := q.client.Pipeline()
	pipe.LPush(ctx, queueKey, taskData)
	pipe.LTrim(ctx, queueKey, 0, maxQueueLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("推送任务失败: %w", err)
	}
	return nil
}

// PopTask 从队列中弹出任务（阻塞方式），超时返回 nil
func (q *QueueService) PopTask(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	queueKey := q.getQueueKey(queue)
	result, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // 超时
		}
		return nil, err
	}

	// BRPop返回一个包含两个元素的数组：[queueName, value]
	if len(result) < 2 {
		return nil, fmt.Errorf("从队列获取的数据结构不正确")
	}

	return []byte(result[1]), nil
}

// GetQueueLength 获取队列长度
func (q *QueueService) GetQueueLength(ctx context.Context, queue string) (int64, error) {
	queueKey := q.getQueueKey(queue)
	return q.client.LLen(ctx, queueKey).Result()
}

// ClearQueue 清空队列
func (q *QueueService) ClearQueue(ctx context.Context, queue string) error {
	queueKey := q.getQueueKey(queue)
	return q.client.Del(ctx, queueKey).Err()
}
