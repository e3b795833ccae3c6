package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/pledgeflow/internal/model"
	_redisClient "github.com/life2you_mini/pledgeflow/internal/redis"
)

// Notifier 业务事件通知
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// RedisNotifier 把通知以JSON写入Redis队列，由下游消费者读取
type RedisNotifier struct {
	queue     *_redisClient.QueueService
	queueName string
	logger    *zap.Logger
}

// NewRedisNotifier 创建Redis队列通知器
func NewRedisNotifier(queue *_redisClient.QueueService, queueName string, logger *zap.Logger) *RedisNotifier {
	if queueName == "" {
		queueName = _redisClient.QueueNotifications
	}
	return &RedisNotifier{
		queue:     queue,
		queueName: queueName,
		logger:    logger,
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, msg model.Notification) error {
	if err := n.queue.PushTask(ctx, n.queueName, msg); err != nil {
		return fmt.Errorf("推送通知失败: %w", err)
	}
	n.logger.Debug("通知已入队",
		zap.String("type", string(msg.Type)),
		zap.String("related_id", msg.RelatedID))
	return nil
}

// drainPopTimeout 取队列时的阻塞上限，go-redis 会把不足一秒的值按一秒处理
const drainPopTimeout = time.Second

// Pending 队列中等待消费的通知数
func (n *RedisNotifier) Pending(ctx context.Context) (int64, error) {
	length, err := n.queue.GetQueueLength(ctx, n.queueName)
	if err != nil {
		return 0, fmt.Errorf("读取通知队列长度失败: %w", err)
	}
	return length, nil
}

// Drain 按入队顺序取出至多 limit 条通知，无法解析的消息记日志后丢弃
func (n *RedisNotifier) Drain(ctx context.Context, limit int) ([]model.Notification, error) {
	pending, err := n.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if int64(limit) > pending {
		limit = int(pending)
	}

	out := make([]model.Notification, 0, limit)
	for i := 0; i < limit; i++ {
		raw, err := n.queue.PopTask(ctx, n.queueName, drainPopTimeout)
		if err != nil {
			return out, fmt.Errorf("读取通知失败: %w", err)
		}
		if raw == nil {
			// 其他消费者已经取走
			break
		}
		var msg model.Notification
		if err := json.Unmarshal(raw, &msg); err != nil {
			n.logger.Warn("丢弃无法解析的通知", zap.ByteString("raw", raw), zap.Error(err))
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Purge 清空通知队列
func (n *RedisNotifier) Purge(ctx context.Context) error {
	if err := n.queue.ClearQueue(ctx, n.queueName); err != nil {
		return fmt.Errorf("清空通知队列失败: %w", err)
	}
	n.logger.Info("通知队列已清空", zap.String("queue", n.queueName))
	return nil
}

// LogNotifier 只写日志，用于没有Redis的部署
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, msg model.Notification) error {
	n.logger.Info(msg.Message,
		zap.String("type", string(msg.Type)),
		zap.String("priority", msg.Priority),
		zap.String("user_id", msg.UserID),
		zap.String("related_id", msg.RelatedID))
	return nil
}

// Nop 丢弃所有通知
type Nop struct{}

func (Nop) Notify(ctx context.Context, msg model.Notification) error { return nil }

// Send 发送通知，失败只记录日志，不影响业务结果
func Send(ctx context.Context, n Notifier, logger *zap.Logger, msg model.Notification) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, msg); err != nil {
		logger.Warn("发送通知失败",
			zap.String("type", string(msg.Type)),
			zap.String("related_id", msg.RelatedID),
			zap.Error(err))
	}
}
