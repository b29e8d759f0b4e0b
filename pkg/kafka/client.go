// Package kafka 提供了文档处理任务的生产与消费。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"rag-chat-go/internal/config"
	"rag-chat-go/pkg/log"
	"rag-chat-go/pkg/tasks"
)

// TaskProcessor 处理一条文档任务，消费者与具体的处理流程解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentTask) error
}

// TaskProducer 投递文档任务。
type TaskProducer interface {
	ProduceDocumentTask(ctx context.Context, task tasks.DocumentTask) error
}

func brokers(cfg config.KafkaConfig) []string {
	return strings.Split(cfg.Brokers, ",")
}

// Producer 基于 kafka.Writer 实现 TaskProducer。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者，以文档 ID 作为消息 key 保证同一文档的任务有序。
func NewProducer(cfg config.KafkaConfig) *Producer {
	log.Infof("[Kafka] 生产者初始化成功, topic: %s", cfg.Topic)
	return &Producer{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers(cfg)...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *Producer) ProduceDocumentTask(ctx context.Context, task tasks.DocumentTask) error {
	value, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(task.DocumentID), Value: value})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer 消费文档任务。失败次数记录在 Redis 中，达到上限后提交 offset 放弃重试。
type Consumer struct {
	reader      *kafka.Reader
	rdb         *redis.Client
	processor   TaskProcessor
	maxAttempts int64
}

func NewConsumer(cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers(cfg),
			Topic:    cfg.Topic,
			GroupID:  cfg.GroupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		rdb:         rdb,
		processor:   processor,
		maxAttempts: int64(max(cfg.MaxAttempts, 1)),
	}
}

// Run 持续拉取消息直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("[Kafka] 消费者已启动, topic: %s", c.reader.Config().Topic)
	defer c.reader.Close()
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("[Kafka] 消费者已停止")
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}
		if c.handle(ctx, m) {
			if err := c.reader.CommitMessages(ctx, m); err != nil {
				log.Errorf("[Kafka] 提交 offset 失败: %v", err)
			}
		}
	}
}

// handle 处理一条消息，返回是否应提交 offset。
func (c *Consumer) handle(ctx context.Context, m kafka.Message) bool {
	var task tasks.DocumentTask
	if err := json.Unmarshal(m.Value, &task); err != nil {
		// 格式错误的消息直接提交，避免阻塞队列
		log.Errorf("[Kafka] 无法解析消息: %v, value: %s", err, string(m.Value))
		return true
	}

	log.Infof("[Kafka] 开始处理文档任务, document: %s, offset: %d", task.DocumentID, m.Offset)
	attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.DocumentID)
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("[Kafka] 处理文档任务失败, document: %s, error: %v", task.DocumentID, err)
		attempts, incErr := c.rdb.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 不可用时不提交，交给 Kafka 重投
			return false
		}
		_ = c.rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
		if attempts >= c.maxAttempts {
			log.Errorf("[Kafka] 文档任务失败 %d 次，放弃重试, document: %s", attempts, task.DocumentID)
			return true
		}
		log.Warnw("[Kafka] 文档任务将被重投", "document", task.DocumentID, "attempts", attempts, "maxAttempts", c.maxAttempts)
		return false
	}

	_ = c.rdb.Del(ctx, attemptsKey).Err()
	log.Infof("[Kafka] 文档任务处理成功, document: %s", task.DocumentID)
	return true
}
