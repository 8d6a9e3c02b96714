package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-kratos/kratos/v2/log"

	"mediavault/cmd/collection-index/internal/biz"
	"mediavault/cmd/collection-index/internal/domain"
	"mediavault/pkg/monitoring"
)

// 采集管线发布的集合变更事件类型
const (
	EventCollectionCreated = "collection.created"
	EventCollectionUpdated = "collection.updated"
	EventCollectionDeleted = "collection.deleted"
)

// CollectionEvent 集合变更事件消息体
// Payload 携带发布方的附加数据，索引侧不依赖它：投影始终回读文档库
type CollectionEvent struct {
	EventType    string          `json:"event_type"`
	CollectionID string          `json:"collection_id"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topic         string
	InitialOffset int64 // sarama.OffsetNewest 或 sarama.OffsetOldest
}

// DefaultConsumerConfig 默认配置
func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Brokers:       []string{"localhost:9092"},
		GroupID:       "collection-index",
		Topic:         "collection.events",
		InitialOffset: sarama.OffsetNewest,
	}
}

// Consumer 订阅集合变更事件并增量同步索引
//
// 投影失败时不标记位点，依靠重平衡后的重投递实现至少一次；
// 无法解析的消息标记后跳过，避免坏消息阻塞分区。
type Consumer struct {
	group  sarama.ConsumerGroup
	topic  string
	source domain.CollectionSource
	writer *biz.IndexWriter
	log    *log.Helper
	wg     sync.WaitGroup
}

// NewConsumer 创建事件消费者
func NewConsumer(cfg *ConsumerConfig, source domain.CollectionSource, writer *biz.IndexWriter, logger log.Logger) (*Consumer, error) {
	if cfg == nil {
		cfg = DefaultConsumerConfig()
	}

	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = sarama.V3_6_0_0
	kafkaConfig.Consumer.Return.Errors = true
	kafkaConfig.Consumer.Offsets.Initial = cfg.InitialOffset
	kafkaConfig.Consumer.Offsets.AutoCommit.Enable = true
	kafkaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Consumer{
		group:  group,
		topic:  cfg.Topic,
		source: source,
		writer: writer,
		log:    log.NewHelper(log.With(logger, "module", "events.consumer")),
	}, nil
}

// Start 启动消费循环，ctx取消后退出
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		handler := &groupHandler{consumer: c}
		for {
			if err := c.group.Consume(ctx, []string{c.topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.log.Errorf("consume loop error: %v", err)
			}
			if ctx.Err() != nil {
				c.log.Info("consumer context cancelled, stopping")
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.log.Errorf("consumer group error: %v", err)
		}
	}()
}

// Close 关闭消费者并等待循环退出
func (c *Consumer) Close() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	c.wg.Wait()
	return nil
}

// handleEvent 处理单个事件
//
// created/updated 都回读文档库再投影，事件体可能已过期；
// 回读报告不存在时按删除处理，覆盖更新与删除乱序到达的情况。
func (c *Consumer) handleEvent(ctx context.Context, event *CollectionEvent) error {
	switch event.EventType {
	case EventCollectionCreated, EventCollectionUpdated:
		collection, err := c.source.GetByID(ctx, event.CollectionID)
		if domain.IsNotFound(err) {
			return c.writer.Remove(ctx, event.CollectionID)
		}
		if err != nil {
			return err
		}
		return c.writer.Upsert(ctx, collection)

	case EventCollectionDeleted:
		return c.writer.Remove(ctx, event.CollectionID)

	default:
		c.log.Warnf("unknown event type %q for collection %s, skipping", event.EventType, event.CollectionID)
		monitoring.EventsProcessedTotal.WithLabelValues(event.EventType, "skipped").Inc()
		return nil
	}
}

// processMessage 解析并处理一条消息，返回是否应标记位点
func (c *Consumer) processMessage(ctx context.Context, value []byte) (mark bool, err error) {
	var event CollectionEvent
	if err := json.Unmarshal(value, &event); err != nil {
		monitoring.EventsProcessedTotal.WithLabelValues("malformed", "error").Inc()
		c.log.Errorf("failed to unmarshal collection event, skipping: %v", err)
		return true, nil
	}
	if event.CollectionID == "" {
		monitoring.EventsProcessedTotal.WithLabelValues(event.EventType, "error").Inc()
		c.log.Errorf("collection event %q missing collection_id, skipping", event.EventType)
		return true, nil
	}

	if err := c.handleEvent(ctx, &event); err != nil {
		monitoring.EventsProcessedTotal.WithLabelValues(event.EventType, "error").Inc()
		if domain.IsRetryable(err) || errors.Is(err, context.Canceled) {
			return false, err
		}
		// 非瞬态失败跳过，交给verify重建兜底
		c.log.Errorf("failed to handle %s for collection %s, skipping: %v", event.EventType, event.CollectionID, err)
		return true, nil
	}

	monitoring.EventsProcessedTotal.WithLabelValues(event.EventType, "success").Inc()
	return true, nil
}

// groupHandler sarama.ConsumerGroupHandler 实现
type groupHandler struct {
	consumer *Consumer
}

// Setup 设置
func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup 清理
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 消费消息
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		mark, err := h.consumer.processMessage(session.Context(), message.Value)
		if mark {
			session.MarkMessage(message, "")
		}
		if err != nil {
			// 中断会话，未标记的消息将被重投递
			return err
		}
	}
	return nil
}
