package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/expertclone/backend-go/internal/logger"
	"go.uber.org/zap"
)

// ProcessingEvent 知识处理生命周期事件，发往 rag.processing 主题
type ProcessingEvent struct {
	JobID         string    `json:"job_id"`
	CloneID       uint      `json:"clone_id"`
	EventType     string    `json:"event_type"` // started / completed / failed
	Status        string    `json:"status"`
	TotalDocs     int       `json:"total_docs"`
	ProcessedDocs int       `json:"processed_docs"`
	FailedDocs    int       `json:"failed_docs"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Producer Kafka事件生产者
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

// NewProducer 创建同步生产者。brokers为空时返回nil，调用方按可选依赖处理。
func NewProducer(brokers []string, topic string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka producer connected", zap.Strings("brokers", brokers), zap.String("topic", topic))
	return &Producer{producer: producer, topic: topic}, nil
}

// PublishProcessingEvent 发布处理事件，按clone_id分区保证同租户事件有序。
// 事件发布失败只记日志，不影响处理流水线本身。
func (p *Producer) PublishProcessingEvent(event ProcessingEvent) {
	if p == nil || p.producer == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("marshal processing event failed", zap.Error(err))
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(fmt.Sprintf("clone_%d", event.CloneID)),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		logger.Error("发布处理事件失败",
			zap.String("job_id", event.JobID),
			zap.Uint("clone_id", event.CloneID),
			zap.Error(err))
		return
	}

	logger.Debug("processing event published",
		zap.String("event_type", event.EventType),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
}

// Close 关闭生产者
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
