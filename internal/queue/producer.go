package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/apk-scanner/apk-scanner-go/internal/retry"
)

// ScanMessage 扫描任务消息
type ScanMessage struct {
	TaskID   string `json:"task_id"`
	FileName string `json:"file_name"`
	FilePath string `json:"file_path"`
}

// Producer 消息生产者
type Producer struct {
	mq     *RabbitMQ
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(mq *RabbitMQ, logger *logrus.Logger) *Producer {
	return &Producer{
		mq:     mq,
		logger: logger,
	}
}

// PublishScan 发布扫描任务消息
//
// 发布失败做有限重试（网络抖动常见）；这是唯一允许重试的
// 发布路径，分析流水线内部不重试。
func (p *Producer) PublishScan(ctx context.Context, msg *ScanMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	publishRetry := retry.DefaultConfig()
	publishRetry.MaxAttempts = 3
	publishRetry.Logger = p.logger

	if err := retry.Do(ctx, publishRetry, func(ctx context.Context) error {
		return p.mq.Publish(ctx, body)
	}); err != nil {
		p.logger.WithError(err).WithField("task_id", msg.TaskID).Error("Failed to publish scan task")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"task_id":   msg.TaskID,
		"file_name": msg.FileName,
	}).Info("Scan task published to queue")

	return nil
}

// GetQueueSize 获取队列大小
func (p *Producer) GetQueueSize() (int, error) {
	messageCount, _, err := p.mq.GetQueueStats()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return messageCount, nil
}
