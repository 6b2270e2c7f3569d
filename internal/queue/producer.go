package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ScanMessage 异步扫描消息，归档已落盘到 jar_dir
type ScanMessage struct {
	JobID    string `json:"job_id"`
	FileName string `json:"file_name"`
	Path     string `json:"path"`
}

// Validate 检查必填字段
func (m *ScanMessage) Validate() error {
	if m.JobID == "" {
		return errors.New("job_id is required")
	}
	if m.Path == "" {
		return errors.New("path is required")
	}
	return nil
}

// Publisher 发布扫描消息
type Publisher interface {
	PublishScan(ctx context.Context, msg *ScanMessage) error
	QueueDepth() (int, error)
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

// PublishScan 发布扫描消息
func (p *Producer) PublishScan(ctx context.Context, msg *ScanMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid scan message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := p.mq.Publish(ctx, body); err != nil {
		p.logger.WithError(err).WithField("job_id", msg.JobID).Error("Failed to publish scan")
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"job_id":    msg.JobID,
		"file_name": msg.FileName,
	}).Info("Scan published to queue")
	return nil
}

// QueueDepth 队列中待消费的消息数
func (p *Producer) QueueDepth() (int, error) {
	n, err := p.mq.QueueDepth()
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return n, nil
}
