package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ScanHandler 扫描消息处理函数
type ScanHandler func(ctx context.Context, msg *ScanMessage) error

// Consumer 消息消费者
type Consumer struct {
	mq            *RabbitMQ
	logger        *logrus.Logger
	handler       ScanHandler
	workers       int
	workerWg      sync.WaitGroup
	activeWorkers atomic.Int32

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc // 取消当前这一轮 worker
}

// NewConsumer 创建消费者
func NewConsumer(mq *RabbitMQ, handler ScanHandler, workers int, logger *logrus.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{
		mq:      mq,
		logger:  logger,
		handler: handler,
		workers: workers,
	}
}

// Start 启动消费者并监听重连信号
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.startWorkers(ctx); err != nil {
		return err
	}
	go c.handleReconnect(ctx)
	return nil
}

func (c *Consumer) startWorkers(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.logger.Warn("Consumer already running, skipping start")
		return nil
	}

	msgs, err := c.mq.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.worker(workerCtx, i, msgs)
	}

	c.logger.WithField("workers", c.workers).Info("Consumer started")
	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.workerWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-msgs:
			if !ok {
				c.logger.WithField("worker_id", id).Warn("Message channel closed")
				return
			}
			c.activeWorkers.Add(1)
			c.process(ctx, id, d)
			c.activeWorkers.Add(-1)
		}
	}
}

// process 处理单条消息
//   - 消息无法解析：丢弃
//   - 处理失败且可重试：首次投递重新入队，重投仍失败则丢弃
//   - 消费停止导致的中断：重新入队
func (c *Consumer) process(ctx context.Context, workerID int, d amqp.Delivery) {
	start := time.Now()

	var msg ScanMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.WithError(err).Error("Failed to unmarshal message")
		d.Nack(false, false)
		return
	}
	if err := msg.Validate(); err != nil {
		c.logger.WithError(err).Error("Dropping invalid scan message")
		d.Nack(false, false)
		return
	}

	log := c.logger.WithFields(logrus.Fields{
		"worker_id": workerID,
		"job_id":    msg.JobID,
		"file_name": msg.FileName,
	})

	if err := c.handler(ctx, &msg); err != nil {
		requeue := retry.IsRetryable(err) && !d.Redelivered
		if ctx.Err() != nil {
			// 停止消费时中断的扫描交还队列
			requeue = true
		}
		log.WithError(err).WithField("requeue", requeue).Error("Scan message failed")
		d.Nack(false, requeue)
		return
	}

	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("Failed to acknowledge message")
		return
	}
	log.WithField("duration", time.Since(start).Seconds()).Info("Scan message processed")
}

// handleReconnect 连接断开后停止 worker、重连并重新消费
func (c *Consumer) handleReconnect(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.mq.Reconnects():
			c.logger.Warn("Connection lost, attempting to reconnect...")
			c.stopWorkers()

			if err := c.mq.Reconnect(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to reconnect, consumer stays stopped")
				continue
			}
			if err := c.startWorkers(ctx); err != nil {
				c.logger.WithError(err).Error("Failed to restart consumer")
			}
		}
	}
}

// stopWorkers 取消 worker 并等待当前消息处理完成，最多 30 秒
func (c *Consumer) stopWorkers() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.workerWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		c.logger.Warn("Timeout waiting for consumer workers to stop")
	}
}

// Stop 停止消费者
func (c *Consumer) Stop() {
	c.logger.Info("Stopping consumer...")
	c.stopWorkers()
	c.logger.Info("Consumer stopped")
}

// ActiveWorkers 正在处理消息的 worker 数
func (c *Consumer) ActiveWorkers() int {
	return int(c.activeWorkers.Load())
}

// IsRunning 检查消费者是否正在运行
func (c *Consumer) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
