package queue

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected 当前没有可用 channel
var ErrNotConnected = errors.New("rabbitmq channel not available")

// RabbitMQ 扫描队列客户端，连接断开后自动重连
type RabbitMQ struct {
	cfg       config.RabbitMQConfig
	heartbeat time.Duration
	prefetch  int
	logger    *logrus.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool

	reconnect chan struct{}
}

// NewRabbitMQ 创建客户端；prefetch 应与 worker 数量匹配
func NewRabbitMQ(cfg config.RabbitMQConfig, prefetch int, logger *logrus.Logger) (*RabbitMQ, error) {
	if prefetch <= 0 {
		prefetch = 1
	}
	mq := &RabbitMQ{
		cfg:       cfg,
		heartbeat: 10 * time.Second,
		prefetch:  prefetch,
		logger:    logger,
		reconnect: make(chan struct{}, 1),
	}
	if err := mq.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return mq, nil
}

// amqpURL 构建连接地址，vhost 需要转义
func amqpURL(cfg config.RabbitMQConfig) string {
	u := url.URL{
		Scheme:  "amqp",
		User:    url.UserPassword(cfg.User, cfg.Password),
		Host:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Path:    "/" + cfg.VHost,
		RawPath: "/" + url.PathEscape(cfg.VHost),
	}
	return u.String()
}

// connect 建立连接并声明持久化队列
func (mq *RabbitMQ) connect() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	conn, err := amqp.DialConfig(amqpURL(mq.cfg), amqp.Config{
		Heartbeat: mq.heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.Qos(mq.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	if _, err := ch.QueueDeclare(mq.cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	mq.conn = conn
	mq.channel = ch
	go mq.watch(conn, conn.NotifyClose(make(chan *amqp.Error, 1)), ch.NotifyClose(make(chan *amqp.Error, 1)))

	mq.logger.WithFields(logrus.Fields{
		"host":     mq.cfg.Host,
		"port":     mq.cfg.Port,
		"queue":    mq.cfg.Queue,
		"prefetch": mq.prefetch,
	}).Info("Connected to RabbitMQ")
	return nil
}

// watch 连接或 channel 意外关闭时发出重连信号；主动关闭或已被替换的连接忽略
func (mq *RabbitMQ) watch(conn *amqp.Connection, connClosed, chanClosed <-chan *amqp.Error) {
	var err *amqp.Error
	select {
	case err = <-connClosed:
	case err = <-chanClosed:
	}

	mq.mu.RLock()
	stale := mq.closed || mq.conn != conn
	mq.mu.RUnlock()
	if stale {
		return
	}

	if err != nil {
		mq.logger.WithError(err).Error("RabbitMQ connection lost")
	} else {
		mq.logger.Warn("RabbitMQ connection closed")
	}
	select {
	case mq.reconnect <- struct{}{}:
	default:
	}
}

// Reconnect 关闭旧连接后按指数退避重连
func (mq *RabbitMQ) Reconnect(ctx context.Context) error {
	mq.closeConnections()

	cfg := retry.Config{
		MaxAttempts:     10,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Strategy:        retry.StrategyExponential,
	}
	err := retry.Do(ctx, cfg, mq.logger.WithField("component", "rabbitmq"), func(ctx context.Context) error {
		return mq.connect()
	})
	if err != nil {
		return fmt.Errorf("failed to reconnect: %w", err)
	}
	mq.logger.Info("Successfully reconnected to RabbitMQ")
	return nil
}

func (mq *RabbitMQ) closeConnections() {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.channel != nil {
		mq.channel.Close()
		mq.channel = nil
	}
	if mq.conn != nil {
		mq.conn.Close()
		mq.conn = nil
	}
}

// Publish 发布持久化消息
func (mq *RabbitMQ) Publish(ctx context.Context, body []byte) error {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()
	if ch == nil {
		return ErrNotConnected
	}

	return ch.PublishWithContext(ctx, "", mq.cfg.Queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
}

// Consume 手动确认模式消费
func (mq *RabbitMQ) Consume() (<-chan amqp.Delivery, error) {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()
	if ch == nil {
		return nil, ErrNotConnected
	}

	msgs, err := ch.Consume(mq.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}
	return msgs, nil
}

// QueueDepth 队列中待消费的消息数
func (mq *RabbitMQ) QueueDepth() (int, error) {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()
	if ch == nil {
		return 0, ErrNotConnected
	}

	q, err := ch.QueueInspect(mq.cfg.Queue)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// Reconnects 重连信号
func (mq *RabbitMQ) Reconnects() <-chan struct{} {
	return mq.reconnect
}

// IsConnected 检查连接状态
func (mq *RabbitMQ) IsConnected() bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.conn != nil && !mq.conn.IsClosed()
}

// Close 关闭连接，不再重连
func (mq *RabbitMQ) Close() error {
	mq.mu.Lock()
	mq.closed = true
	mq.mu.Unlock()

	mq.closeConnections()
	mq.logger.Info("RabbitMQ connection closed")
	return nil
}
