package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ackCall struct {
	ack     bool
	requeue bool
}

// fakeAcknowledger 记录 Ack/Nack 调用
type fakeAcknowledger struct {
	calls []ackCall
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.calls = append(f.calls, ackCall{ack: true})
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.calls = append(f.calls, ackCall{requeue: requeue})
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func delivery(t *testing.T, ack *fakeAcknowledger, body any, redelivered bool) amqp.Delivery {
	t.Helper()
	raw, ok := body.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: raw, Redelivered: redelivered}
}

// TestConsumer_Process 测试消息确认策略
func TestConsumer_Process(t *testing.T) {
	valid := &ScanMessage{JobID: "job-1", FileName: "mod.jar", Path: "/data/jars/job-1.jar"}

	tests := []struct {
		name        string
		body        any
		redelivered bool
		handlerErr  error
		want        ackCall
		wantCalled  bool
	}{
		{name: "success", body: valid, want: ackCall{ack: true}, wantCalled: true},
		{name: "bad json", body: []byte("{not json"), want: ackCall{}},
		{name: "missing path", body: &ScanMessage{JobID: "job-2"}, want: ackCall{}},
		{name: "transient failure requeued", body: valid, handlerErr: errors.New("db down"), want: ackCall{requeue: true}, wantCalled: true},
		{name: "redelivered failure dropped", body: valid, redelivered: true, handlerErr: errors.New("db down"), want: ackCall{}, wantCalled: true},
		{name: "permanent failure dropped", body: valid, handlerErr: retry.Permanent(errors.New("bad archive")), want: ackCall{}, wantCalled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			c := NewConsumer(nil, func(ctx context.Context, msg *ScanMessage) error {
				called = true
				assert.Equal(t, valid.JobID, msg.JobID)
				return tt.handlerErr
			}, 1, quietLogger())

			ack := &fakeAcknowledger{}
			c.process(context.Background(), 0, delivery(t, ack, tt.body, tt.redelivered))

			assert.Equal(t, tt.wantCalled, called)
			require.Len(t, ack.calls, 1)
			assert.Equal(t, tt.want, ack.calls[0])
		})
	}
}

// TestConsumer_ProcessCanceled 测试消费停止时中断的扫描重新入队
func TestConsumer_ProcessCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(nil, func(ctx context.Context, msg *ScanMessage) error {
		cancel()
		return ctx.Err()
	}, 1, quietLogger())

	ack := &fakeAcknowledger{}
	c.process(ctx, 0, delivery(t, ack, &ScanMessage{JobID: "job-1", Path: "/data/jars/job-1.jar"}, true))

	require.Len(t, ack.calls, 1)
	assert.Equal(t, ackCall{requeue: true}, ack.calls[0])
}

// TestScanMessage_Validate 测试消息校验
func TestScanMessage_Validate(t *testing.T) {
	assert.NoError(t, (&ScanMessage{JobID: "a", Path: "/x.jar"}).Validate())
	assert.Error(t, (&ScanMessage{Path: "/x.jar"}).Validate())
	assert.Error(t, (&ScanMessage{JobID: "a"}).Validate())
}

// TestAmqpURL 测试连接地址构建
func TestAmqpURL(t *testing.T) {
	cfg := config.RabbitMQConfig{Host: "mq", Port: 5672, User: "guest", Password: "p@ss", VHost: "/"}
	assert.Equal(t, "amqp://guest:p%40ss@mq:5672/%2F", amqpURL(cfg))

	cfg.VHost = "scans"
	assert.Equal(t, "amqp://guest:p%40ss@mq:5672/scans", amqpURL(cfg))
}
