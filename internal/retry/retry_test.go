package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Strategy: StrategyExponential}
}

// TestDo_Success 测试第一次就成功
func TestDo_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), nil, func(ctx context.Context) error {
		attempts++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

// TestDo_SuccessAfterRetries 测试重试后成功
func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(5), nil, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// TestDo_MaxAttempts 测试达到最大次数后返回最后一次错误
func TestDo_MaxAttempts(t *testing.T) {
	sentinel := errors.New("connection refused")
	attempts := 0
	err := Do(context.Background(), fastConfig(3), nil, func(ctx context.Context) error {
		attempts++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "max attempts")
}

// TestDo_Permanent 测试不可重试错误立即返回
func TestDo_Permanent(t *testing.T) {
	sentinel := errors.New("bad row")
	attempts := 0
	err := Do(context.Background(), fastConfig(5), nil, func(ctx context.Context) error {
		attempts++
		return Permanent(sentinel)
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, attempts)
}

// TestDo_ContextCanceled 测试上下文取消
func TestDo_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Do(ctx, fastConfig(5), nil, func(ctx context.Context) error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, attempts)
}

// TestConfig_Backoff 测试退避间隔
func TestConfig_Backoff(t *testing.T) {
	exp := Config{InitialInterval: 100 * time.Millisecond, MaxInterval: time.Second, Strategy: StrategyExponential}
	assert.Equal(t, 100*time.Millisecond, exp.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, exp.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, exp.Backoff(3))
	assert.Equal(t, time.Second, exp.Backoff(10))

	linear := Config{InitialInterval: 100 * time.Millisecond, Strategy: StrategyLinear}
	assert.Equal(t, 300*time.Millisecond, linear.Backoff(3))

	fixed := Config{InitialInterval: 100 * time.Millisecond, Strategy: StrategyFixed}
	assert.Equal(t, 100*time.Millisecond, fixed.Backoff(7))
}

// TestDoWithResult 测试返回值透传
func TestDoWithResult(t *testing.T) {
	attempts := 0
	v, err := DoWithResult(context.Background(), fastConfig(3), nil, func(ctx context.Context) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

// TestIsRetryable 测试错误分类
func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(Permanent(errors.New("x"))))
	assert.True(t, IsRetryable(errors.New("timeout talking to mysql")))
}
