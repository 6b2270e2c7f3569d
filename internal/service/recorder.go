package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/jar-analysis/jar-analysis-go/internal/retry"
	"github.com/jar-analysis/jar-analysis-go/internal/threatintel"
	"github.com/sirupsen/logrus"
)

// ErrRecorderClosed 记录器已停止
var ErrRecorderClosed = errors.New("recorder closed")

// 持久化操作名，用于日志与指标
const (
	opSaveScan     = "save_scan"
	opSaveFailure  = "save_failure"
	opUpsertThreat = "upsert_threat"
)

type persistJob struct {
	op     string
	scanID string
	run    func(ctx context.Context) error
}

// Recorder 后台持久化：扫描结果、失败记录与已知样本写入都在这里排队重试，
// 存储故障不会阻塞扫描返回
type Recorder struct {
	scans   repository.ScanRepository
	threats *threatintel.Service
	retry   retry.Config
	metrics Metrics
	logger  *logrus.Logger

	jobs    chan persistJob
	wg      sync.WaitGroup
	pending atomic.Int64 // 已排队未完成的写入

	mu     sync.RWMutex
	closed bool
}

// NewRecorder 创建并启动后台写入
func NewRecorder(scans repository.ScanRepository, threats *threatintel.Service, cfg config.RecorderConfig, metrics Metrics, logger *logrus.Logger) *Recorder {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	retryCfg := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		retryCfg.InitialInterval = time.Duration(cfg.RetryDelay) * time.Millisecond
	}

	r := &Recorder{
		scans:   scans,
		threats: threats,
		retry:   retryCfg,
		metrics: metrics,
		logger:  logger,
		jobs:    make(chan persistJob, queueSize),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// SaveScan 排队写入扫描结果
func (r *Recorder) SaveScan(result *domain.ScanResult) error {
	// 调用方仍持有 result，写入副本
	row := *result
	return r.enqueue(persistJob{
		op:     opSaveScan,
		scanID: row.ID,
		run: func(ctx context.Context) error {
			return r.scans.Create(ctx, &row)
		},
	})
}

// SaveFailure 排队写入失败记录
func (r *Recorder) SaveFailure(failure *domain.ScanFailure) error {
	return r.enqueue(persistJob{
		op:     opSaveFailure,
		scanID: failure.ID,
		run: func(ctx context.Context) error {
			return r.scans.CreateFailure(ctx, failure)
		},
	})
}

// RecordThreat 排队写入已知样本观测
func (r *Recorder) RecordThreat(scanID string, observation domain.ThreatRecord) error {
	return r.enqueue(persistJob{
		op:     opUpsertThreat,
		scanID: scanID,
		run: func(ctx context.Context) error {
			_, err := r.threats.Record(ctx, observation)
			return err
		},
	})
}

// enqueue 队列满时丢弃并计数，不阻塞调用方
func (r *Recorder) enqueue(job persistJob) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.RecordPersistFailure(job.op)
		return ErrRecorderClosed
	}

	r.pending.Add(1)
	select {
	case r.jobs <- job:
		r.metrics.UpdateRecorderQueue(len(r.jobs))
		return nil
	default:
		r.pending.Add(-1)
		r.metrics.RecordPersistFailure(job.op)
		r.logger.WithFields(logrus.Fields{
			"operation": job.op,
			"scan_id":   job.scanID,
		}).Error("Recorder queue full, dropping write")
		return repository.ErrStoreUnavailable
	}
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for job := range r.jobs {
		r.execute(job)
		r.pending.Add(-1)
		r.metrics.UpdateRecorderQueue(len(r.jobs))
	}
}

func (r *Recorder) execute(job persistJob) {
	log := r.logger.WithFields(logrus.Fields{
		"operation": job.op,
		"scan_id":   job.scanID,
	})

	attempt := 0
	err := retry.Do(context.Background(), r.retry, log, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			r.metrics.RecordRetryAttempt(job.op, attempt)
		}
		return job.run(ctx)
	})
	if err != nil {
		r.metrics.RecordPersistFailure(job.op)
		log.WithError(err).Error("Failed to persist scan data")
	}
}

// Flush 等待已排队的写入完成
func (r *Recorder) Flush(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for r.pending.Load() > 0 {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Pending 已排队未完成的写入数
func (r *Recorder) Pending() int {
	return int(r.pending.Load())
}

// Stop 停止接收新写入并排空队列
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("Recorder drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
