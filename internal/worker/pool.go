package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull 任务队列已满
	ErrQueueFull = errors.New("scan queue is full")
	// ErrPoolStopped Worker 池已停止
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Scanner 扫描入口，由 service.ScanService 实现
type Scanner interface {
	Submit(ctx context.Context, data []byte, fileName string) (*domain.ScanResult, error)
}

// Job 待扫描的文件
type Job struct {
	ID       string // 上游消息 ID，用于日志关联
	Path     string
	FileName string // 为空时取 Path 的文件名

	resultCh chan jobResult // 用于同步等待任务完成
}

type jobResult struct {
	result *domain.ScanResult
	err    error
}

// Pool Worker 池
type Pool struct {
	workers int
	jobs    chan *Job
	scanner Scanner
	logger  *logrus.Logger
	wg      sync.WaitGroup
	active  atomic.Int32

	mu      sync.RWMutex
	stopped bool
}

// NewPool 创建 Worker 池
func NewPool(workers, queueSize int, scanner Scanner, logger *logrus.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan *Job, queueSize),
		scanner: scanner,
		logger:  logger,
	}
}

// Start 启动 Worker 池
func (p *Pool) Start(ctx context.Context) {
	p.logger.WithField("workers", p.workers).Info("Starting worker pool")

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// worker Worker 协程
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			p.logger.WithField("worker_id", id).Debug("Worker shutting down")
			return

		case job, ok := <-p.jobs:
			if !ok {
				return
			}

			p.active.Add(1)
			result, err := p.run(ctx, job)
			p.active.Add(-1)

			log := p.logger.WithFields(logrus.Fields{
				"worker_id": id,
				"job_id":    job.ID,
				"path":      job.Path,
			})
			if err != nil {
				log.WithError(err).Error("Scan job failed")
			} else {
				log.WithFields(logrus.Fields{
					"scan_id": result.ID,
					"verdict": result.Verdict,
				}).Info("Scan job completed")
			}

			// 如果有结果通道，发送结果
			if job.resultCh != nil {
				job.resultCh <- jobResult{result: result, err: err}
				close(job.resultCh)
			}
		}
	}
}

func (p *Pool) run(ctx context.Context, job *Job) (*domain.ScanResult, error) {
	data, err := os.ReadFile(job.Path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", job.Path, err)
	}
	name := job.FileName
	if name == "" {
		name = filepath.Base(job.Path)
	}
	return p.scanner.Submit(ctx, data, name)
}

// Submit 提交任务（异步，不等待结果）
func (p *Pool) Submit(job *Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobs <- job:
		p.logger.WithField("job_id", job.ID).Debug("Job submitted to pool")
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitAndWait 提交任务并等待扫描结果
func (p *Pool) SubmitAndWait(ctx context.Context, job *Job) (*domain.ScanResult, error) {
	job.resultCh = make(chan jobResult, 1)

	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return nil, ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case res := <-job.resultCh:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop 停止接收任务并等待正在执行的扫描结束
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool")
	p.wg.Wait()
	p.logger.Info("Worker pool stopped")
}

// QueueSize 队列中等待的任务数
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// Active 正在执行的任务数
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Size Worker 数量
func (p *Pool) Size() int {
	return p.workers
}
