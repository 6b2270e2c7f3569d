package service

import (
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
)

// Metrics 扫描指标，由 middleware.PrometheusMetrics 实现
type Metrics interface {
	RecordScan(verdict, quality string, shortCircuited bool, duration time.Duration)
	RecordScanAborted(kind string)
	RecordDecompileResults(succeeded, failed, timedOut int)
	RecordPersistFailure(operation string)
	RecordRetryAttempt(operation string, attempt int)
	UpdateRecorderQueue(size int)
}

// Notifier 完成的扫描推送到实时通道
type Notifier interface {
	PublishScan(result *domain.ScanResult)
}

type nopMetrics struct{}

func (nopMetrics) RecordScan(string, string, bool, time.Duration) {}
func (nopMetrics) RecordScanAborted(string)                       {}
func (nopMetrics) RecordDecompileResults(int, int, int)           {}
func (nopMetrics) RecordPersistFailure(string)                    {}
func (nopMetrics) RecordRetryAttempt(string, int)                 {}
func (nopMetrics) UpdateRecorderQueue(int)                        {}

type nopNotifier struct{}

func (nopNotifier) PublishScan(*domain.ScanResult) {}
