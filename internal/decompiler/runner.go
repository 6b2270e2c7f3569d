package decompiler

import (
	"context"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Runner 并发反编译一个归档中的所有类
type Runner struct {
	decompiler  Decompiler
	concurrency int
	deadline    time.Duration
	logger      *logrus.Logger
}

// NewRunner 创建 Runner；deadline 为整个扫描的反编译时限，0 表示不限制
func NewRunner(d Decompiler, concurrency int, deadline time.Duration, logger *logrus.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{
		decompiler:  d,
		concurrency: concurrency,
		deadline:    deadline,
		logger:      logger,
	}
}

// Version 底层工具版本
func (r *Runner) Version() string {
	return r.decompiler.Version()
}

// Run 结果按输入顺序返回，与调度顺序无关
func (r *Runner) Run(ctx context.Context, classes []archive.Entry) []Result {
	results := make([]Result, len(classes))
	if len(classes) == 0 {
		return results
	}

	if r.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.deadline)
		defer cancel()
	}

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for i, entry := range classes {
		i, entry := i, entry
		if entry.Corrupt || entry.Oversized {
			results[i] = Result{ClassPath: entry.Path, Status: StatusFailed, Reason: "entry unreadable"}
			continue
		}
		if ctx.Err() != nil {
			results[i] = Result{ClassPath: entry.Path, Status: StatusTimedOut, Reason: "scan deadline exceeded before start"}
			continue
		}
		g.Go(func() error {
			results[i] = r.safeDecompile(ctx, entry)
			return nil
		})
	}
	g.Wait()

	summary := Summarize(results)
	r.logger.WithFields(logrus.Fields{
		"total":       summary.Total,
		"succeeded":   summary.Succeeded,
		"failed":      summary.Failed,
		"timed_out":   summary.TimedOut,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Decompilation finished")

	return results
}

// safeDecompile 防止单个实现的 panic 终止整个扫描
func (r *Runner) safeDecompile(ctx context.Context, entry archive.Entry) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithFields(logrus.Fields{
				"class": entry.Path,
				"panic": p,
			}).Error("Decompiler panicked")
			res = Result{ClassPath: entry.Path, Status: StatusFailed, Reason: "decompiler panic"}
		}
	}()
	return r.decompiler.Decompile(ctx, entry.Path, entry.Data)
}
