package decompiler

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDecompilationFailed  = errors.New("decompilation failed")
	ErrDecompilationTimeout = errors.New("decompilation timed out")
)

// Status 单个类的反编译结果状态
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Quality 整个归档的提取质量
type Quality string

const (
	QualityFull    Quality = "full"
	QualityPartial Quality = "partial"
	QualityFailed  Quality = "failed"
)

// Result 单个类的反编译结果，归属于一次扫描
type Result struct {
	ClassPath string
	Status    Status
	Source    string
	Reason    string
	Duration  time.Duration
}

// Err 将失败状态映射为错误
func (r Result) Err() error {
	switch r.Status {
	case StatusFailed:
		return ErrDecompilationFailed
	case StatusTimedOut:
		return ErrDecompilationTimeout
	default:
		return nil
	}
}

// Decompiler 反编译单个类；实现必须自行处理超时，永不 panic
type Decompiler interface {
	Decompile(ctx context.Context, classPath string, data []byte) Result
	Version() string
}

// Summary 反编译统计
type Summary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
}

// Summarize 汇总结果
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusTimedOut:
			s.TimedOut++
		default:
			s.Failed++
		}
	}
	return s
}

// Quality 根据失败比例判定质量；没有类文件时视为 full
func (s Summary) Quality(partialFraction float64) Quality {
	if s.Total == 0 {
		return QualityFull
	}
	if s.Succeeded == 0 {
		return QualityFailed
	}
	bad := float64(s.Failed+s.TimedOut) / float64(s.Total)
	if bad > partialFraction {
		return QualityPartial
	}
	return QualityFull
}

// SuccessRatio 成功比例，没有类文件时为 1
func (s Summary) SuccessRatio() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Succeeded) / float64(s.Total)
}

// TimeoutRatio 超时比例
func (s Summary) TimeoutRatio() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.TimedOut) / float64(s.Total)
}
