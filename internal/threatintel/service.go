package threatintel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/sirupsen/logrus"
)

// ErrInvalidOverride 人工覆盖参数非法
var ErrInvalidOverride = errors.New("invalid threat override")

// Result 哈希查询结果；Record 为 nil 表示无记录（中性，不代表安全）
type Result struct {
	Record       *domain.ThreatRecord
	ShortCircuit bool // 高置信恶意，跳过反编译与特征提取
	Advisory     bool // 存在记录但不足以短路，作为参考信号
}

// Found 是否命中记录
func (r *Result) Found() bool {
	return r != nil && r.Record != nil
}

// AdvisoryMalicious 命中低置信恶意记录
func (r *Result) AdvisoryMalicious() bool {
	return r.Found() && r.Advisory && r.Record.Verdict == domain.VerdictMalicious
}

// Service 已知样本查询与记录
type Service struct {
	repo                repository.ThreatRepository
	shortCircuitMin     float64
	recordMinConfidence float64
	logger              *logrus.Logger
	now                 func() time.Time
}

// NewService 创建查询服务
//   - shortCircuitMin: 恶意记录置信度不低于该值时短路
//   - recordMinConfidence: 扫描结果置信度不低于该值时写入记录
func NewService(repo repository.ThreatRepository, shortCircuitMin, recordMinConfidence float64, logger *logrus.Logger) *Service {
	return &Service{
		repo:                repo,
		shortCircuitMin:     shortCircuitMin,
		recordMinConfidence: recordMinConfidence,
		logger:              logger,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// Lookup 查询归档 hash；存储错误记录日志后按无记录处理
func (s *Service) Lookup(ctx context.Context, hash string) *Result {
	record, err := s.repo.FindByHash(ctx, hash)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.WithError(err).WithField("hash", hash).Warn("Threat lookup failed, treating as unknown")
		}
		return &Result{}
	}

	res := &Result{Record: record}
	if record.IsActive && record.Verdict == domain.VerdictMalicious && record.Confidence >= s.shortCircuitMin {
		res.ShortCircuit = true
	} else {
		res.Advisory = true
	}

	s.logger.WithFields(logrus.Fields{
		"hash":          hash,
		"verdict":       record.Verdict,
		"confidence":    record.Confidence,
		"short_circuit": res.ShortCircuit,
	}).Debug("Threat record matched")
	return res
}

// ShouldRecord 判断扫描结论是否足以写入已知样本库
// 恶意记录还需达到短路阈值，保证写入后再次提交一定短路
func (s *Service) ShouldRecord(verdict domain.Verdict, confidence float64) bool {
	switch verdict {
	case domain.VerdictSuspicious:
		return false
	case domain.VerdictMalicious:
		return confidence >= s.recordMinConfidence && confidence >= s.shortCircuitMin
	}
	return confidence >= s.recordMinConfidence
}

// Observation 构造一次扫描观测对应的记录
func (s *Service) Observation(hash string, verdict domain.Verdict, confidence float64, threatType string) domain.ThreatRecord {
	now := s.now()
	return domain.ThreatRecord{
		FileHash:   hash,
		Verdict:    verdict,
		Confidence: confidence,
		ThreatType: threatType,
		Source:     domain.ThreatSourceScan,
		IsActive:   true,
		FirstSeen:  now,
		LastSeen:   now,
	}
}

// Record 写入扫描观测，不满足阈值时忽略
func (s *Service) Record(ctx context.Context, observation domain.ThreatRecord) (*domain.ThreatRecord, error) {
	if !s.ShouldRecord(observation.Verdict, observation.Confidence) {
		return nil, nil
	}
	return s.repo.Upsert(ctx, observation, false)
}

// Override 人工覆盖，唯一允许降级恶意记录的入口
func (s *Service) Override(ctx context.Context, hash string, verdict domain.Verdict, confidence float64, active bool) (*domain.ThreatRecord, error) {
	if !verdict.Valid() {
		return nil, fmt.Errorf("%w: verdict %q", ErrInvalidOverride, verdict)
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrInvalidOverride, confidence)
	}
	now := s.now()
	record := domain.ThreatRecord{
		FileHash:   hash,
		Verdict:    verdict,
		Confidence: confidence,
		Source:     domain.ThreatSourceManual,
		IsActive:   active,
		FirstSeen:  now,
		LastSeen:   now,
	}

	s.logger.WithFields(logrus.Fields{
		"hash":    hash,
		"verdict": verdict,
		"active":  active,
	}).Info("Threat record overridden")
	return s.repo.Upsert(ctx, record, true)
}

// Get 查询有效记录
func (s *Service) Get(ctx context.Context, hash string) (*domain.ThreatRecord, error) {
	return s.repo.FindByHash(ctx, hash)
}
