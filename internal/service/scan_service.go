package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/classifier"
	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/features"
	"github.com/jar-analysis/jar-analysis-go/internal/policy"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/jar-analysis/jar-analysis-go/internal/threatintel"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// 恶意样本的威胁类型
const threatTypeJarRAT = "jar_rat"

// 调用方取消的扫描只计入指标，不写失败记录
const abortCanceled = "canceled"

// ScanService 扫描服务接口
type ScanService interface {
	// 提交归档并同步返回判定，持久化在后台完成
	Submit(ctx context.Context, data []byte, fileName string) (*domain.ScanResult, error)

	// 获取扫描结果
	GetScan(ctx context.Context, id string) (*domain.ScanResult, error)

	// 某个归档最近一次扫描
	GetLatestByHash(ctx context.Context, hash string) (*domain.ScanResult, error)

	// 按时间区间分页查询历史
	GetHistory(ctx context.Context, q HistoryQuery) ([]*domain.ScanResult, int64, error)

	// 查询与人工覆盖已知样本
	GetThreat(ctx context.Context, hash string) (*domain.ThreatRecord, error)
	ListThreats(ctx context.Context, page, pageSize int) ([]*domain.ThreatRecord, int64, error)
	OverrideThreat(ctx context.Context, hash string, verdict domain.Verdict, confidence float64, active bool) (*domain.ThreatRecord, error)

	// 判定统计
	Stats(ctx context.Context) (*Stats, error)

	// 导出历史特征向量为 CSV 训练数据，返回写出的行数
	ExportFeatures(ctx context.Context, from, to time.Time, w io.Writer) (int, error)
}

// HistoryQuery 历史查询条件，区间为 [From, To)
type HistoryQuery struct {
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// Stats 判定分布统计
type Stats struct {
	Total          int64                    `json:"total"`
	ByVerdict      map[domain.Verdict]int64 `json:"by_verdict"`
	Failures       int64                    `json:"failures"`
	ActiveThreats  int64                    `json:"active_threats"`
	PendingWrites  int                      `json:"pending_writes"`
	SchemaVersion  string                   `json:"schema_version"`
	ModelVersion   string                   `json:"model_version"`
	CatalogVersion string                   `json:"catalog_version"`
}

// Dependencies 扫描流水线依赖，启动时组装一次
type Dependencies struct {
	Loader          archive.LoaderOptions
	Runner          *decompiler.Runner
	Extractor       *features.Extractor
	Model           *classifier.Model
	Policy          *policy.Policy
	Threats         *threatintel.Service
	Scans           repository.ScanRepository
	Threat          repository.ThreatRepository
	Recorder        *Recorder
	PartialFraction float64
	Metrics         Metrics
	Notifier        Notifier
}

type scanService struct {
	deps    Dependencies
	metrics Metrics
	notify  Notifier
	logger  *logrus.Logger
	now     func() time.Time
}

// NewScanService 创建扫描服务；模型与特征模式不一致时返回 ErrSchemaMismatch
func NewScanService(deps Dependencies, logger *logrus.Logger) (ScanService, error) {
	if deps.Scans == nil || deps.Runner == nil || deps.Extractor == nil || deps.Model == nil || deps.Policy == nil || deps.Threats == nil || deps.Recorder == nil {
		return nil, errors.New("scan service: missing dependency")
	}
	if err := deps.Model.CheckSchema(deps.Extractor.Schema()); err != nil {
		return nil, err
	}

	s := &scanService{
		deps:    deps,
		metrics: deps.Metrics,
		notify:  deps.Notifier,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	if s.notify == nil {
		s.notify = nopNotifier{}
	}

	logger.WithFields(logrus.Fields{
		"schema_version":     deps.Extractor.Schema().Version,
		"model_version":      deps.Model.Version(),
		"catalog_version":    deps.Extractor.CatalogVersion(),
		"decompiler_version": deps.Runner.Version(),
	}).Info("Scan service initialized")
	return s, nil
}

func (s *scanService) Submit(ctx context.Context, data []byte, fileName string) (*domain.ScanResult, error) {
	start := time.Now()
	scanID := uuid.New().String()
	log := s.logger.WithFields(logrus.Fields{
		"scan_id":   scanID,
		"file_name": fileName,
	})

	// 1. 加载归档
	arc, err := archive.Load(data, s.deps.Loader)
	if err != nil {
		s.abort(scanID, archive.Digest(data), fileName, int64(len(data)), domain.FailureInvalidArchive, err)
		log.WithError(err).Warn("Invalid archive")
		return nil, err
	}
	log = log.WithField("hash", arc.SHA256)

	result := &domain.ScanResult{
		ID:                scanID,
		ArchiveHash:       arc.SHA256,
		ArchiveMD5:        arc.MD5,
		FileName:          fileName,
		FileSize:          arc.Size,
		SchemaVersion:     s.deps.Extractor.Schema().Version,
		ModelVersion:      s.deps.Model.Version(),
		CatalogVersion:    s.deps.Extractor.CatalogVersion(),
		DecompilerVersion: s.deps.Runner.Version(),
		ClassCount:        len(arc.Classes()),
	}
	if sub, ok := SubmitterFrom(ctx); ok {
		result.ClientIP = sub.ClientIP
		result.UserAgent = truncateUserAgent(sub.UserAgent)
	}

	// 2. 已知样本查询
	threat := s.deps.Threats.Lookup(ctx, arc.SHA256)

	var decision policy.Decision
	if threat.ShortCircuit {
		decision = s.deps.Policy.ShortCircuit(threat)
		log.Info("Known malicious archive, skipping analysis")
	} else {
		// 3. 反编译
		results := s.deps.Runner.Run(ctx, arc.Classes())

		// 调用方取消时结果取决于调用方而非归档，不产生扫描记录
		if err := ctx.Err(); err != nil {
			s.metrics.RecordScanAborted(abortCanceled)
			log.WithError(err).Warn("Scan canceled by caller")
			return nil, fmt.Errorf("scan canceled: %w", err)
		}

		// 4. 特征提取
		extraction, err := s.deps.Extractor.Extract(features.Input{Archive: arc, FileName: fileName, Results: results})
		if err != nil {
			s.abort(scanID, arc.SHA256, fileName, arc.Size, domain.FailureInternal, err)
			return nil, fmt.Errorf("extract features: %w", err)
		}
		summary := extraction.Summary
		quality := summary.Quality(s.deps.PartialFraction)
		s.metrics.RecordDecompileResults(summary.Succeeded, summary.Failed, summary.TimedOut)

		// 5. 分类
		probability, err := s.deps.Model.Predict(extraction.Vector)
		if err != nil {
			kind := domain.FailureInternal
			if errors.Is(err, classifier.ErrSchemaMismatch) {
				kind = domain.FailureSchemaMismatch
			}
			s.abort(scanID, arc.SHA256, fileName, arc.Size, kind, err)
			log.WithError(err).Error("Classifier rejected feature vector")
			return nil, err
		}

		// 6. 判定
		decision = s.deps.Policy.Decide(policy.Input{
			Threat:      threat,
			Probability: probability,
			Quality:     quality,
			Legitimacy:  features.LegitimacySignals(extraction.Vector),
		})

		result.DecompiledCount = summary.Succeeded
		result.FailedCount = summary.Failed
		result.TimedOutCount = summary.TimedOut
		if extraction.Obfuscation != nil && extraction.Obfuscation.Detected {
			result.Obfuscator = extraction.Obfuscation.Name
		}
		if encoded, err := json.Marshal(extraction.Vector.Map()); err == nil {
			result.Features = datatypes.JSON(encoded)
		}
		if len(extraction.Hits) > 0 {
			if encoded, err := json.Marshal(extraction.Hits); err == nil {
				result.Indicators = datatypes.JSON(encoded)
			}
		}
	}

	result.Verdict = decision.Verdict
	result.Confidence = decision.Confidence
	result.Probability = decision.Probability
	result.Quality = string(decision.Quality)
	result.Reason = decision.Reason
	result.ShortCircuited = decision.ShortCircuited
	result.DurationMs = time.Since(start).Milliseconds()
	result.CreatedAt = s.now()

	// 7. 后台持久化
	if err := s.deps.Recorder.SaveScan(result); err != nil {
		log.WithError(err).Warn("Scan result not queued for persistence")
	}
	if s.deps.Threats.ShouldRecord(result.Verdict, result.Confidence) {
		threatType := ""
		if result.Verdict == domain.VerdictMalicious {
			threatType = threatTypeJarRAT
		}
		observation := s.deps.Threats.Observation(result.ArchiveHash, result.Verdict, result.Confidence, threatType)
		if err := s.deps.Recorder.RecordThreat(scanID, observation); err != nil {
			log.WithError(err).Warn("Threat observation not queued for persistence")
		}
	}

	s.metrics.RecordScan(string(result.Verdict), result.Quality, result.ShortCircuited, time.Since(start))
	s.notify.PublishScan(result)

	log.WithFields(logrus.Fields{
		"verdict":     result.Verdict,
		"confidence":  fmt.Sprintf("%.3f", result.Confidence),
		"probability": fmt.Sprintf("%.3f", result.Probability),
		"quality":     result.Quality,
		"duration_ms": result.DurationMs,
	}).Info("Scan completed")
	return result, nil
}

// abort 记录中止的扫描
func (s *scanService) abort(scanID, hash, fileName string, size int64, kind domain.FailureKind, cause error) {
	s.metrics.RecordScanAborted(string(kind))
	failure := &domain.ScanFailure{
		ID:          scanID,
		ArchiveHash: hash,
		FileName:    fileName,
		FileSize:    size,
		Kind:        kind,
		Message:     cause.Error(),
		CreatedAt:   s.now(),
	}
	if err := s.deps.Recorder.SaveFailure(failure); err != nil {
		s.logger.WithError(err).WithField("scan_id", scanID).Warn("Scan failure not queued for persistence")
	}
}

func (s *scanService) GetScan(ctx context.Context, id string) (*domain.ScanResult, error) {
	result, err := s.deps.Scans.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.WithError(err).WithField("scan_id", id).Error("Failed to get scan")
		}
		return nil, fmt.Errorf("获取扫描结果失败: %w", err)
	}
	return result, nil
}

func (s *scanService) GetLatestByHash(ctx context.Context, hash string) (*domain.ScanResult, error) {
	result, err := s.deps.Scans.FindLatestByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("获取扫描结果失败: %w", err)
	}
	return result, nil
}

func (s *scanService) GetHistory(ctx context.Context, q HistoryQuery) ([]*domain.ScanResult, int64, error) {
	if q.To.IsZero() {
		q.To = s.now().Add(time.Second)
	}
	if !q.From.Before(q.To) {
		return nil, 0, fmt.Errorf("invalid time range: from %s is not before to %s", q.From.Format(time.RFC3339), q.To.Format(time.RFC3339))
	}
	results, total, err := s.deps.Scans.ListByTimeRange(ctx, q.From, q.To, q.Page, q.PageSize)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list scan history")
		return nil, 0, fmt.Errorf("获取扫描历史失败: %w", err)
	}
	return results, total, nil
}

func (s *scanService) GetThreat(ctx context.Context, hash string) (*domain.ThreatRecord, error) {
	return s.deps.Threats.Get(ctx, hash)
}

func (s *scanService) ListThreats(ctx context.Context, page, pageSize int) ([]*domain.ThreatRecord, int64, error) {
	if s.deps.Threat == nil {
		return nil, 0, errors.New("threat repository not configured")
	}
	records, total, err := s.deps.Threat.List(ctx, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("获取威胁记录失败: %w", err)
	}
	return records, total, nil
}

func (s *scanService) OverrideThreat(ctx context.Context, hash string, verdict domain.Verdict, confidence float64, active bool) (*domain.ThreatRecord, error) {
	record, err := s.deps.Threats.Override(ctx, hash, verdict, confidence, active)
	if err != nil {
		s.logger.WithError(err).WithField("hash", hash).Error("Failed to override threat record")
		return nil, err
	}
	return record, nil
}

func (s *scanService) Stats(ctx context.Context) (*Stats, error) {
	counts, total, err := s.deps.Scans.CountByVerdict(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取统计失败: %w", err)
	}
	failures, err := s.deps.Scans.CountFailures(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取统计失败: %w", err)
	}
	var active int64
	if s.deps.Threat != nil {
		if active, err = s.deps.Threat.CountActive(ctx); err != nil {
			return nil, fmt.Errorf("获取统计失败: %w", err)
		}
	}

	for _, v := range []domain.Verdict{domain.VerdictSafe, domain.VerdictSuspicious, domain.VerdictMalicious} {
		if _, ok := counts[v]; !ok {
			counts[v] = 0
		}
	}

	return &Stats{
		Total:          total,
		ByVerdict:      counts,
		Failures:       failures,
		ActiveThreats:  active,
		PendingWrites:  s.deps.Recorder.Pending(),
		SchemaVersion:  s.deps.Extractor.Schema().Version,
		ModelVersion:   s.deps.Model.Version(),
		CatalogVersion: s.deps.Extractor.CatalogVersion(),
	}, nil
}
