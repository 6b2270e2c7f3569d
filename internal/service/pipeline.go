package service

import (
	"context"
	"fmt"

	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/classifier"
	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/features"
	"github.com/jar-analysis/jar-analysis-go/internal/obfuscation"
	"github.com/jar-analysis/jar-analysis-go/internal/policy"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/jar-analysis/jar-analysis-go/internal/threatintel"
	"github.com/sirupsen/logrus"
)

// PipelineOptions 组装扫描流水线所需的外部依赖
type PipelineOptions struct {
	Config     *config.Config
	Scans      repository.ScanRepository
	Threats    repository.ThreatRepository
	Metrics    Metrics               // 可选
	Notifier   Notifier              // 可选
	Decompiler decompiler.Decompiler // 为空时按配置使用外部工具
}

// Pipeline 组装好的扫描流水线
type Pipeline struct {
	Service  ScanService
	Recorder *Recorder
	Threats  *threatintel.Service
}

// BuildPipeline 按配置加载目录与模型并组装扫描服务，启动时调用一次
func BuildPipeline(opts PipelineOptions, logger *logrus.Logger) (*Pipeline, error) {
	cfg := opts.Config

	// 1. 特征目录
	catalog := features.BuiltinCatalog()
	if cfg.Catalog.Path != "" {
		loaded, err := features.LoadCatalog(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
		catalog = loaded
	}
	matcher, err := features.Compile(catalog)
	if err != nil {
		return nil, fmt.Errorf("compile catalog: %w", err)
	}
	extractor, err := features.NewExtractor(features.DefaultSchema(), matcher, obfuscation.NewDetector(logger), logger)
	if err != nil {
		return nil, fmt.Errorf("create extractor: %w", err)
	}

	// 2. 模型
	model, err := classifier.Load(cfg.Classifier.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.Classifier.ModelPath, err)
	}

	// 3. 判定策略
	pol, err := policy.New(policy.Config{
		LowThreshold:             cfg.Policy.LowThreshold,
		HighThreshold:            cfg.Policy.HighThreshold,
		FailedConfidence:         cfg.Policy.FailedConfidence,
		LegitimacyOverride:       cfg.Policy.LegitimacyOverride,
		LegitimacyMaxProbability: cfg.Policy.LegitimacyMaxProbability,
	})
	if err != nil {
		return nil, err
	}

	// 4. 反编译
	dec := opts.Decompiler
	if dec == nil {
		dc := cfg.Decompiler
		dec = decompiler.NewExternalDecompiler(dc.Command, dc.Args, dc.Version, dc.PerClassTimeout(), logger)
	}
	runner := decompiler.NewRunner(dec, cfg.Decompiler.Concurrency, cfg.Decompiler.ScanDeadline(), logger)

	// 5. 已知样本与后台持久化
	intel := threatintel.NewService(opts.Threats, cfg.Policy.ShortCircuitConfidence, cfg.Policy.ThreatRecordMinConfidence, logger)
	recorder := NewRecorder(opts.Scans, intel, cfg.Recorder, opts.Metrics, logger)

	svc, err := NewScanService(Dependencies{
		Loader: archive.LoaderOptions{
			MaxArchiveBytes: cfg.Loader.MaxArchiveBytes,
			MaxEntries:      cfg.Loader.MaxEntries,
			MaxEntryBytes:   cfg.Loader.MaxEntryBytes,
		},
		Runner:          runner,
		Extractor:       extractor,
		Model:           model,
		Policy:          pol,
		Threats:         intel,
		Scans:           opts.Scans,
		Threat:          opts.Threats,
		Recorder:        recorder,
		PartialFraction: cfg.Decompiler.PartialFraction,
		Metrics:         opts.Metrics,
		Notifier:        opts.Notifier,
	}, logger)
	if err != nil {
		recorder.Stop(context.Background())
		return nil, err
	}

	return &Pipeline{Service: svc, Recorder: recorder, Threats: intel}, nil
}
