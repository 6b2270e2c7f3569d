package policy

import (
	"fmt"
	"math"

	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/features"
	"github.com/jar-analysis/jar-analysis-go/internal/threatintel"
)

// 合法性判定的最低信号强度
const (
	minGameAPIUsage          = 1.0
	minLegitimateConnections = 1.0
)

// 判定理由
const (
	ReasonKnownMalicious   = "known malicious hash"
	ReasonExtractionFailed = "no class file could be decompiled"
	ReasonBelowLow         = "probability below low threshold"
	ReasonAboveHigh        = "probability at or above high threshold"
	ReasonBetween          = "probability between thresholds"
	ReasonLegitimateMod    = "legitimate mod signals"
	ReasonAdvisoryRecord   = "prior malicious record"
)

// Config 判定参数
type Config struct {
	LowThreshold             float64
	HighThreshold            float64
	FailedConfidence         float64
	LegitimacyOverride       bool
	LegitimacyMaxProbability float64
}

// Validate 校验阈值
func (c Config) Validate() error {
	if !(c.LowThreshold > 0 && c.LowThreshold < c.HighThreshold && c.HighThreshold < 1) {
		return fmt.Errorf("thresholds must satisfy 0 < low < high < 1, got low=%.3f high=%.3f", c.LowThreshold, c.HighThreshold)
	}
	if c.FailedConfidence < 0 || c.FailedConfidence > 1 {
		return fmt.Errorf("failed confidence %.3f outside [0,1]", c.FailedConfidence)
	}
	if c.LegitimacyMaxProbability < 0 || c.LegitimacyMaxProbability > 1 {
		return fmt.Errorf("legitimacy max probability %.3f outside [0,1]", c.LegitimacyMaxProbability)
	}
	return nil
}

// Input 判定输入
type Input struct {
	Threat      *threatintel.Result
	Probability float64
	Quality     decompiler.Quality
	Legitimacy  features.Signals
}

// Decision 判定结果
type Decision struct {
	Verdict        domain.Verdict
	Confidence     float64
	Probability    float64 // 分类器输出；短路时未评分，为 0
	Quality        decompiler.Quality
	Reason         string
	ShortCircuited bool
}

// Policy 判定策略，无状态，可并发使用
type Policy struct {
	cfg Config
}

// New 创建判定策略
func New(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{cfg: cfg}, nil
}

// Config 当前参数
func (p *Policy) Config() Config {
	return p.cfg
}

// ShortCircuit 已知高置信恶意样本，跳过分类器；Probability 为 0 表示未评分
func (p *Policy) ShortCircuit(threat *threatintel.Result) Decision {
	return Decision{
		Verdict:        domain.VerdictMalicious,
		Confidence:     clamp(threat.Record.Confidence),
		Quality:        decompiler.QualityFull,
		Reason:         ReasonKnownMalicious,
		ShortCircuited: true,
	}
}

// Decide 按优先级合并哈希记录、分类概率与提取质量
func (p *Policy) Decide(in Input) Decision {
	if in.Threat != nil && in.Threat.ShortCircuit && in.Threat.Found() {
		return p.ShortCircuit(in.Threat)
	}

	d := Decision{Probability: in.Probability, Quality: in.Quality}

	if in.Quality == decompiler.QualityFailed {
		d.Verdict = domain.VerdictSuspicious
		d.Confidence = p.cfg.FailedConfidence
		d.Reason = ReasonExtractionFailed
		return d
	}

	d.Verdict, d.Confidence, d.Reason = p.threshold(in.Probability)

	advisory := in.Threat.AdvisoryMalicious()

	if p.cfg.LegitimacyOverride && !advisory && in.Quality == decompiler.QualityFull &&
		d.Verdict != domain.VerdictSafe && p.legitimate(in.Legitimacy, in.Probability) {
		d.Verdict = domain.VerdictSafe
		d.Confidence = math.Max(0.5, 1-in.Probability)
		d.Reason = ReasonLegitimateMod
	}

	if advisory && d.Verdict == domain.VerdictSafe {
		d.Verdict = domain.VerdictSuspicious
		d.Confidence = clamp(in.Threat.Record.Confidence)
		d.Reason = ReasonAdvisoryRecord
	}

	return d
}

// threshold 概率分段；置信度取与最近阈值的距离
func (p *Policy) threshold(prob float64) (domain.Verdict, float64, string) {
	low, high := p.cfg.LowThreshold, p.cfg.HighThreshold
	switch {
	case prob < low:
		return domain.VerdictSafe, clamp(0.5 + 0.5*(low-prob)/low), ReasonBelowLow
	case prob >= high:
		return domain.VerdictMalicious, clamp(0.5 + 0.5*(prob-high)/(1-high)), ReasonAboveHigh
	default:
		half := (high - low) / 2
		return domain.VerdictSuspicious, clamp(0.5 * math.Min(prob-low, high-prob) / half), ReasonBetween
	}
}

func (p *Policy) legitimate(s features.Signals, prob float64) bool {
	return s.HasModMetadata &&
		s.GameAPIUsage >= minGameAPIUsage &&
		s.LegitimateConnections >= minLegitimateConnections &&
		s.DiscordWebhooks == 0 &&
		prob < p.cfg.LegitimacyMaxProbability
}

func clamp(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
