package features

import (
	"errors"
	"fmt"
	"math"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/obfuscation"
	"github.com/sirupsen/logrus"
)

var errNoData = errors.New("no data")

// Input 一次扫描的特征提取输入
type Input struct {
	Archive  *archive.Archive
	FileName string
	Results  []decompiler.Result
}

// Extraction 特征提取结果
type Extraction struct {
	Vector      *Vector
	Summary     decompiler.Summary
	Obfuscation *obfuscation.Info
	Malformed   int   // 无法解析的类文件数
	Hits        []Hit // 可疑模式命中，用于解释判定
}

type featureFunc func(s *scanState) (float64, error)

// scanState 单次提取的中间状态，不跨扫描共享
type scanState struct {
	in        Input
	classes   []*archive.ClassInfo
	malformed int
	corpus    *Corpus
	summary   decompiler.Summary
	obf       *obfuscation.Info
	obfStats  *obfuscation.Stats
	matcher   *Matcher
	scores    map[string]float64
}

func (s *scanState) score(category string) float64 {
	if v, ok := s.scores[category]; ok {
		return v
	}
	v := s.matcher.Score(category, s.corpus)
	s.scores[category] = v
	return v
}

func categoryFeature(category string) featureFunc {
	return func(s *scanState) (float64, error) {
		return s.score(category), nil
	}
}

func ratio(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errNoData
	}
	return a / b, nil
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// categoryFeatures 由目录分类直接计数的特征
var categoryFeatures = map[string]string{
	FeatNetworkAPICalls:       CategoryNetworkAPI,
	FeatProcessExecCalls:      CategoryProcessExec,
	FeatReflectionCalls:       CategoryReflection,
	FeatDynamicClassLoading:   CategoryClassLoading,
	FeatFilesystemEscape:      CategoryFilesystemEscape,
	FeatCredentialAccess:      CategoryCredentialAccess,
	FeatDataCollection:        CategoryDataCollection,
	FeatHTTPOperations:        CategoryHTTPOperations,
	FeatBase64Usage:           CategoryBase64,
	FeatDiscordWebhook:        CategoryDiscordWebhook,
	FeatSuspiciousURLs:        CategorySuspiciousURL,
	FeatIPLiterals:            CategoryIPLiteral,
	FeatShellFragments:        CategoryShellFragment,
	FeatC2Keywords:            CategoryC2Keyword,
	FeatSuspiciousKeywords:    CategorySuspiciousKeyword,
	FeatRATSignatures:         CategoryRATSignature,
	FeatLegitimateConnections: CategoryLegitimateDomain,
	FeatMinecraftAPIUsage:     CategoryGameAPI,
}

// derivedCategories 依赖分类但需要额外计算的特征
var derivedCategories = map[string][]string{
	FeatReflectionDensity:  {CategoryReflection},
	FeatHasModMetadata:     {CategoryModMetadata},
	FeatNetworkToGameRatio: {CategoryNetworkAPI, CategoryGameAPI},
}

func builtinFeatures() map[string]featureFunc {
	funcs := map[string]featureFunc{
		FeatNumClassFiles: func(s *scanState) (float64, error) {
			return float64(len(s.in.Archive.Classes())), nil
		},
		FeatNumFilesTotal: func(s *scanState) (float64, error) {
			return float64(len(s.in.Archive.Entries)), nil
		},
		FeatFilenameLength: func(s *scanState) (float64, error) {
			return float64(utf8.RuneCountInString(s.in.FileName)), nil
		},
		FeatHasDatFile: func(s *scanState) (float64, error) {
			for _, e := range s.in.Archive.Entries {
				if strings.HasSuffix(strings.ToLower(e.Path), ".dat") {
					return 1, nil
				}
			}
			return 0, nil
		},
		FeatClassToTotalRatio: func(s *scanState) (float64, error) {
			return ratio(float64(len(s.in.Archive.Classes())), float64(len(s.in.Archive.Entries)))
		},
		FeatEntropyScore: func(s *scanState) (float64, error) {
			sum, n := 0.0, 0
			for _, e := range s.in.Archive.Entries {
				if len(e.Data) == 0 {
					continue
				}
				sum += shannonBytes(e.Data)
				n++
			}
			return ratio(sum, float64(n))
		},
		FeatArchiveSizeKB: func(s *scanState) (float64, error) {
			return float64(s.in.Archive.Size) / 1024, nil
		},
		FeatAvgClassNameLength: func(s *scanState) (float64, error) {
			total, n := 0, 0
			for _, e := range s.in.Archive.Classes() {
				name := strings.TrimSuffix(path.Base(e.Path), ".class")
				total += utf8.RuneCountInString(name)
				n++
			}
			return ratio(float64(total), float64(n))
		},
		FeatAvgMethodNameLength: func(s *scanState) (float64, error) {
			total, n := 0, 0
			for _, c := range s.classes {
				if c == nil {
					continue
				}
				for _, m := range c.Methods {
					if m == "<init>" || m == "<clinit>" {
						continue
					}
					total += utf8.RuneCountInString(m)
					n++
				}
			}
			return ratio(float64(total), float64(n))
		},
		FeatShortClassNamesRatio: func(s *scanState) (float64, error) {
			return s.obfStats.ShortClassRatio, nil
		},
		FeatShortMethodNamesRatio: func(s *scanState) (float64, error) {
			return s.obfStats.ShortMethodRatio, nil
		},
		FeatTotalClasses: func(s *scanState) (float64, error) {
			n := 0
			for _, c := range s.classes {
				if c != nil {
					n++
				}
			}
			return float64(n), nil
		},
		FeatTotalMethods: func(s *scanState) (float64, error) {
			return float64(totalMethods(s.classes)), nil
		},
		FeatReflectionDensity: func(s *scanState) (float64, error) {
			return ratio(s.score(CategoryReflection), float64(totalMethods(s.classes)))
		},
		FeatObfuscationConfidence: func(s *scanState) (float64, error) {
			return s.obf.Confidence, nil
		},
		FeatManifestMissing: func(s *scanState) (float64, error) {
			return boolFloat(s.in.Archive.Manifest == nil), nil
		},
		FeatManifestAnomalies: func(s *scanState) (float64, error) {
			return float64(len(s.in.Archive.ManifestAnomalies())), nil
		},
		FeatUnreadableEntries: func(s *scanState) (float64, error) {
			return float64(s.in.Archive.UnreadableCount() + s.malformed), nil
		},
		FeatHasModMetadata: func(s *scanState) (float64, error) {
			return boolFloat(s.score(CategoryModMetadata) > 0), nil
		},
		FeatFilenameEntropy: func(s *scanState) (float64, error) {
			return shannonRunes(s.in.FileName), nil
		},
		FeatNetworkToGameRatio: func(s *scanState) (float64, error) {
			return s.score(CategoryNetworkAPI) / (s.score(CategoryGameAPI) + 1), nil
		},
		FeatDecompileSuccessRatio: func(s *scanState) (float64, error) {
			return s.summary.SuccessRatio(), nil
		},
		FeatDecompileTimeoutRatio: func(s *scanState) (float64, error) {
			return s.summary.TimeoutRatio(), nil
		},
	}
	for name, category := range categoryFeatures {
		funcs[name] = categoryFeature(category)
	}
	return funcs
}

func totalMethods(classes []*archive.ClassInfo) int {
	n := 0
	for _, c := range classes {
		if c == nil {
			continue
		}
		for _, m := range c.Methods {
			if m != "<init>" && m != "<clinit>" {
				n++
			}
		}
	}
	return n
}

// Extractor 将归档与反编译结果映射为固定形状的特征向量，只读，可并发使用
type Extractor struct {
	schema   Schema
	matcher  *Matcher
	detector *obfuscation.Detector
	funcs    []featureFunc
	logger   *logrus.Logger
}

// NewExtractor 创建提取器；模式中每个特征都必须有实现，所需分类必须存在于目录中
func NewExtractor(schema Schema, matcher *Matcher, detector *obfuscation.Detector, logger *logrus.Logger) (*Extractor, error) {
	registry := builtinFeatures()
	funcs := make([]featureFunc, len(schema.Features))
	seen := make(map[string]bool, len(schema.Features))

	for i, spec := range schema.Features {
		if seen[spec.Name] {
			return nil, fmt.Errorf("duplicate feature %s in schema %s", spec.Name, schema.Version)
		}
		seen[spec.Name] = true

		fn, ok := registry[spec.Name]
		if !ok {
			return nil, fmt.Errorf("no extractor for feature %s", spec.Name)
		}
		funcs[i] = fn

		required := append([]string(nil), derivedCategories[spec.Name]...)
		if c, ok := categoryFeatures[spec.Name]; ok {
			required = append(required, c)
		}
		for _, c := range required {
			if !matcher.HasCategory(c) {
				return nil, fmt.Errorf("catalog %s has no patterns for category %s (feature %s)", matcher.Version(), c, spec.Name)
			}
		}
	}

	return &Extractor{
		schema:   schema,
		matcher:  matcher,
		detector: detector,
		funcs:    funcs,
		logger:   logger,
	}, nil
}

// Schema 当前特征模式
func (e *Extractor) Schema() Schema {
	return e.schema
}

// CatalogVersion 目录版本
func (e *Extractor) CatalogVersion() string {
	return e.matcher.Version()
}

// Extract 计算特征向量；单个特征失败时取默认值，不会缺位
func (e *Extractor) Extract(in Input) (*Extraction, error) {
	if in.Archive == nil {
		return nil, fmt.Errorf("extract features: archive is nil")
	}

	s := &scanState{
		in:      in,
		summary: decompiler.Summarize(in.Results),
		matcher: e.matcher,
		scores:  make(map[string]float64),
	}
	for _, entry := range in.Archive.Classes() {
		if entry.Corrupt || entry.Oversized {
			s.classes = append(s.classes, nil)
			continue
		}
		info, err := archive.ParseClass(entry.Data)
		if err != nil {
			s.malformed++
			s.classes = append(s.classes, nil)
			continue
		}
		s.classes = append(s.classes, info)
	}
	s.corpus = NewCorpus(in.Archive, s.classes, in.Results)
	s.obfStats = obfuscation.CollectStats(in.Archive, s.classes)
	s.obf = e.detector.Detect(s.obfStats)

	values := make([]float64, len(e.schema.Features))
	for i, spec := range e.schema.Features {
		values[i] = e.compute(spec, e.funcs[i], s)
	}

	return &Extraction{
		Vector: &Vector{
			SchemaVersion: e.schema.Version,
			Names:         e.schema.Names(),
			Values:        values,
		},
		Summary:     s.summary,
		Obfuscation: s.obf,
		Malformed:   s.malformed,
		Hits:        e.matcher.Hits(s.corpus, MaxHitsPerCategory),
	}, nil
}

// compute 计算单个特征，panic、错误或非有限值都回退为默认值
func (e *Extractor) compute(spec FeatureSpec, fn featureFunc, s *scanState) (value float64) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"feature": spec.Name,
				"panic":   r,
			}).Warn("Feature computation panicked, using default")
			value = spec.Default
		}
	}()

	v, err := fn(s)
	if err != nil {
		if !errors.Is(err, errNoData) {
			e.logger.WithError(err).WithField("feature", spec.Name).Debug("Feature computation failed, using default")
		}
		return spec.Default
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return spec.Default
	}
	return v
}

// Signals 策略使用的合法性信号
type Signals struct {
	HasModMetadata        bool
	GameAPIUsage          float64
	LegitimateConnections float64
	DiscordWebhooks       float64
}

// LegitimacySignals 从特征向量读取合法性信号
func LegitimacySignals(v *Vector) Signals {
	if v == nil {
		return Signals{}
	}
	get := func(name string) float64 {
		x, _ := v.Get(name)
		return x
	}
	return Signals{
		HasModMetadata:        get(FeatHasModMetadata) > 0,
		GameAPIUsage:          get(FeatMinecraftAPIUsage),
		LegitimateConnections: get(FeatLegitimateConnections),
		DiscordWebhooks:       get(FeatDiscordWebhook),
	}
}
