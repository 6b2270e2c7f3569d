package obfuscation

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/sirupsen/logrus"
)

const (
	detectThreshold   = 0.4
	shortNameMaxLen   = 2
	renameClassRatio  = 0.5
	renameMethodRatio = 0.3
	unicodeNameRatio  = 0.2
)

// Detector 混淆器检测器
type Detector struct {
	rules  []Rule
	logger *logrus.Logger
}

// NewDetector 创建混淆器检测器
func NewDetector(logger *logrus.Logger) *Detector {
	rules := BuiltinRules()
	// 按优先级降序排序，同优先级保持定义顺序
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	return &Detector{
		rules:  rules,
		logger: logger,
	}
}

// Detect 按优先级匹配规则，返回第一个超过阈值的结果
func (d *Detector) Detect(stats *Stats) *Info {
	result := &Info{Indicators: []string{}}
	if stats == nil {
		return result
	}

	for _, rule := range d.rules {
		confidence, indicators := d.matchRule(rule, stats)
		if confidence >= detectThreshold {
			result.Detected = true
			result.Name = rule.Name
			result.Type = rule.Type
			result.Confidence = min(confidence, 1.0)
			result.Indicators = indicators

			d.logger.WithFields(logrus.Fields{
				"obfuscator": result.Name,
				"confidence": result.Confidence,
				"indicators": result.Indicators,
			}).Debug("Obfuscator detected")
			return result
		}
	}

	return result
}

// matchRule 匹配单个规则
func (d *Detector) matchRule(rule Rule, stats *Stats) (float64, []string) {
	confidence := 0.0
	indicators := []string{}

	for _, marker := range rule.Markers {
		m := strings.ToLower(marker)
		for _, path := range stats.EntryPaths {
			if strings.Contains(strings.ToLower(path), m) {
				confidence += 0.4
				indicators = append(indicators, "entry:"+path)
				break
			}
		}
	}

	for _, fragment := range rule.ClassNames {
		for _, name := range stats.ClassNames {
			if strings.Contains(name, fragment) {
				confidence += 0.4
				indicators = append(indicators, "class:"+name)
				break
			}
		}
	}

	for _, needle := range rule.Strings {
		for _, s := range stats.Strings {
			if strings.Contains(s, needle) {
				confidence += 0.3
				indicators = append(indicators, "string:"+needle)
				break
			}
		}
	}

	if rule.Renaming && stats.ShortClassRatio >= renameClassRatio && stats.ShortMethodRatio >= renameMethodRatio {
		confidence += 0.5
		indicators = append(indicators, "short_names")
	}

	if rule.Unicode && stats.NonASCIIRatio >= unicodeNameRatio {
		confidence += 0.2
		indicators = append(indicators, "non_ascii_names")
	}

	return confidence, indicators
}

// CollectStats 从归档条目和已解析的类元数据收集统计信息
func CollectStats(a *archive.Archive, classes []*archive.ClassInfo) *Stats {
	stats := &Stats{}
	if a != nil {
		for _, e := range a.Entries {
			stats.EntryPaths = append(stats.EntryPaths, e.Path)
		}
	}

	var classTotal, shortClasses, methodTotal, shortMethods, names, nonASCII int
	for _, c := range classes {
		if c == nil {
			continue
		}
		stats.ClassNames = append(stats.ClassNames, c.ClassName)
		stats.Strings = append(stats.Strings, c.Strings...)

		simple := c.SimpleName()
		classTotal++
		names++
		if utf8.RuneCountInString(simple) <= shortNameMaxLen {
			shortClasses++
		}
		if !isASCII(simple) {
			nonASCII++
		}
		for _, m := range c.Methods {
			if m == "<init>" || m == "<clinit>" {
				continue
			}
			methodTotal++
			names++
			if utf8.RuneCountInString(m) <= shortNameMaxLen {
				shortMethods++
			}
			if !isASCII(m) {
				nonASCII++
			}
		}
	}

	if classTotal > 0 {
		stats.ShortClassRatio = float64(shortClasses) / float64(classTotal)
	}
	if methodTotal > 0 {
		stats.ShortMethodRatio = float64(shortMethods) / float64(methodTotal)
	}
	if names > 0 {
		stats.NonASCIIRatio = float64(nonASCII) / float64(names)
	}
	return stats
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// Summary 检测摘要
func Summary(info *Info) string {
	if info == nil || !info.Detected {
		return "no obfuscator detected"
	}
	return info.Name + " (" + info.Type + ")"
}
