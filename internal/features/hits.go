package features

import (
	"strings"
	"unicode/utf8"
)

// 命中证据的上限
const (
	MaxHitsPerCategory = 5
	maxHitMatchLen     = 120
)

// 只描述合法性的分类不作为可疑证据
var benignCategories = map[string]bool{
	CategoryLegitimateDomain: true,
	CategoryGameAPI:          true,
	CategoryModMetadata:      true,
}

// Hit 一条可疑模式命中
type Hit struct {
	Category  string `json:"category"`
	PatternID string `json:"pattern_id"`
	Path      string `json:"path"`
	Match     string `json:"match"`
}

// Hits 列出可疑模式的命中位置
//   - 每个条目在每个文档中最多记一次
//   - 每个分类最多 perCategory 条
//   - 顺序依次为目录分类顺序、条目顺序、归档顺序
func (m *Matcher) Hits(corpus *Corpus, perCategory int) []Hit {
	if perCategory <= 0 {
		perCategory = MaxHitsPerCategory
	}

	var hits []Hit
	for _, category := range m.order {
		if benignCategories[category] {
			continue
		}
		n := 0
	entries:
		for _, e := range m.categories[category] {
			for _, doc := range corpus.docs {
				if !e.covers(doc.scope) {
					continue
				}
				match, ok := e.find(doc.text)
				if !ok {
					continue
				}
				hits = append(hits, Hit{Category: category, PatternID: e.ID, Path: doc.path, Match: match})
				n++
				if n >= perCategory {
					break entries
				}
			}
		}
	}
	return hits
}

// covers 条目是否作用于该范围
func (e compiledEntry) covers(scope Scope) bool {
	if e.Scope == ScopeAll {
		return scope == ScopeSource || scope == ScopeRaw
	}
	return e.Scope == scope
}

// find 返回第一处命中；字面量返回模式本身
func (e compiledEntry) find(text string) (string, bool) {
	if e.re != nil {
		loc := e.re.FindStringIndex(text)
		if loc == nil {
			return "", false
		}
		return truncateMatch(text[loc[0]:loc[1]]), true
	}
	if e.IgnoreCase {
		if !strings.Contains(strings.ToLower(text), e.literal) {
			return "", false
		}
	} else if !strings.Contains(text, e.literal) {
		return "", false
	}
	return e.Pattern, true
}

func truncateMatch(s string) string {
	if len(s) <= maxHitMatchLen {
		return s
	}
	cut := maxHitMatchLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
