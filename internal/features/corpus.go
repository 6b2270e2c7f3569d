package features

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
)

// maxTextResource 超过该大小的资源不计入文本语料
const maxTextResource = 1 << 20

// Corpus 一次扫描的文本语料，按作用范围划分
type Corpus struct {
	texts map[Scope]string
	lower map[Scope]string
	docs  []document
}

// document 单个条目在某个范围内的文本，用于定位命中
type document struct {
	scope Scope
	path  string
	text  string
}

// NewCorpus 按归档顺序拼接各范围的文本
// classes 与 a.Classes() 按下标对应
func NewCorpus(a *archive.Archive, classes []*archive.ClassInfo, results []decompiler.Result) *Corpus {
	var source, raw, refs, paths strings.Builder
	c := &Corpus{lower: make(map[Scope]string)}

	for _, r := range results {
		if r.Status == decompiler.StatusSucceeded {
			source.WriteString(r.Source)
			source.WriteByte('\n')
			c.docs = append(c.docs, document{scope: ScopeSource, path: r.ClassPath, text: r.Source})
		}
	}

	var classEntries []archive.Entry
	if a != nil {
		classEntries = a.Classes()
	}
	for i, info := range classes {
		if info == nil {
			continue
		}
		path := ""
		if i < len(classEntries) {
			path = classEntries[i].Path
		}
		var classRaw, classRefs strings.Builder
		for _, s := range info.Strings {
			classRaw.WriteString(s)
			classRaw.WriteByte('\n')
		}
		for _, s := range info.ClassRefs {
			classRefs.WriteString(s)
			classRefs.WriteByte('\n')
		}
		for _, s := range info.MemberRefs {
			classRefs.WriteString(s)
			classRefs.WriteByte('\n')
		}
		raw.WriteString(classRaw.String())
		refs.WriteString(classRefs.String())
		c.docs = append(c.docs,
			document{scope: ScopeRaw, path: path, text: classRaw.String()},
			document{scope: ScopeRefs, path: path, text: classRefs.String()},
		)
	}

	if a != nil {
		for _, e := range a.Entries {
			paths.WriteString(e.Path)
			paths.WriteByte('\n')
			c.docs = append(c.docs, document{scope: ScopePaths, path: e.Path, text: e.Path})
			if e.Type != archive.EntryClass && isText(e.Data) {
				raw.Write(e.Data)
				raw.WriteByte('\n')
				c.docs = append(c.docs, document{scope: ScopeRaw, path: e.Path, text: string(e.Data)})
			}
		}
	}

	c.texts = map[Scope]string{
		ScopeSource: source.String(),
		ScopeRaw:    raw.String(),
		ScopeRefs:   refs.String(),
		ScopePaths:  paths.String(),
	}
	return c
}

// Text 返回指定范围的原始文本
func (c *Corpus) Text(scope Scope) string {
	return c.texts[scope]
}

// Lower 返回小写文本，首次调用时计算
func (c *Corpus) Lower(scope Scope) string {
	if s, ok := c.lower[scope]; ok {
		return s
	}
	s := strings.ToLower(c.texts[scope])
	c.lower[scope] = s
	return s
}

func isText(data []byte) bool {
	if len(data) == 0 || len(data) > maxTextResource {
		return false
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	return utf8.Valid(data)
}
