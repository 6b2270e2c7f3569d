package features

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// PatternKind 模式类型
type PatternKind string

const (
	KindLiteral PatternKind = "literal"
	KindRegex   PatternKind = "regex"
)

// Scope 模式作用的文本范围
type Scope string

const (
	ScopeSource Scope = "source" // 反编译源码
	ScopeRaw    Scope = "raw"    // 常量池字符串与文本资源
	ScopeRefs   Scope = "refs"   // 字节码引用的类与成员
	ScopePaths  Scope = "paths"  // 条目路径
	ScopeAll    Scope = "all"    // source + raw
)

// 目录分类，每个分类对应一个或多个特征
const (
	CategoryNetworkAPI        = "network_api"
	CategoryProcessExec       = "process_exec"
	CategoryReflection        = "reflection"
	CategoryClassLoading      = "dynamic_classloading"
	CategoryFilesystemEscape  = "filesystem_escape"
	CategoryCredentialAccess  = "credential_access"
	CategoryDataCollection    = "data_collection"
	CategoryHTTPOperations    = "http_operations"
	CategoryBase64            = "base64"
	CategoryDiscordWebhook    = "discord_webhook"
	CategorySuspiciousURL     = "suspicious_url"
	CategoryIPLiteral         = "ip_literal"
	CategoryShellFragment     = "shell_fragment"
	CategoryC2Keyword         = "c2_keyword"
	CategorySuspiciousKeyword = "suspicious_keyword"
	CategoryRATSignature      = "rat_signature"
	CategoryLegitimateDomain  = "legitimate_domain"
	CategoryGameAPI           = "game_api"
	CategoryModMetadata       = "mod_metadata"
)

var knownCategories = map[string]bool{
	CategoryNetworkAPI: true, CategoryProcessExec: true, CategoryReflection: true,
	CategoryClassLoading: true, CategoryFilesystemEscape: true, CategoryCredentialAccess: true,
	CategoryDataCollection: true, CategoryHTTPOperations: true, CategoryBase64: true,
	CategoryDiscordWebhook: true, CategorySuspiciousURL: true, CategoryIPLiteral: true,
	CategoryShellFragment: true, CategoryC2Keyword: true, CategorySuspiciousKeyword: true,
	CategoryRATSignature: true, CategoryLegitimateDomain: true, CategoryGameAPI: true,
	CategoryModMetadata: true,
}

// CatalogEntry 单条模式
type CatalogEntry struct {
	ID         string      `yaml:"id" json:"id"`
	Pattern    string      `yaml:"pattern" json:"pattern"`
	Kind       PatternKind `yaml:"kind" json:"kind"`
	Category   string      `yaml:"category" json:"category"`
	Weight     float64     `yaml:"weight" json:"weight"`
	Scope      Scope       `yaml:"scope" json:"scope"`
	IgnoreCase bool        `yaml:"ignore_case" json:"ignore_case"`
}

// Catalog 版本化的模式目录
type Catalog struct {
	Version string         `yaml:"version" json:"version"`
	Entries []CatalogEntry `yaml:"entries" json:"entries"`
}

// LoadCatalog 读取 YAML 目录文件，未知字段视为错误
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	for i := range c.Entries {
		c.Entries[i].applyDefaults()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (e *CatalogEntry) applyDefaults() {
	if e.Kind == "" {
		e.Kind = KindLiteral
	}
	if e.Scope == "" {
		e.Scope = ScopeAll
	}
	if e.Weight == 0 {
		e.Weight = 1
	}
}

// Validate 校验目录内容
func (c *Catalog) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("catalog version is required")
	}
	seen := make(map[string]bool, len(c.Entries))
	for i, e := range c.Entries {
		if e.ID == "" {
			return fmt.Errorf("catalog entry %d: id is required", i)
		}
		if seen[e.ID] {
			return fmt.Errorf("catalog entry %s: duplicate id", e.ID)
		}
		seen[e.ID] = true
		if e.Pattern == "" {
			return fmt.Errorf("catalog entry %s: empty pattern", e.ID)
		}
		if !knownCategories[e.Category] {
			return fmt.Errorf("catalog entry %s: unknown category %q", e.ID, e.Category)
		}
		switch e.Scope {
		case ScopeSource, ScopeRaw, ScopeRefs, ScopePaths, ScopeAll:
		default:
			return fmt.Errorf("catalog entry %s: unknown scope %q", e.ID, e.Scope)
		}
		switch e.Kind {
		case KindLiteral:
		case KindRegex:
			if _, err := regexp.Compile(e.Pattern); err != nil {
				return fmt.Errorf("catalog entry %s: invalid regex: %w", e.ID, err)
			}
		default:
			return fmt.Errorf("catalog entry %s: unknown kind %q", e.ID, e.Kind)
		}
	}
	return nil
}

type compiledEntry struct {
	CatalogEntry
	re      *regexp.Regexp
	literal string
}

// Matcher 编译后的目录，只读，可在扫描间共享
type Matcher struct {
	version    string
	categories map[string][]compiledEntry
	order      []string // 分类在目录中首次出现的顺序
}

// Compile 编译目录中的所有模式
func Compile(c *Catalog) (*Matcher, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m := &Matcher{version: c.Version, categories: make(map[string][]compiledEntry)}
	for _, e := range c.Entries {
		ce := compiledEntry{CatalogEntry: e}
		if e.Kind == KindRegex {
			expr := e.Pattern
			if e.IgnoreCase {
				expr = "(?i)" + expr
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("catalog entry %s: %w", e.ID, err)
			}
			ce.re = re
		} else if e.IgnoreCase {
			ce.literal = strings.ToLower(e.Pattern)
		} else {
			ce.literal = e.Pattern
		}
		if _, ok := m.categories[e.Category]; !ok {
			m.order = append(m.order, e.Category)
		}
		m.categories[e.Category] = append(m.categories[e.Category], ce)
	}
	return m, nil
}

// Version 目录版本
func (m *Matcher) Version() string {
	return m.version
}

// HasCategory 判断分类是否至少有一条模式
func (m *Matcher) HasCategory(category string) bool {
	return len(m.categories[category]) > 0
}

// Score 计算分类在语料中的加权命中次数
func (m *Matcher) Score(category string, corpus *Corpus) float64 {
	total := 0.0
	for _, e := range m.categories[category] {
		switch e.Scope {
		case ScopeAll:
			total += e.Weight * float64(e.count(corpus, ScopeSource)+e.count(corpus, ScopeRaw))
		default:
			total += e.Weight * float64(e.count(corpus, e.Scope))
		}
	}
	return total
}

func (e compiledEntry) count(corpus *Corpus, scope Scope) int {
	if e.re != nil {
		return len(e.re.FindAllStringIndex(corpus.Text(scope), -1))
	}
	if e.IgnoreCase {
		return strings.Count(corpus.Lower(scope), e.literal)
	}
	return strings.Count(corpus.Text(scope), e.literal)
}
