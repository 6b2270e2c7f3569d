package features

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestBuiltinCatalog_Valid 测试内置目录可编译
func TestBuiltinCatalog_Valid(t *testing.T) {
	c := BuiltinCatalog()
	require.NoError(t, c.Validate())

	m, err := Compile(c)
	require.NoError(t, err)
	assert.Equal(t, BuiltinCatalogVersion, m.Version())
	for category := range knownCategories {
		assert.True(t, m.HasCategory(category), "category %s has no builtin patterns", category)
	}
}

// TestLoadCatalog 测试从 YAML 加载并应用默认值
func TestLoadCatalog(t *testing.T) {
	path := writeCatalog(t, `
version: custom-1
entries:
  - id: kw.token
    pattern: token
    category: suspicious_keyword
    ignore_case: true
  - id: hook
    pattern: 'hooks/[0-9]+'
    kind: regex
    category: discord_webhook
    weight: 2
    scope: raw
`)

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	assert.Equal(t, "custom-1", c.Version)
	require.Len(t, c.Entries, 2)
	assert.Equal(t, KindLiteral, c.Entries[0].Kind)
	assert.Equal(t, ScopeAll, c.Entries[0].Scope)
	assert.Equal(t, 1.0, c.Entries[0].Weight)
	assert.Equal(t, 2.0, c.Entries[1].Weight)
}

// TestLoadCatalog_Invalid 测试非法目录在加载时失败
func TestLoadCatalog_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad regex":        "version: v\nentries:\n  - {id: a, pattern: '([', kind: regex, category: base64}\n",
		"unknown category": "version: v\nentries:\n  - {id: a, pattern: x, category: nope}\n",
		"unknown field":    "version: v\nentries:\n  - {id: a, pattern: x, category: base64, colour: red}\n",
		"missing version":  "entries:\n  - {id: a, pattern: x, category: base64}\n",
		"duplicate id":     "version: v\nentries:\n  - {id: a, pattern: x, category: base64}\n  - {id: a, pattern: y, category: base64}\n",
		"empty pattern":    "version: v\nentries:\n  - {id: a, pattern: '', category: base64}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadCatalog(writeCatalog(t, body))
			assert.Error(t, err)
		})
	}
}

// TestMatcher_Score 测试作用范围与权重
func TestMatcher_Score(t *testing.T) {
	m, err := Compile(&Catalog{Version: "t", Entries: []CatalogEntry{
		{ID: "src", Pattern: "exec(", Kind: KindLiteral, Category: CategoryProcessExec, Scope: ScopeSource, Weight: 1},
		{ID: "any", Pattern: "TOKEN", Kind: KindLiteral, Category: CategorySuspiciousKeyword, Scope: ScopeAll, Weight: 0.5, IgnoreCase: true},
		{ID: "ip", Pattern: `\d+\.\d+\.\d+\.\d+`, Kind: KindRegex, Category: CategoryIPLiteral, Scope: ScopeRaw, Weight: 1},
	}})
	require.NoError(t, err)

	corpus := &Corpus{
		texts: map[Scope]string{
			ScopeSource: "exec( exec( token",
			ScopeRaw:    "Token 10.0.0.1 exec(",
		},
		lower: map[Scope]string{},
	}

	assert.Equal(t, 2.0, m.Score(CategoryProcessExec, corpus))
	assert.Equal(t, 1.0, m.Score(CategorySuspiciousKeyword, corpus))
	assert.Equal(t, 1.0, m.Score(CategoryIPLiteral, corpus))
	assert.Equal(t, 0.0, m.Score(CategoryBase64, corpus))
}
