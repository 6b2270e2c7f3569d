package features

import (
	"fmt"
	"testing"

	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseClasses(t *testing.T, a *archive.Archive) []*archive.ClassInfo {
	t.Helper()
	var infos []*archive.ClassInfo
	for _, e := range a.Classes() {
		info, err := archive.ParseClass(e.Data)
		require.NoError(t, err)
		infos = append(infos, info)
	}
	return infos
}

// TestExtract_Hits 测试命中证据带有条目路径与目录条目
func TestExtract_Hits(t *testing.T) {
	ext := newTestExtractor(t)

	res, err := ext.Extract(Input{Archive: maliciousJar(t), FileName: "mod.jar"})
	require.NoError(t, err)

	assert.Contains(t, res.Hits, Hit{
		Category:  CategoryDiscordWebhook,
		PatternID: "str.discordwebhook",
		Path:      "a/a.class",
		Match:     "https://discord.com/api/webhooks/123456/abc-DEF_1",
	})
	assert.Contains(t, res.Hits, Hit{
		Category:  CategoryRATSignature,
		PatternID: "rat.func111286b",
		Path:      "a/a.class",
		Match:     "func_111286_b",
	})
	for _, h := range res.Hits {
		assert.False(t, benignCategories[h.Category], "benign category %s reported", h.Category)
	}
}

// TestMatcher_HitsCappedAndOrdered 测试每个分类的命中数上限与归档顺序
func TestMatcher_HitsCappedAndOrdered(t *testing.T) {
	matcher, err := Compile(&Catalog{
		Version: "test-1",
		Entries: []CatalogEntry{
			litI("kw.token", CategorySuspiciousKeyword, ScopeRaw, "token"),
			lit("legit.github", CategoryLegitimateDomain, ScopeRaw, "github.com"),
			rx("ip.v4", CategoryIPLiteral, ScopeRaw, `\b\d{1,3}(\.\d{1,3}){3}\b`),
		},
	})
	require.NoError(t, err)

	var files []testutil.File
	for i := 0; i < 7; i++ {
		files = append(files, testutil.ClassFile(testutil.ClassSpec{
			Name:    fmt.Sprintf("c/C%d", i),
			Strings: []string{"read TOKEN from https://github.com/x"},
		}))
	}
	files = append(files, testutil.File{Name: "notes.txt", Data: []byte("token at 10.0.0.1")})
	arc := loadJar(t, files...)

	corpus := NewCorpus(arc, parseClasses(t, arc), nil)
	hits := matcher.Hits(corpus, MaxHitsPerCategory)

	var tokens []string
	var ips []Hit
	for _, h := range hits {
		switch h.Category {
		case CategorySuspiciousKeyword:
			tokens = append(tokens, h.Path)
		case CategoryIPLiteral:
			ips = append(ips, h)
		default:
			t.Fatalf("unexpected category %s", h.Category)
		}
	}
	assert.Equal(t, []string{"c/C0.class", "c/C1.class", "c/C2.class", "c/C3.class", "c/C4.class"}, tokens)
	require.Len(t, ips, 1)
	assert.Equal(t, Hit{Category: CategoryIPLiteral, PatternID: "ip.v4", Path: "notes.txt", Match: "10.0.0.1"}, ips[0])

	assert.Equal(t, hits, matcher.Hits(corpus, MaxHitsPerCategory))
}
