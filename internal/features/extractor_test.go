package features

import (
	"io"
	"math"
	"testing"

	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/obfuscation"
	"github.com/jar-analysis/jar-analysis-go/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	matcher, err := Compile(BuiltinCatalog())
	require.NoError(t, err)
	ext, err := NewExtractor(DefaultSchema(), matcher, obfuscation.NewDetector(testLogger()), testLogger())
	require.NoError(t, err)
	return ext
}

func loadJar(t *testing.T, files ...testutil.File) *archive.Archive {
	t.Helper()
	a, err := archive.Load(testutil.BuildJar(t, files...), archive.LoaderOptions{})
	require.NoError(t, err)
	return a
}

func maliciousJar(t *testing.T) *archive.Archive {
	return loadJar(t,
		testutil.Manifest("Manifest-Version", "1.0"),
		testutil.ClassFile(testutil.ClassSpec{
			Name: "a/a",
			Strings: []string{
				"https://discord.com/api/webhooks/123456/abc-DEF_1",
				"APPDATA",
				"func_111286_b",
				"launcher_accounts.json",
			},
			MemberRefs: []string{"net/minecraft/client/Minecraft.getSession"},
			Methods:    []string{"a", "b"},
		}),
		testutil.File{Name: "config.dat", Data: []byte{0, 1, 2, 3}},
	)
}

func value(t *testing.T, v *Vector, name string) float64 {
	t.Helper()
	x, ok := v.Get(name)
	require.True(t, ok, "feature %s missing", name)
	return x
}

// TestExtract_FixedShape 测试向量长度与模式一致
func TestExtract_FixedShape(t *testing.T) {
	ext := newTestExtractor(t)

	res, err := ext.Extract(Input{Archive: maliciousJar(t), FileName: "mod.jar"})
	require.NoError(t, err)

	schema := DefaultSchema()
	assert.Equal(t, SchemaVersion, res.Vector.SchemaVersion)
	assert.Equal(t, schema.Names(), res.Vector.Names)
	assert.Len(t, res.Vector.Values, len(schema.Features))
	assert.NoError(t, res.Vector.Validate())
}

// TestExtract_StringPatterns 测试常量池字符串模式
func TestExtract_StringPatterns(t *testing.T) {
	ext := newTestExtractor(t)

	res, err := ext.Extract(Input{Archive: maliciousJar(t), FileName: "mod.jar"})
	require.NoError(t, err)
	v := res.Vector

	assert.Equal(t, 1.0, value(t, v, FeatDiscordWebhook))
	assert.Equal(t, 1.0, value(t, v, FeatRATSignatures))
	assert.Equal(t, 1.0, value(t, v, FeatHasDatFile))
	assert.GreaterOrEqual(t, value(t, v, FeatFilesystemEscape), 1.0)
	assert.GreaterOrEqual(t, value(t, v, FeatCredentialAccess), 1.0)
	// "discord" 与 "webhook" 均出现在 webhook URL 中
	assert.GreaterOrEqual(t, value(t, v, FeatSuspiciousKeywords), 2.0)
	// 类引用与成员引用各一次
	assert.Equal(t, 2.0, value(t, v, FeatMinecraftAPIUsage))
	assert.Equal(t, 0.0, value(t, v, FeatManifestMissing))
	assert.Equal(t, 1.0, value(t, v, FeatNumClassFiles))
	assert.Equal(t, 1.0, value(t, v, FeatShortClassNamesRatio))
}

// TestExtract_APIFeaturesNeedSource 测试 API 特征只来自反编译源码
func TestExtract_APIFeaturesNeedSource(t *testing.T) {
	ext := newTestExtractor(t)
	a := maliciousJar(t)

	failed := []decompiler.Result{{ClassPath: "a/a.class", Status: decompiler.StatusFailed}}
	res, err := ext.Extract(Input{Archive: a, FileName: "mod.jar", Results: failed})
	require.NoError(t, err)
	assert.Equal(t, 0.0, value(t, res.Vector, FeatNetworkAPICalls))
	assert.Equal(t, 0.0, value(t, res.Vector, FeatDecompileSuccessRatio))
	assert.Equal(t, 1, res.Summary.Failed)

	source := `URL u = new URL("https://x"); HttpURLConnection c = (HttpURLConnection) u.openConnection();
c.setRequestMethod("POST"); c.setDoOutput(true); Runtime.getRuntime().exec("cmd.exe /c whoami");`
	ok := []decompiler.Result{{ClassPath: "a/a.class", Status: decompiler.StatusSucceeded, Source: source}}
	res, err = ext.Extract(Input{Archive: a, FileName: "mod.jar", Results: ok})
	require.NoError(t, err)
	assert.Equal(t, 2.0, value(t, res.Vector, FeatNetworkAPICalls))
	assert.Equal(t, 1.0, value(t, res.Vector, FeatProcessExecCalls))
	assert.Equal(t, 3.0, value(t, res.Vector, FeatHTTPOperations))
	assert.Equal(t, 1.0, value(t, res.Vector, FeatDecompileSuccessRatio))
	assert.InDelta(t, 2.0/3.0, value(t, res.Vector, FeatNetworkToGameRatio), 1e-9)
}

// TestExtract_Deterministic 测试相同输入得到相同向量
func TestExtract_Deterministic(t *testing.T) {
	ext := newTestExtractor(t)
	a := maliciousJar(t)
	results := []decompiler.Result{{ClassPath: "a/a.class", Status: decompiler.StatusSucceeded, Source: "Class.forName(\"x\")"}}

	first, err := ext.Extract(Input{Archive: a, FileName: "mod.jar", Results: results})
	require.NoError(t, err)
	second, err := ext.Extract(Input{Archive: a, FileName: "mod.jar", Results: results})
	require.NoError(t, err)

	assert.Equal(t, first.Vector.Values, second.Vector.Values)
}

// TestExtract_LegitimateMod 测试合法模组的信号
func TestExtract_LegitimateMod(t *testing.T) {
	ext := newTestExtractor(t)
	a := loadJar(t,
		testutil.Manifest("Manifest-Version", "1.0", "Created-By", "Gradle"),
		testutil.File{Name: "fabric.mod.json", Data: []byte(`{"id":"coolmod","contact":{"homepage":"https://modrinth.com/mod/coolmod"}}`)},
		testutil.ClassFile(testutil.ClassSpec{
			Name:       "com/example/coolmod/CoolMod",
			Super:      "net/fabricmc/api/ModInitializer",
			MemberRefs: []string{"net/minecraft/item/Item.getName"},
			Methods:    []string{"onInitialize"},
		}),
	)

	res, err := ext.Extract(Input{Archive: a, FileName: "coolmod-1.0.jar"})
	require.NoError(t, err)

	signals := LegitimacySignals(res.Vector)
	assert.True(t, signals.HasModMetadata)
	assert.GreaterOrEqual(t, signals.GameAPIUsage, 2.0)
	assert.Equal(t, 1.0, signals.LegitimateConnections)
	assert.Zero(t, signals.DiscordWebhooks)
	assert.Equal(t, 0.0, value(t, res.Vector, FeatManifestAnomalies))
	assert.False(t, res.Obfuscation.Detected)
}

// TestExtract_MalformedClass 测试损坏类文件只影响计数
func TestExtract_MalformedClass(t *testing.T) {
	ext := newTestExtractor(t)
	a := loadJar(t,
		testutil.File{Name: "broken/X.class", Data: []byte("not bytecode")},
		testutil.ClassFile(testutil.ClassSpec{Name: "ok/Fine", Methods: []string{"run"}}),
	)

	res, err := ext.Extract(Input{Archive: a, FileName: "x.jar"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Malformed)
	assert.Equal(t, 1.0, value(t, res.Vector, FeatUnreadableEntries))
	assert.Equal(t, 1.0, value(t, res.Vector, FeatTotalClasses))
	assert.Equal(t, 2.0, value(t, res.Vector, FeatNumClassFiles))
	assert.Equal(t, 1.0, value(t, res.Vector, FeatManifestMissing))
}

// TestExtract_EmptyArchive 测试无条目时比例特征取默认值
func TestExtract_EmptyArchive(t *testing.T) {
	ext := newTestExtractor(t)
	a := &archive.Archive{Size: 22}

	res, err := ext.Extract(Input{Archive: a, FileName: ""})
	require.NoError(t, err)

	assert.Equal(t, 0.0, value(t, res.Vector, FeatClassToTotalRatio))
	assert.Equal(t, 0.0, value(t, res.Vector, FeatEntropyScore))
	assert.Equal(t, 1.0, value(t, res.Vector, FeatDecompileSuccessRatio))
	assert.NoError(t, res.Vector.Validate())
}

// TestCompute_FallsBackToDefault 测试单个特征 panic 或非有限值时取默认值
func TestCompute_FallsBackToDefault(t *testing.T) {
	ext := newTestExtractor(t)
	spec := FeatureSpec{Name: "x", Default: 7}

	assert.Equal(t, 7.0, ext.compute(spec, func(*scanState) (float64, error) { panic("boom") }, &scanState{}))
	assert.Equal(t, 7.0, ext.compute(spec, func(*scanState) (float64, error) { return math.NaN(), nil }, &scanState{}))
	assert.Equal(t, 7.0, ext.compute(spec, func(*scanState) (float64, error) { return math.Inf(1), nil }, &scanState{}))
	assert.Equal(t, 7.0, ext.compute(spec, func(*scanState) (float64, error) { return 0, errNoData }, &scanState{}))
	assert.Equal(t, 3.0, ext.compute(spec, func(*scanState) (float64, error) { return 3, nil }, &scanState{}))
}

// TestNewExtractor_Validation 测试模式与目录不一致时启动失败
func TestNewExtractor_Validation(t *testing.T) {
	matcher, err := Compile(BuiltinCatalog())
	require.NoError(t, err)
	detector := obfuscation.NewDetector(testLogger())

	unknown := Schema{Version: "test", Features: []FeatureSpec{{Name: "does_not_exist"}}}
	_, err = NewExtractor(unknown, matcher, detector, testLogger())
	assert.Error(t, err)

	dup := Schema{Version: "test", Features: []FeatureSpec{{Name: FeatNumClassFiles}, {Name: FeatNumClassFiles}}}
	_, err = NewExtractor(dup, matcher, detector, testLogger())
	assert.Error(t, err)

	sparse, err := Compile(&Catalog{Version: "sparse", Entries: []CatalogEntry{
		{ID: "only", Pattern: "x", Kind: KindLiteral, Category: CategoryBase64, Scope: ScopeAll, Weight: 1},
	}})
	require.NoError(t, err)
	_, err = NewExtractor(DefaultSchema(), sparse, detector, testLogger())
	assert.Error(t, err)
}
