package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/classifier"
	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/decompiler"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/features"
	"github.com/jar-analysis/jar-analysis-go/internal/obfuscation"
	"github.com/jar-analysis/jar-analysis-go/internal/policy"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/jar-analysis/jar-analysis-go/internal/testutil"
	"github.com/jar-analysis/jar-analysis-go/internal/threatintel"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// stubDecompiler 所有类都成功（或都失败）
type stubDecompiler struct {
	fail bool
}

func (d stubDecompiler) Version() string { return "stub-1" }

func (d stubDecompiler) Decompile(ctx context.Context, classPath string, data []byte) decompiler.Result {
	if d.fail {
		return decompiler.Result{ClassPath: classPath, Status: decompiler.StatusFailed, Reason: "unsupported class version"}
	}
	return decompiler.Result{ClassPath: classPath, Status: decompiler.StatusSucceeded, Source: "public class X {}"}
}

// blockingDecompiler 阻塞到调用方取消
type blockingDecompiler struct{}

func (blockingDecompiler) Version() string { return "blocking-1" }

func (blockingDecompiler) Decompile(ctx context.Context, classPath string, data []byte) decompiler.Result {
	<-ctx.Done()
	return decompiler.Result{ClassPath: classPath, Status: decompiler.StatusTimedOut, Reason: ctx.Err().Error()}
}

// slowDecompiler 路径包含 Slow 的类超时，其余成功
type slowDecompiler struct{}

func (slowDecompiler) Version() string { return "slow-1" }

func (slowDecompiler) Decompile(ctx context.Context, classPath string, data []byte) decompiler.Result {
	if strings.Contains(classPath, "Slow") {
		return decompiler.Result{ClassPath: classPath, Status: decompiler.StatusTimedOut, Reason: "per-class timeout"}
	}
	return decompiler.Result{ClassPath: classPath, Status: decompiler.StatusSucceeded, Source: "public class X {}"}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// webhookModel 只看 discord_webhook 特征的逻辑回归
func webhookModel(t *testing.T, schemaVersion string) *classifier.Model {
	t.Helper()
	schema := features.DefaultSchema()
	weights := make([]float64, len(schema.Features))
	weights[schema.Index(features.FeatDiscordWebhook)] = 10

	data, err := json.Marshal(classifier.Artifact{
		ModelVersion:  "test-webhook-1",
		SchemaVersion: schemaVersion,
		FeatureNames:  schema.Names(),
		Kind:          classifier.KindLogistic,
		Logistic:      &classifier.Logistic{Weights: weights, Intercept: -5},
	})
	require.NoError(t, err)
	m, err := classifier.Parse(data)
	require.NoError(t, err)
	return m
}

type fixture struct {
	svc      ScanService
	recorder *Recorder
}

// constantModel 忽略特征、输出固定概率的逻辑回归
func constantModel(t *testing.T, probability float64) *classifier.Model {
	t.Helper()
	schema := features.DefaultSchema()
	data, err := json.Marshal(classifier.Artifact{
		ModelVersion:  "test-constant-1",
		SchemaVersion: schema.Version,
		FeatureNames:  schema.Names(),
		Kind:          classifier.KindLogistic,
		Logistic:      &classifier.Logistic{Weights: make([]float64, len(schema.Features)), Intercept: math.Log(probability / (1 - probability))},
	})
	require.NoError(t, err)
	m, err := classifier.Parse(data)
	require.NoError(t, err)
	return m
}

func newFixture(t *testing.T, scans repository.ScanRepository, threats repository.ThreatRepository, dec decompiler.Decompiler) *fixture {
	t.Helper()
	return newModelFixture(t, scans, threats, dec, webhookModel(t, features.SchemaVersion))
}

func newModelFixture(t *testing.T, scans repository.ScanRepository, threats repository.ThreatRepository, dec decompiler.Decompiler, model *classifier.Model) *fixture {
	t.Helper()
	logger := testLogger()

	matcher, err := features.Compile(features.BuiltinCatalog())
	require.NoError(t, err)
	extractor, err := features.NewExtractor(features.DefaultSchema(), matcher, obfuscation.NewDetector(logger), logger)
	require.NoError(t, err)

	pol, err := policy.New(policy.Config{
		LowThreshold:             0.3,
		HighThreshold:            0.7,
		FailedConfidence:         0.2,
		LegitimacyOverride:       true,
		LegitimacyMaxProbability: 0.98,
	})
	require.NoError(t, err)

	intel := threatintel.NewService(threats, 0.95, 0.95, logger)
	recorder := NewRecorder(scans, intel, config.RecorderConfig{QueueSize: 16, MaxRetries: 2, RetryDelay: 1}, nil, logger)
	t.Cleanup(func() { recorder.Stop(context.Background()) })

	svc, err := NewScanService(Dependencies{
		Runner:          decompiler.NewRunner(dec, 2, 0, logger),
		Extractor:       extractor,
		Model:           model,
		Policy:          pol,
		Threats:         intel,
		Scans:           scans,
		Threat:          threats,
		Recorder:        recorder,
		PartialFraction: 0.1,
	}, logger)
	require.NoError(t, err)

	return &fixture{svc: svc, recorder: recorder}
}

func newSQLiteFixture(t *testing.T, dec decompiler.Decompiler) (*fixture, repository.ScanRepository) {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{Type: "sqlite", Path: ":memory:"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	scans := repository.NewScanRepository(db)
	return newFixture(t, scans, repository.NewThreatRepository(db), dec), scans
}

func (f *fixture) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.recorder.Flush(ctx))
}

func benignJar(t *testing.T) []byte {
	return testutil.BuildJar(t,
		testutil.Manifest("Manifest-Version", "1.0", "Created-By", "Gradle"),
		testutil.ClassFile(testutil.ClassSpec{Name: "com/example/util/StringHelper", Strings: []string{"hello world"}, Methods: []string{"capitalize", "reverse"}}),
		testutil.ClassFile(testutil.ClassSpec{Name: "com/example/util/MathHelper", Methods: []string{"clamp"}}),
	)
}

func webhookJar(t *testing.T) []byte {
	return testutil.BuildJar(t,
		testutil.Manifest("Manifest-Version", "1.0"),
		testutil.ClassFile(testutil.ClassSpec{Name: "a/a", Strings: []string{"https://discord.com/api/webhooks/123456/abc-DEF_1"}}),
	)
}

// TestSubmit_SafeArchive 测试无可疑特征的归档判定为安全并持久化
func TestSubmit_SafeArchive(t *testing.T) {
	f, _ := newSQLiteFixture(t, stubDecompiler{})
	ctx := context.Background()

	result, err := f.svc.Submit(ctx, benignJar(t), "helper.jar")
	require.NoError(t, err)

	assert.Equal(t, domain.VerdictSafe, result.Verdict)
	assert.Equal(t, "full", result.Quality)
	assert.Less(t, result.Probability, 0.3)
	assert.Equal(t, 2, result.ClassCount)
	assert.Equal(t, 2, result.DecompiledCount)
	assert.Equal(t, features.SchemaVersion, result.SchemaVersion)
	assert.Equal(t, "stub-1", result.DecompilerVersion)
	assert.NotEmpty(t, result.Features)

	f.flush(t)
	stored, err := f.svc.GetScan(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ArchiveHash, stored.ArchiveHash)
	assert.Equal(t, domain.VerdictSafe, stored.Verdict)
}

// TestSubmit_RecordsSubmitter 测试提交方信息随结果保存
func TestSubmit_RecordsSubmitter(t *testing.T) {
	f, _ := newSQLiteFixture(t, stubDecompiler{})
	ctx := WithSubmitter(context.Background(), Submitter{ClientIP: "198.51.100.7", UserAgent: strings.Repeat("a", 300)})

	result, err := f.svc.Submit(ctx, benignJar(t), "helper.jar")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", result.ClientIP)
	assert.Len(t, result.UserAgent, 255)

	f.flush(t)
	stored, err := f.svc.GetScan(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", stored.ClientIP)

	// 无提交方信息时为空
	result, err = f.svc.Submit(context.Background(), benignJar(t), "helper.jar")
	require.NoError(t, err)
	assert.Empty(t, result.ClientIP)
}

// TestSubmit_Deterministic 测试相同输入得到相同特征与判定
func TestSubmit_Deterministic(t *testing.T) {
	f, _ := newSQLiteFixture(t, stubDecompiler{})
	data := benignJar(t)

	first, err := f.svc.Submit(context.Background(), data, "x.jar")
	require.NoError(t, err)
	f.flush(t)
	second, err := f.svc.Submit(context.Background(), data, "x.jar")
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.JSONEq(t, string(first.Features), string(second.Features))
	assert.Equal(t, first.Verdict, second.Verdict)
	assert.Equal(t, first.Probability, second.Probability)
}

// TestSubmit_KnownMaliciousShortCircuit 测试高置信恶意样本再次提交时短路
func TestSubmit_KnownMaliciousShortCircuit(t *testing.T) {
	f, _ := newSQLiteFixture(t, stubDecompiler{})
	ctx := context.Background()
	data := webhookJar(t)

	first, err := f.svc.Submit(ctx, data, "stealer.jar")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictMalicious, first.Verdict)
	assert.False(t, first.ShortCircuited)
	assert.GreaterOrEqual(t, first.Confidence, 0.95)
	assert.Contains(t, string(first.Indicators), `"pattern_id":"str.discordwebhook"`)
	assert.Contains(t, string(first.Indicators), `"path":"a/a.class"`)

	f.flush(t)

	stored, err := f.svc.GetScan(ctx, first.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(first.Indicators), string(stored.Indicators))

	record, err := f.svc.GetThreat(ctx, first.ArchiveHash)
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictMalicious, record.Verdict)

	second, err := f.svc.Submit(ctx, data, "stealer-copy.jar")
	require.NoError(t, err)
	assert.True(t, second.ShortCircuited)
	assert.Equal(t, domain.VerdictMalicious, second.Verdict)
	assert.InDelta(t, first.Confidence, second.Confidence, 1e-9)
	assert.Zero(t, second.Probability)
	assert.Empty(t, second.Features)
	assert.Equal(t, 0, second.DecompiledCount)
}

// TestSubmit_RecordedMaliciousShortCircuits 测试写入的恶意记录在再次提交时短路
func TestSubmit_RecordedMaliciousShortCircuits(t *testing.T) {
	ctx := context.Background()
	data := webhookJar(t)

	tests := []struct {
		name        string
		probability float64
		recorded    bool
	}{
		{name: "below short circuit confidence", probability: 0.95, recorded: false},
		{name: "above short circuit confidence", probability: 0.995, recorded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := repository.InitDB(&config.DatabaseConfig{Type: "sqlite", Path: ":memory:"}, testLogger())
			require.NoError(t, err)
			t.Cleanup(func() {
				if sqlDB, err := db.DB(); err == nil {
					sqlDB.Close()
				}
			})
			f := newModelFixture(t, repository.NewScanRepository(db), repository.NewThreatRepository(db), stubDecompiler{}, constantModel(t, tt.probability))

			first, err := f.svc.Submit(ctx, data, "stealer.jar")
			require.NoError(t, err)
			assert.Equal(t, domain.VerdictMalicious, first.Verdict)
			f.flush(t)

			_, err = f.svc.GetThreat(ctx, first.ArchiveHash)
			if !tt.recorded {
				assert.ErrorIs(t, err, repository.ErrNotFound)
			} else {
				require.NoError(t, err)
			}

			second, err := f.svc.Submit(ctx, data, "stealer.jar")
			require.NoError(t, err)
			assert.Equal(t, tt.recorded, second.ShortCircuited)
			assert.Equal(t, domain.VerdictMalicious, second.Verdict)
		})
	}
}

// TestSubmit_OverrideStopsShortCircuit 测试人工覆盖后不再短路
func TestSubmit_OverrideStopsShortCircuit(t *testing.T) {
	f, _ := newSQLiteFixture(t, stubDecompiler{})
	ctx := context.Background()
	data := webhookJar(t)

	first, err := f.svc.Submit(ctx, data, "tool.jar")
	require.NoError(t, err)
	f.flush(t)

	_, err = f.svc.OverrideThreat(ctx, first.ArchiveHash, domain.VerdictSafe, 1, true)
	require.NoError(t, err)

	second, err := f.svc.Submit(ctx, data, "tool.jar")
	require.NoError(t, err)
	assert.False(t, second.ShortCircuited)

	_, err = f.svc.OverrideThreat(ctx, first.ArchiveHash, domain.Verdict("bogus"), 1, true)
	assert.ErrorIs(t, err, threatintel.ErrInvalidOverride)
}

// TestSubmit_InvalidArchive 测试损坏归档中止扫描并记录失败
func TestSubmit_InvalidArchive(t *testing.T) {
	f, scans := newSQLiteFixture(t, stubDecompiler{})
	ctx := context.Background()

	result, err := f.svc.Submit(ctx, []byte("PK\x03\x04 definitely not a zip"), "broken.jar")
	assert.ErrorIs(t, err, archive.ErrInvalidArchive)
	assert.Nil(t, result)

	f.flush(t)
	failures, err := scans.CountFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failures)

	_, total, err := scans.CountByVerdict(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
}

// TestSubmit_AllDecompilationFailed 测试全部反编译失败时判定为低置信可疑
func TestSubmit_AllDecompilationFailed(t *testing.T) {
	f, _ := newSQLiteFixture(t, stubDecompiler{fail: true})

	result, err := f.svc.Submit(context.Background(), webhookJar(t), "obf.jar")
	require.NoError(t, err)

	assert.Equal(t, "failed", result.Quality)
	assert.Equal(t, domain.VerdictSuspicious, result.Verdict)
	assert.Equal(t, 0.2, result.Confidence)
	assert.Equal(t, 1, result.FailedCount)
}

// TestSubmit_PartialQuality 测试 10 个类中 3 个超时时仍由分类器评分，质量为 partial
func TestSubmit_PartialQuality(t *testing.T) {
	f, _ := newSQLiteFixture(t, slowDecompiler{})

	files := []testutil.File{testutil.Manifest("Manifest-Version", "1.0")}
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf("com/example/Fast%d", i)
		if i < 3 {
			name = fmt.Sprintf("com/example/Slow%d", i)
		}
		files = append(files, testutil.ClassFile(testutil.ClassSpec{Name: name, Methods: []string{"run"}}))
	}

	result, err := f.svc.Submit(context.Background(), testutil.BuildJar(t, files...), "partial.jar")
	require.NoError(t, err)

	assert.Equal(t, "partial", result.Quality)
	assert.Equal(t, 10, result.ClassCount)
	assert.Equal(t, 7, result.DecompiledCount)
	assert.Equal(t, 3, result.TimedOutCount)
	assert.Equal(t, 0, result.FailedCount)
	assert.False(t, result.ShortCircuited)
	assert.Equal(t, domain.VerdictSafe, result.Verdict)
	assert.Greater(t, result.Probability, 0.0)
	assert.NotEmpty(t, result.Features)
	assert.NotEqual(t, policy.ReasonExtractionFailed, result.Reason)
}

// TestSubmit_CallerCanceled 测试调用方取消时不产生扫描结果
func TestSubmit_CallerCanceled(t *testing.T) {
	f, scans := newSQLiteFixture(t, blockingDecompiler{})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	data := testutil.BuildJar(t,
		testutil.ClassFile(testutil.ClassSpec{Name: "a/A"}),
		testutil.ClassFile(testutil.ClassSpec{Name: "a/B"}),
	)
	result, err := f.svc.Submit(ctx, data, "slow.jar")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)

	f.flush(t)
	_, total, err := scans.CountByVerdict(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	failures, err := scans.CountFailures(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), failures)
}

// TestNewScanService_SchemaMismatch 测试模型与特征模式不一致时启动失败
func TestNewScanService_SchemaMismatch(t *testing.T) {
	logger := testLogger()
	matcher, err := features.Compile(features.BuiltinCatalog())
	require.NoError(t, err)
	extractor, err := features.NewExtractor(features.DefaultSchema(), matcher, obfuscation.NewDetector(logger), logger)
	require.NoError(t, err)
	pol, err := policy.New(policy.Config{LowThreshold: 0.3, HighThreshold: 0.7})
	require.NoError(t, err)

	scans := new(MockScanRepository)
	threats := new(MockThreatRepository)
	intel := threatintel.NewService(threats, 0.95, 0.9, logger)
	recorder := NewRecorder(scans, intel, config.RecorderConfig{}, nil, logger)
	defer recorder.Stop(context.Background())

	_, err = NewScanService(Dependencies{
		Runner:    decompiler.NewRunner(stubDecompiler{}, 1, 0, logger),
		Extractor: extractor,
		Model:     webhookModel(t, "jar-features/v0"),
		Policy:    pol,
		Threats:   intel,
		Scans:     scans,
		Recorder:  recorder,
	}, logger)
	assert.ErrorIs(t, err, classifier.ErrSchemaMismatch)
}

// TestSubmit_StoreUnavailable 测试存储故障不影响扫描返回
func TestSubmit_StoreUnavailable(t *testing.T) {
	scans := new(MockScanRepository)
	threats := new(MockThreatRepository)

	threats.On("FindByHash", mock.Anything, mock.Anything).Return(nil, repository.ErrStoreUnavailable)
	threats.On("Upsert", mock.Anything, mock.Anything, false).Return(nil, repository.ErrStoreUnavailable)
	scans.On("Create", mock.Anything, mock.Anything).Return(repository.ErrStoreUnavailable)

	f := newFixture(t, scans, threats, stubDecompiler{})

	result, err := f.svc.Submit(context.Background(), benignJar(t), "helper.jar")
	require.NoError(t, err)
	assert.Equal(t, domain.VerdictSafe, result.Verdict)

	f.flush(t)
	scans.AssertNumberOfCalls(t, "Create", 2)
	threats.AssertNumberOfCalls(t, "Upsert", 2)
}

// TestGetHistory 测试历史查询与非法区间
func TestGetHistory(t *testing.T) {
	f, _ := newSQLiteFixture(t, stubDecompiler{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, benignJar(t), "a.jar")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, webhookJar(t), "b.jar")
	require.NoError(t, err)
	f.flush(t)

	results, total, err := f.svc.GetHistory(ctx, HistoryQuery{From: time.Now().Add(-time.Hour), Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, results, 2)

	_, _, err = f.svc.GetHistory(ctx, HistoryQuery{From: time.Now(), To: time.Now().Add(-time.Hour)})
	assert.Error(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByVerdict[domain.VerdictSafe])
	assert.Equal(t, int64(1), stats.ByVerdict[domain.VerdictMalicious])
	assert.Equal(t, int64(0), stats.ByVerdict[domain.VerdictSuspicious])
	assert.Equal(t, int64(2), stats.ActiveThreats)

	threats, threatTotal, err := f.svc.ListThreats(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), threatTotal)
	assert.Len(t, threats, 2)

	latest, err := f.svc.GetLatestByHash(ctx, archive.Digest(webhookJar(t)))
	require.NoError(t, err)
	assert.Equal(t, "b.jar", latest.FileName)

	_, err = f.svc.GetLatestByHash(ctx, "0000")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// TestExportFeatures 测试训练数据导出
func TestExportFeatures(t *testing.T) {
	f, _ := newSQLiteFixture(t, stubDecompiler{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, benignJar(t), "a.jar")
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, webhookJar(t), "b.jar")
	require.NoError(t, err)
	f.flush(t)

	var buf bytes.Buffer
	rows, err := f.svc.ExportFeatures(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	header := records[0]
	assert.Equal(t, "scan_id", header[0])
	assert.Equal(t, "label", header[len(header)-1])
	assert.Len(t, header, 3+len(features.DefaultSchema().Features)+1)

	labels := map[string]string{}
	for _, rec := range records[1:] {
		labels[rec[2]] = rec[len(rec)-1]
	}
	assert.Equal(t, map[string]string{"a.jar": "0", "b.jar": "1"}, labels)
}

// TestExportFeatures_FormulaFileName 测试导出时文件名不会被当作表格公式
func TestExportFeatures_FormulaFileName(t *testing.T) {
	f, _ := newSQLiteFixture(t, stubDecompiler{})
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, benignJar(t), `=HYPERLINK("http://evil","x").jar`)
	require.NoError(t, err)
	f.flush(t)

	var buf bytes.Buffer
	rows, err := f.svc.ExportFeatures(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour), &buf)
	require.NoError(t, err)
	require.Equal(t, 1, rows)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, `'=HYPERLINK("http://evil","x").jar`, records[1][2])
}

func TestCSVText(t *testing.T) {
	assert.Equal(t, "mod.jar", csvText("mod.jar"))
	assert.Equal(t, "'+cmd.jar", csvText("+cmd.jar"))
	assert.Equal(t, "'-x.jar", csvText("-x.jar"))
	assert.Equal(t, "'@SUM(A1).jar", csvText("@SUM(A1).jar"))
	assert.Equal(t, "", csvText(""))
}

// MockScanRepository Mock Repository
type MockScanRepository struct {
	mock.Mock
}

func (m *MockScanRepository) Create(ctx context.Context, result *domain.ScanResult) error {
	return m.Called(ctx, result).Error(0)
}

func (m *MockScanRepository) FindByID(ctx context.Context, id string) (*domain.ScanResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScanResult), args.Error(1)
}

func (m *MockScanRepository) FindLatestByHash(ctx context.Context, hash string) (*domain.ScanResult, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScanResult), args.Error(1)
}

func (m *MockScanRepository) ListByTimeRange(ctx context.Context, from, to time.Time, page, pageSize int) ([]*domain.ScanResult, int64, error) {
	args := m.Called(ctx, from, to, page, pageSize)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.ScanResult), args.Get(1).(int64), args.Error(2)
}

func (m *MockScanRepository) Each(ctx context.Context, from, to time.Time, fn func(*domain.ScanResult) error) error {
	return m.Called(ctx, from, to, fn).Error(0)
}

func (m *MockScanRepository) CountByVerdict(ctx context.Context) (map[domain.Verdict]int64, int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(map[domain.Verdict]int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockScanRepository) CreateFailure(ctx context.Context, failure *domain.ScanFailure) error {
	return m.Called(ctx, failure).Error(0)
}

func (m *MockScanRepository) CountFailures(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockThreatRepository Mock Repository
type MockThreatRepository struct {
	mock.Mock
}

func (m *MockThreatRepository) FindByHash(ctx context.Context, hash string) (*domain.ThreatRecord, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ThreatRecord), args.Error(1)
}

func (m *MockThreatRepository) Upsert(ctx context.Context, incoming domain.ThreatRecord, override bool) (*domain.ThreatRecord, error) {
	args := m.Called(ctx, incoming, override)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ThreatRecord), args.Error(1)
}

func (m *MockThreatRepository) List(ctx context.Context, page, pageSize int) ([]*domain.ThreatRecord, int64, error) {
	args := m.Called(ctx, page, pageSize)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]*domain.ThreatRecord), args.Get(1).(int64), args.Error(2)
}

func (m *MockThreatRepository) CountActive(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
