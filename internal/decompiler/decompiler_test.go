package decompiler

import (
	"context"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// fakeDecompiler 按类名决定结果
type fakeDecompiler struct {
	delay    time.Duration
	calls    int32
	inFlight int32
	maxSeen  int32
}

func (f *fakeDecompiler) Version() string { return "fake-1" }

func (f *fakeDecompiler) Decompile(ctx context.Context, classPath string, data []byte) Result {
	atomic.AddInt32(&f.calls, 1)
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		seen := atomic.LoadInt32(&f.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&f.maxSeen, seen, n) {
			break
		}
	}

	if strings.Contains(classPath, "Panic") {
		panic("boom")
	}
	if strings.Contains(classPath, "Bad") {
		return Result{ClassPath: classPath, Status: StatusFailed, Reason: "bad"}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{ClassPath: classPath, Status: StatusTimedOut}
		}
	}
	return Result{ClassPath: classPath, Status: StatusSucceeded, Source: "class " + classPath}
}

func classEntries(names ...string) []archive.Entry {
	out := make([]archive.Entry, len(names))
	for i, n := range names {
		out[i] = archive.Entry{Path: n, Type: archive.EntryClass, Data: []byte{0xCA, 0xFE}}
	}
	return out
}

// TestSummary_Quality 测试质量判定
func TestSummary_Quality(t *testing.T) {
	tests := []struct {
		name    string
		summary Summary
		want    Quality
	}{
		{"no classes", Summary{}, QualityFull},
		{"all succeeded", Summary{Total: 10, Succeeded: 10}, QualityFull},
		{"at threshold", Summary{Total: 10, Succeeded: 9, Failed: 1}, QualityFull},
		{"above threshold", Summary{Total: 10, Succeeded: 8, Failed: 1, TimedOut: 1}, QualityPartial},
		{"all failed", Summary{Total: 3, Failed: 2, TimedOut: 1}, QualityFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.summary.Quality(0.1))
		})
	}
}

// TestRunner_PreservesOrder 测试结果顺序与输入一致
func TestRunner_PreservesOrder(t *testing.T) {
	fake := &fakeDecompiler{delay: 5 * time.Millisecond}
	runner := NewRunner(fake, 4, 0, testLogger())

	names := []string{"a/A.class", "a/Bad.class", "a/C.class", "a/Panic.class", "a/E.class", "a/F.class"}
	results := runner.Run(context.Background(), classEntries(names...))

	require.Len(t, results, len(names))
	for i, r := range results {
		assert.Equal(t, names[i], r.ClassPath)
	}
	assert.Equal(t, StatusSucceeded, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.Equal(t, StatusFailed, results[3].Status)
	assert.Equal(t, "decompiler panic", results[3].Reason)
	assert.LessOrEqual(t, atomic.LoadInt32(&fake.maxSeen), int32(4))

	s := Summarize(results)
	assert.Equal(t, Summary{Total: 6, Succeeded: 4, Failed: 2}, s)
}

// TestRunner_Deterministic 测试不同并发度下结果一致
func TestRunner_Deterministic(t *testing.T) {
	names := []string{"x/One.class", "x/Bad.class", "x/Three.class", "x/Four.class"}

	serial := NewRunner(&fakeDecompiler{}, 1, 0, testLogger()).Run(context.Background(), classEntries(names...))
	parallel := NewRunner(&fakeDecompiler{}, 8, 0, testLogger()).Run(context.Background(), classEntries(names...))

	require.Len(t, parallel, len(serial))
	for i := range serial {
		assert.Equal(t, serial[i].Status, parallel[i].Status)
		assert.Equal(t, serial[i].Source, parallel[i].Source)
	}
}

// TestRunner_UnreadableEntries 测试损坏条目不调用反编译器
func TestRunner_UnreadableEntries(t *testing.T) {
	fake := &fakeDecompiler{}
	entries := classEntries("a/A.class", "a/B.class")
	entries[1].Corrupt = true

	results := NewRunner(fake, 2, 0, testLogger()).Run(context.Background(), entries)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.calls))
	assert.Equal(t, StatusFailed, results[1].Status)
}

// TestRunner_ScanDeadline 测试整体时限到期后剩余类为 timed_out
func TestRunner_ScanDeadline(t *testing.T) {
	fake := &fakeDecompiler{delay: time.Second}
	runner := NewRunner(fake, 1, 50*time.Millisecond, testLogger())

	start := time.Now()
	results := runner.Run(context.Background(), classEntries("a/A.class", "a/B.class", "a/C.class"))

	assert.Less(t, time.Since(start), 900*time.Millisecond)
	for _, r := range results {
		assert.Equal(t, StatusTimedOut, r.Status)
	}
	assert.Equal(t, QualityFailed, Summarize(results).Quality(0.1))
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// shellDecompiler 用 sh 脚本模拟外部工具：$0 为类文件路径
func shellDecompiler(script string, timeout time.Duration) *ExternalDecompiler {
	return NewExternalDecompiler("sh", []string{"-c", script, "{class}"}, "sh-test", timeout, testLogger())
}

// TestExternalDecompiler_Success 测试 stdout 作为源码
func TestExternalDecompiler_Success(t *testing.T) {
	requireShell(t)
	d := shellDecompiler(`test -f "$0" && echo "public class Decompiled {}"`, 5*time.Second)

	res := d.Decompile(context.Background(), "com/example/Main.class", []byte{0xCA, 0xFE, 0xBA, 0xBE})

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Contains(t, res.Source, "public class Decompiled")
	assert.NoError(t, res.Err())
	assert.Equal(t, "sh-test", d.Version())
}

// TestExternalDecompiler_OutputDir 测试从输出目录读取源码
func TestExternalDecompiler_OutputDir(t *testing.T) {
	requireShell(t)
	d := NewExternalDecompiler("sh", []string{"-c", `echo "class FromDir {}" > "$1/FromDir.java"`, "{class}", "{outdir}"}, "sh-test", 5*time.Second, testLogger())

	res := d.Decompile(context.Background(), "FromDir.class", []byte{1})

	assert.Equal(t, StatusSucceeded, res.Status)
	assert.Contains(t, res.Source, "class FromDir")
}

// TestExternalDecompiler_Failure 测试非零退出码
func TestExternalDecompiler_Failure(t *testing.T) {
	requireShell(t)
	d := shellDecompiler(`echo "cannot parse" >&2; exit 3`, 5*time.Second)

	res := d.Decompile(context.Background(), "a/B.class", []byte{1})

	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "exit code 3")
	assert.Contains(t, res.Reason, "cannot parse")
	assert.ErrorIs(t, res.Err(), ErrDecompilationFailed)
}

// TestExternalDecompiler_EmptyOutput 测试空输出视为失败
func TestExternalDecompiler_EmptyOutput(t *testing.T) {
	requireShell(t)
	d := shellDecompiler(`true`, 5*time.Second)

	res := d.Decompile(context.Background(), "a/B.class", []byte{1})

	assert.Equal(t, StatusFailed, res.Status)
}

// TestExternalDecompiler_Timeout 测试单文件超时会终止进程
func TestExternalDecompiler_Timeout(t *testing.T) {
	requireShell(t)
	d := shellDecompiler(`exec sleep 10`, 100*time.Millisecond)

	start := time.Now()
	res := d.Decompile(context.Background(), "a/Slow.class", []byte{1})

	assert.Equal(t, StatusTimedOut, res.Status)
	assert.ErrorIs(t, res.Err(), ErrDecompilationTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// TestSanitize 测试路径清理
func TestSanitize(t *testing.T) {
	assert.Equal(t, "etc/passwd.class", sanitize("../../etc/passwd.class"))
	assert.Equal(t, "a/B.class", sanitize("/a/./B.class"))
	assert.Equal(t, "Unnamed.class", sanitize("../"))
}
