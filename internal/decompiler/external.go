package decompiler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	placeholderClass  = "{class}"
	placeholderOutDir = "{outdir}"
	maxReasonLen      = 512
)

// ExternalDecompiler 调用外部反编译工具（例如 CFR），每个类一个进程
type ExternalDecompiler struct {
	command string
	args    []string
	version string
	timeout time.Duration
	logger  *logrus.Logger
}

// NewExternalDecompiler 创建外部反编译器
func NewExternalDecompiler(command string, args []string, version string, timeout time.Duration, logger *logrus.Logger) *ExternalDecompiler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExternalDecompiler{
		command: command,
		args:    args,
		version: version,
		timeout: timeout,
		logger:  logger,
	}
}

// Version 固定的工具版本
func (d *ExternalDecompiler) Version() string {
	return d.version
}

// Decompile 将类字节写入临时目录后执行工具，stdout 或输出目录中的 .java 即为源码
func (d *ExternalDecompiler) Decompile(ctx context.Context, classPath string, data []byte) Result {
	start := time.Now()
	result := Result{ClassPath: classPath}
	finish := func(status Status, source, reason string) Result {
		result.Status = status
		result.Source = source
		result.Reason = truncate(reason)
		result.Duration = time.Since(start)
		return result
	}

	if ctx.Err() != nil {
		return finish(StatusTimedOut, "", "scan deadline exceeded before start")
	}

	workDir, err := os.MkdirTemp("", "jar-decompile-*")
	if err != nil {
		return finish(StatusFailed, "", fmt.Sprintf("create temp dir: %v", err))
	}
	defer os.RemoveAll(workDir)

	// 保留包路径，部分工具依赖文件位置推断类名
	classFile := filepath.Join(workDir, "in", filepath.FromSlash(sanitize(classPath)))
	outDir := filepath.Join(workDir, "out")
	if err := os.MkdirAll(filepath.Dir(classFile), 0o755); err != nil {
		return finish(StatusFailed, "", fmt.Sprintf("prepare input: %v", err))
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return finish(StatusFailed, "", fmt.Sprintf("prepare output: %v", err))
	}
	if err := os.WriteFile(classFile, data, 0o644); err != nil {
		return finish(StatusFailed, "", fmt.Sprintf("write class: %v", err))
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.command, d.expandArgs(classFile, outDir)...)
	cmd.Dir = workDir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runCtx.Err() != nil {
		d.logger.WithFields(logrus.Fields{
			"class":   classPath,
			"timeout": d.timeout,
		}).Debug("Decompiler timed out")
		return finish(StatusTimedOut, "", runCtx.Err().Error())
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		reason := runErr.Error()
		if errors.As(runErr, &exitErr) {
			reason = fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), tail(stderr.String()))
		}
		return finish(StatusFailed, "", reason)
	}

	source := stdout.String()
	if strings.TrimSpace(source) == "" {
		source = readOutputDir(outDir)
	}
	if strings.TrimSpace(source) == "" {
		return finish(StatusFailed, "", "empty output: "+tail(stderr.String()))
	}
	return finish(StatusSucceeded, source, "")
}

func (d *ExternalDecompiler) expandArgs(classFile, outDir string) []string {
	args := make([]string, len(d.args))
	for i, a := range d.args {
		a = strings.ReplaceAll(a, placeholderClass, classFile)
		args[i] = strings.ReplaceAll(a, placeholderOutDir, outDir)
	}
	return args
}

// readOutputDir 拼接输出目录下的所有 .java 文件（按路径排序）
func readOutputDir(dir string) string {
	var b strings.Builder
	filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() || !strings.HasSuffix(path, ".java") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr == nil {
			b.Write(data)
			b.WriteByte('\n')
		}
		return nil
	})
	return b.String()
}

// sanitize 去掉绝对路径和 .. 片段，防止写出临时目录
func sanitize(classPath string) string {
	parts := strings.Split(classPath, "/")
	clean := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		clean = append(clean, p)
	}
	if len(clean) == 0 {
		return "Unnamed.class"
	}
	return strings.Join(clean, "/")
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxReasonLen {
		return s[len(s)-maxReasonLen:]
	}
	return s
}

func truncate(s string) string {
	if len(s) > maxReasonLen {
		return s[:maxReasonLen]
	}
	return s
}
