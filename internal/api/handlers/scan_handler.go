package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/classifier"
	"github.com/jar-analysis/jar-analysis-go/internal/queue"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/jar-analysis/jar-analysis-go/internal/service"
	"github.com/sirupsen/logrus"
)

// 上传表单字段
const uploadField = "file"

// ScanHandler 扫描处理器
type ScanHandler struct {
	scanService service.ScanService
	publisher   queue.Publisher // 为空时异步接口不可用
	jarDir      string          // 异步扫描的归档落盘目录
	maxBytes    int64
	logger      *logrus.Logger
}

// NewScanHandler 创建扫描处理器实例
func NewScanHandler(scanService service.ScanService, publisher queue.Publisher, jarDir string, maxBytes int64, logger *logrus.Logger) *ScanHandler {
	return &ScanHandler{
		scanService: scanService,
		publisher:   publisher,
		jarDir:      jarDir,
		maxBytes:    maxBytes,
		logger:      logger,
	}
}

// Submit 同步扫描上传的归档
// POST /api/scans  (multipart, 字段 file)
func (h *ScanHandler) Submit(c *gin.Context) {
	data, fileName, ok := h.readUpload(c)
	if !ok {
		return
	}

	ctx := service.WithSubmitter(c.Request.Context(), service.Submitter{
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	result, err := h.scanService.Submit(ctx, data, fileName)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrInvalidArchive):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "无效的归档文件",
				"detail": err.Error(),
			})
		case errors.Is(err, classifier.ErrSchemaMismatch):
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "模型与特征模式版本不一致",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "扫描失败",
			})
		}
		return
	}

	c.JSON(http.StatusOK, result)
}

// SubmitAsync 归档落盘后投递到扫描队列
// POST /api/scans/async
func (h *ScanHandler) SubmitAsync(c *gin.Context) {
	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "异步扫描未启用",
		})
		return
	}

	data, fileName, ok := h.readUpload(c)
	if !ok {
		return
	}

	jobID := uuid.New().String()
	path := filepath.Join(h.jarDir, jobID+".jar")
	if err := os.MkdirAll(h.jarDir, 0755); err != nil {
		h.logger.WithError(err).Error("Failed to create jar directory")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存文件失败"})
		return
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		h.logger.WithError(err).Error("Failed to save uploaded archive")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存文件失败"})
		return
	}

	msg := &queue.ScanMessage{JobID: jobID, FileName: fileName, Path: path}
	if err := h.publisher.PublishScan(c.Request.Context(), msg); err != nil {
		os.Remove(path)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "投递扫描任务失败"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":       jobID,
		"file_name":    fileName,
		"archive_hash": archive.Digest(data),
	})
}

// readUpload 读取上传文件，失败时已写入响应
func (h *ScanHandler) readUpload(c *gin.Context) ([]byte, string, bool) {
	if h.maxBytes > 0 {
		// multipart 头部留出余量
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	}

	header, err := c.FormFile(uploadField)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "缺少上传文件",
		})
		return nil, "", false
	}
	if h.maxBytes > 0 && header.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": fmt.Sprintf("文件超过大小限制 (%d bytes)", h.maxBytes),
		})
		return nil, "", false
	}

	f, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传文件失败"})
		return nil, "", false
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "读取上传文件失败"})
		return nil, "", false
	}
	return buf.Bytes(), filepath.Base(header.Filename), true
}

// GetScan 获取扫描结果
// GET /api/scans/:id
func (h *ScanHandler) GetScan(c *gin.Context) {
	result, err := h.scanService.GetScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondLookupError(c, err, "扫描结果不存在")
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetLatestByHash 某个归档最近一次扫描
// GET /api/scans/hash/:hash
func (h *ScanHandler) GetLatestByHash(c *gin.Context) {
	result, err := h.scanService.GetLatestByHash(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondLookupError(c, err, "该归档没有扫描记录")
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListScans 按时间区间分页查询扫描历史
// GET /api/scans?from=RFC3339&to=RFC3339&page=1&page_size=20
func (h *ScanHandler) ListScans(c *gin.Context) {
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	page, pageSize := parsePage(c)

	results, total, err := h.scanService.GetHistory(c.Request.Context(), service.HistoryQuery{
		From:     from,
		To:       to,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStoreUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "扫描存储不可用"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      results,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ExportFeatures 导出特征向量 CSV
// GET /api/scans/export?from=RFC3339&to=RFC3339
func (h *ScanHandler) ExportFeatures(c *gin.Context) {
	from, to, ok := parseRange(c)
	if !ok {
		return
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Second)
	}

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=features_%s.csv", time.Now().UTC().Format("20060102_150405")))
	c.Status(http.StatusOK)

	rows, err := h.scanService.ExportFeatures(c.Request.Context(), from, to, c.Writer)
	if err != nil {
		// 响应头已发出，只能记录
		h.logger.WithError(err).WithField("rows", rows).Error("Feature export aborted")
		return
	}
	h.logger.WithField("rows", rows).Info("Feature export completed")
}

// GetStats 判定统计
// GET /api/stats
func (h *ScanHandler) GetStats(c *gin.Context) {
	stats, err := h.scanService.Stats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get stats")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "获取统计失败"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func respondLookupError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "扫描存储不可用"})
}

// parsePage 默认第 1 页、每页 20 条，每页最多 100 条
func parsePage(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// parseRange 解析 RFC3339 时间参数，缺省为零值
func parseRange(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("参数 %s 不是合法的 RFC3339 时间", p.name),
			})
			return time.Time{}, time.Time{}, false
		}
		*p.dst = t.UTC()
	}
	return from, to, true
}
