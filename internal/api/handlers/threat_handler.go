package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jar-analysis/jar-analysis-go/internal/domain"
	"github.com/jar-analysis/jar-analysis-go/internal/service"
	"github.com/jar-analysis/jar-analysis-go/internal/threatintel"
	"github.com/sirupsen/logrus"
)

// ThreatHandler 已知样本处理器
type ThreatHandler struct {
	scanService service.ScanService
	logger      *logrus.Logger
}

// NewThreatHandler 创建已知样本处理器实例
func NewThreatHandler(scanService service.ScanService, logger *logrus.Logger) *ThreatHandler {
	return &ThreatHandler{
		scanService: scanService,
		logger:      logger,
	}
}

// OverrideRequest 人工覆盖请求
type OverrideRequest struct {
	Verdict    domain.Verdict `json:"verdict" binding:"required"`
	Confidence *float64       `json:"confidence" binding:"required"`
	Active     *bool          `json:"active"` // 缺省为 true
}

// GetThreat 查询有效的威胁记录
// GET /api/threats/:hash
func (h *ThreatHandler) GetThreat(c *gin.Context) {
	record, err := h.scanService.GetThreat(c.Request.Context(), c.Param("hash"))
	if err != nil {
		respondLookupError(c, err, "没有该样本的有效记录")
		return
	}
	c.JSON(http.StatusOK, record)
}

// ListThreats 分页列出威胁记录
// GET /api/threats?page=1&page_size=20
func (h *ThreatHandler) ListThreats(c *gin.Context) {
	page, pageSize := parsePage(c)
	records, total, err := h.scanService.ListThreats(c.Request.Context(), page, pageSize)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list threat records")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "获取威胁记录失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":      records,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// OverrideThreat 人工覆盖威胁记录
// PUT /api/threats/:hash
func (h *ThreatHandler) OverrideThreat(c *gin.Context) {
	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误: " + err.Error()})
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	record, err := h.scanService.OverrideThreat(c.Request.Context(), c.Param("hash"), req.Verdict, *req.Confidence, active)
	if err != nil {
		if errors.Is(err, threatintel.ErrInvalidOverride) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "更新威胁记录失败"})
		return
	}
	c.JSON(http.StatusOK, record)
}
