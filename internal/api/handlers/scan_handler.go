package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-scanner/apk-scanner-go/internal/service"
)

// ScanHandler 扫描任务处理器
type ScanHandler struct {
	scanService *service.ScanService
	logger      *logrus.Logger
	maxSize     int64 // 上传大小上限（字节）
}

// NewScanHandler 创建扫描任务处理器实例
func NewScanHandler(scanService *service.ScanService, maxSize int64, logger *logrus.Logger) *ScanHandler {
	return &ScanHandler{
		scanService: scanService,
		logger:      logger,
		maxSize:     maxSize,
	}
}

// CreateScan 上传 APK 并创建扫描任务
// POST /api/scans
func (h *ScanHandler) CreateScan(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.logger.WithError(err).Warn("Failed to get uploaded file")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "获取上传文件失败",
		})
		return
	}

	filename := file.Filename
	if !strings.HasSuffix(strings.ToLower(filename), ".apk") {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "只支持 APK 文件格式",
		})
		return
	}

	if file.Size > h.maxSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("文件大小超过限制 (最大 %dMB)", h.maxSize/(1024*1024)),
		})
		return
	}

	src, err := file.Open()
	if err != nil {
		h.logger.WithError(err).Error("Failed to open uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "打开上传文件失败",
		})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "读取上传文件失败",
		})
		return
	}

	task, err := h.scanService.CreateScan(c.Request.Context(), filename, data)
	if err != nil {
		h.logger.WithError(err).Error("Failed to create scan task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "创建扫描任务失败",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "扫描任务已创建",
		"task":    task,
	})
}

// ListScans 分页查询扫描任务
// GET /api/scans?page=1&page_size=20
func (h *ScanHandler) ListScans(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	tasks, total, err := h.scanService.ListScans(c.Request.Context(), page, pageSize)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list scan tasks")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "查询任务列表失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":     tasks,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetScan 查询单个扫描任务
// GET /api/scans/:id
func (h *ScanHandler) GetScan(c *gin.Context) {
	id := c.Param("id")

	task, err := h.scanService.GetScan(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "任务不存在",
			})
			return
		}
		h.logger.WithError(err).Error("Failed to get scan task")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "查询任务失败",
		})
		return
	}

	c.JSON(http.StatusOK, task)
}

// GetReport 查询任务的风险报告
// GET /api/scans/:id/report
func (h *ScanHandler) GetReport(c *gin.Context) {
	id := c.Param("id")

	report, err := h.scanService.GetReport(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "报告不存在",
			})
			return
		}
		h.logger.WithError(err).Error("Failed to get risk report")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "查询报告失败",
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetStats 任务状态统计
// GET /api/stats
func (h *ScanHandler) GetStats(c *gin.Context) {
	counts, total, err := h.scanService.GetStats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to get stats")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "查询统计失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":     total,
		"by_status": counts,
	})
}
