package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/apk-scanner/apk-scanner-go/internal/queue"
	"github.com/apk-scanner/apk-scanner-go/internal/repository"
	"github.com/apk-scanner/apk-scanner-go/internal/service"
)

// fakePublisher 记录发布的消息
type fakePublisher struct {
	messages []*queue.ScanMessage
}

func (p *fakePublisher) PublishScan(ctx context.Context, msg *queue.ScanMessage) error {
	p.messages = append(p.messages, msg)
	return nil
}

// setupHandler 创建基于内存数据库的处理器
func setupHandler(t *testing.T) (*ScanHandler, *fakePublisher) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	require.NoError(t, repository.AutoMigrate(db, logger))

	taskRepo := repository.NewTaskRepository(db, logger)
	reportRepo := repository.NewReportRepository(db, logger)
	publisher := &fakePublisher{}

	svc := service.NewScanService(taskRepo, reportRepo, publisher, t.TempDir(), logger)
	return NewScanHandler(svc, 10*1024*1024, logger), publisher
}

// setupTestRouter 设置测试路由
func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

// multipartBody 构造 multipart 上传请求体
func multipartBody(t *testing.T, fieldName, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile(fieldName, fileName)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

// TestScanHandler_CreateScan 测试上传创建扫描任务
func TestScanHandler_CreateScan(t *testing.T) {
	handler, publisher := setupHandler(t)
	router := setupTestRouter()
	router.POST("/api/scans", handler.CreateScan)

	body, contentType := multipartBody(t, "file", "demo.apk", []byte("apk bytes"))
	req := httptest.NewRequest("POST", "/api/scans", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	var response struct {
		Task struct {
			ID       string `json:"id"`
			FileName string `json:"file_name"`
			Status   string `json:"status"`
		} `json:"task"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.NotEmpty(t, response.Task.ID)
	assert.Equal(t, "demo.apk", response.Task.FileName)
	assert.Equal(t, "queued", response.Task.Status)

	// 任务已发布到队列
	require.Len(t, publisher.messages, 1)
	assert.Equal(t, response.Task.ID, publisher.messages[0].TaskID)
}

// TestScanHandler_CreateScan_RejectsNonAPK 测试扩展名校验
func TestScanHandler_CreateScan_RejectsNonAPK(t *testing.T) {
	handler, publisher := setupHandler(t)
	router := setupTestRouter()
	router.POST("/api/scans", handler.CreateScan)

	body, contentType := multipartBody(t, "file", "app.zip", []byte("zip bytes"))
	req := httptest.NewRequest("POST", "/api/scans", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, publisher.messages)
}

// TestScanHandler_CreateScan_MissingFile 测试缺少文件字段
func TestScanHandler_CreateScan_MissingFile(t *testing.T) {
	handler, _ := setupHandler(t)
	router := setupTestRouter()
	router.POST("/api/scans", handler.CreateScan)

	req := httptest.NewRequest("POST", "/api/scans", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestScanHandler_GetScan_NotFound 测试查询不存在的任务
func TestScanHandler_GetScan_NotFound(t *testing.T) {
	handler, _ := setupHandler(t)
	router := setupTestRouter()
	router.GET("/api/scans/:id", handler.GetScan)

	req := httptest.NewRequest("GET", "/api/scans/no-such-task", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestScanHandler_ListScans 测试任务列表
func TestScanHandler_ListScans(t *testing.T) {
	handler, _ := setupHandler(t)
	router := setupTestRouter()
	router.POST("/api/scans", handler.CreateScan)
	router.GET("/api/scans", handler.ListScans)

	// 先上传两个任务
	for _, name := range []string{"a.apk", "b.apk"} {
		body, contentType := multipartBody(t, "file", name, []byte("apk bytes"))
		req := httptest.NewRequest("POST", "/api/scans", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	req := httptest.NewRequest("GET", "/api/scans?page=1&page_size=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Total int64 `json:"total"`
		Tasks []struct {
			FileName string `json:"file_name"`
		} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, int64(2), response.Total)
	assert.Len(t, response.Tasks, 2)
}

// TestScanHandler_GetReport_NotFound 测试报告不存在
func TestScanHandler_GetReport_NotFound(t *testing.T) {
	handler, _ := setupHandler(t)
	router := setupTestRouter()
	router.GET("/api/scans/:id/report", handler.GetReport)

	req := httptest.NewRequest("GET", "/api/scans/no-such-task/report", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestScanHandler_GetStats 测试统计接口
func TestScanHandler_GetStats(t *testing.T) {
	handler, _ := setupHandler(t)
	router := setupTestRouter()
	router.POST("/api/scans", handler.CreateScan)
	router.GET("/api/stats", handler.GetStats)

	body, contentType := multipartBody(t, "file", "demo.apk", []byte("apk bytes"))
	req := httptest.NewRequest("POST", "/api/scans", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest("GET", "/api/stats", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Total    int64            `json:"total"`
		ByStatus map[string]int64 `json:"by_status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, int64(1), response.Total)
	assert.Equal(t, int64(1), response.ByStatus["queued"])
}
