package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/apk-scanner/apk-scanner-go/internal/pipeline"
)

// ProgressHandler 扫描进度 WebSocket 推送
//
// worker 在流水线每个阶段结束时调用 Broadcast* 方法，
// 订阅了对应任务的前端客户端实时收到进度。
type ProgressHandler struct {
	logger      *logrus.Logger
	upgrader    websocket.Upgrader
	clients     map[string]*websocket.Conn
	clientMutex sync.RWMutex
	broadcast   chan ProgressMessage
}

// ProgressMessage 进度消息
type ProgressMessage struct {
	TaskID      string `json:"task_id"`
	Stage       string `json:"stage,omitempty"`
	Success     *bool  `json:"success,omitempty"`
	Message     string `json:"message,omitempty"`
	Percent     int    `json:"percent,omitempty"`
	Status      string `json:"status,omitempty"` // completed / failed
	RiskScore   int    `json:"risk_score,omitempty"`
	ReportID    string `json:"report_id,omitempty"`
	FailureType string `json:"failure_type,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// NewProgressHandler 创建进度推送处理器
func NewProgressHandler(logger *logrus.Logger) *ProgressHandler {
	return &ProgressHandler{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有来源（生产环境需要限制）
			},
		},
		clients:   make(map[string]*websocket.Conn),
		broadcast: make(chan ProgressMessage, 100),
	}
}

// Start 启动广播服务
func (h *ProgressHandler) Start() {
	go h.runBroadcaster()
}

// runBroadcaster 运行广播器
func (h *ProgressHandler) runBroadcaster() {
	for {
		msg := <-h.broadcast
		h.clientMutex.RLock()
		for taskID, client := range h.clients {
			if msg.TaskID == taskID || taskID == "all" {
				err := client.WriteJSON(msg)
				if err != nil {
					h.logger.WithError(err).Warn("Failed to write to WebSocket client")
					client.Close()
					h.clientMutex.RUnlock()
					h.clientMutex.Lock()
					delete(h.clients, taskID)
					h.clientMutex.Unlock()
					h.clientMutex.RLock()
				}
			}
		}
		h.clientMutex.RUnlock()
	}
}

// HandleWebSocket 处理 WebSocket 连接
// GET /ws/scans/:id （id 为 "all" 时订阅所有任务）
func (h *ProgressHandler) HandleWebSocket(c *gin.Context) {
	taskID := c.Param("id")
	if taskID == "" {
		taskID = "all"
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}
	defer conn.Close()

	h.clientMutex.Lock()
	h.clients[taskID] = conn
	h.clientMutex.Unlock()

	h.logger.WithField("task_id", taskID).Info("WebSocket client connected")

	// 保持连接直到客户端断开
	for {
		var msg map[string]interface{}
		err := conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.WithError(err).Warn("WebSocket error")
			}
			break
		}
	}

	h.clientMutex.Lock()
	delete(h.clients, taskID)
	h.clientMutex.Unlock()

	h.logger.WithField("task_id", taskID).Info("WebSocket client disconnected")
}

// BroadcastStage 广播阶段进度（供 worker 调用）
func (h *ProgressHandler) BroadcastStage(taskID string, stage pipeline.StageResult, percent int) {
	success := stage.Success
	msg := ProgressMessage{
		TaskID:    taskID,
		Stage:     stage.Stage,
		Success:   &success,
		Message:   stage.Message,
		Percent:   percent,
		Timestamp: time.Now().Unix(),
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("Broadcast channel is full, dropping message")
	}
}

// BroadcastCompleted 广播任务完成
func (h *ProgressHandler) BroadcastCompleted(taskID string, riskScore int, reportID string) {
	msg := ProgressMessage{
		TaskID:    taskID,
		Status:    "completed",
		RiskScore: riskScore,
		ReportID:  reportID,
		Percent:   100,
		Timestamp: time.Now().Unix(),
	}

	select {
	case h.broadcast <- msg:
	default:
	}
}

// BroadcastFailed 广播任务失败
func (h *ProgressHandler) BroadcastFailed(taskID string, failureType string, message string) {
	msg := ProgressMessage{
		TaskID:      taskID,
		Status:      "failed",
		FailureType: failureType,
		Message:     message,
		Timestamp:   time.Now().Unix(),
	}

	select {
	case h.broadcast <- msg:
	default:
	}
}
