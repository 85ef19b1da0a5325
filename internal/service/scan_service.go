package service

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apk-scanner/apk-scanner-go/internal/domain"
	"github.com/apk-scanner/apk-scanner-go/internal/queue"
	"github.com/apk-scanner/apk-scanner-go/internal/repository"
)

// ScanPublisher 任务消息发布端
type ScanPublisher interface {
	PublishScan(ctx context.Context, msg *queue.ScanMessage) error
}

// ScanService 扫描任务服务
//
// 负责任务创建（上传 / 监控目录）、查询与重新入队；
// 实际分析由 worker 消费队列后执行。
type ScanService struct {
	taskRepo   repository.TaskRepository
	reportRepo repository.ReportRepository
	producer   ScanPublisher
	logger     *logrus.Logger
	uploadDir  string
}

func NewScanService(
	taskRepo repository.TaskRepository,
	reportRepo repository.ReportRepository,
	producer ScanPublisher,
	uploadDir string,
	logger *logrus.Logger,
) *ScanService {
	return &ScanService{
		taskRepo:   taskRepo,
		reportRepo: reportRepo,
		producer:   producer,
		logger:     logger,
		uploadDir:  uploadDir,
	}
}

// CreateScan 创建扫描任务：落盘、建任务记录、发布到队列
func (s *ScanService) CreateScan(ctx context.Context, fileName string, data []byte) (*domain.ScanTask, error) {
	taskID := uuid.New().String()

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	// 以任务 ID 命名避免同名覆盖
	filePath := filepath.Join(s.uploadDir, taskID+"_"+filepath.Base(fileName))
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save uploaded file: %w", err)
	}

	task := &domain.ScanTask{
		ID:       taskID,
		FileName: filepath.Base(fileName),
		FileSize: int64(len(data)),
		FilePath: filePath,
		SHA256:   fmt.Sprintf("%x", sha256.Sum256(data)),
		Status:   domain.TaskStatusQueued,
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		os.Remove(filePath)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := s.publish(ctx, task); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"task_id":   task.ID,
		"file_name": task.FileName,
		"file_size": task.FileSize,
	}).Info("Scan task created")

	return task, nil
}

// CreateScanFromFile 从监控目录的文件创建扫描任务
//
// 大文件复制会触发多次文件系统事件，60 秒内同名文件只建一次任务。
func (s *ScanService) CreateScanFromFile(ctx context.Context, path string) (*domain.ScanTask, error) {
	fileName := filepath.Base(path)

	dup, err := s.taskRepo.HasRecentTaskForFile(ctx, fileName, 60)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watched file: %w", err)
	}

	return s.CreateScan(ctx, fileName, data)
}

// GetScan 查询单个任务
func (s *ScanService) GetScan(ctx context.Context, id string) (*domain.ScanTask, error) {
	return s.taskRepo.FindByID(ctx, id)
}

// ListScans 分页查询任务列表
func (s *ScanService) ListScans(ctx context.Context, page, pageSize int) ([]*domain.ScanTask, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	return s.taskRepo.ListWithPagination(ctx, page, pageSize)
}

// GetReport 查询任务对应的风险报告
func (s *ScanService) GetReport(ctx context.Context, taskID string) (*domain.RiskReportRecord, error) {
	return s.reportRepo.FindByTaskID(ctx, taskID)
}

// GetStats 各状态任务数量统计
func (s *ScanService) GetStats(ctx context.Context) (map[string]int64, int64, error) {
	return s.taskRepo.GetStatusCounts(ctx)
}

// RequeuePending 把所有排队中的任务重新发布到队列
//
// 服务重启后队列消息可能丢失，数据库中的 queued 任务是事实来源。
func (s *ScanService) RequeuePending(ctx context.Context) (int, error) {
	tasks, err := s.taskRepo.ListQueuedTasks(ctx)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, task := range tasks {
		if err := s.publish(ctx, task); err != nil {
			s.logger.WithError(err).WithField("task_id", task.ID).Error("Failed to requeue task")
			continue
		}
		requeued++
	}

	s.logger.WithFields(logrus.Fields{
		"queued_total": len(tasks),
		"requeued":     requeued,
	}).Info("Pending tasks requeued")

	return requeued, nil
}

func (s *ScanService) publish(ctx context.Context, task *domain.ScanTask) error {
	msg := &queue.ScanMessage{
		TaskID:   task.ID,
		FileName: task.FileName,
		FilePath: task.FilePath,
	}
	if err := s.producer.PublishScan(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish scan task: %w", err)
	}
	return nil
}
