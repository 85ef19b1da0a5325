package repository

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-scanner/apk-scanner-go/internal/domain"
)

type TaskRepository interface {
	Create(ctx context.Context, task *domain.ScanTask) error
	FindByID(ctx context.Context, id string) (*domain.ScanTask, error)
	ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.ScanTask, int64, error)
	ListQueuedTasks(ctx context.Context) ([]*domain.ScanTask, error)
	MarkStarted(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, stage string, percent int) error
	MarkCompleted(ctx context.Context, id string, packageName, reportID string, riskScore int, stageResultsJSON string) error
	UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage, stageResultsJSON string) error
	// 检查是否存在最近创建的同名任务（防止监控目录重复触发）
	HasRecentTaskForFile(ctx context.Context, fileName string, withinSeconds int) (bool, error)
	// 各状态任务数量统计
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
}

type taskRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTaskRepository(db *gorm.DB, logger *logrus.Logger) TaskRepository {
	return &taskRepo{
		db:     db,
		logger: logger,
	}
}

func (r *taskRepo) Create(ctx context.Context, task *domain.ScanTask) error {
	task.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepo) FindByID(ctx context.Context, id string) (*domain.ScanTask, error) {
	var task domain.ScanTask
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.ScanTask, int64, error) {
	var tasks []*domain.ScanTask
	var total int64

	if err := r.db.WithContext(ctx).Model(&domain.ScanTask{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize

	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&tasks).Error

	return tasks, total, err
}

// ListQueuedTasks 获取所有排队中的任务（不分页），先进先出
func (r *taskRepo) ListQueuedTasks(ctx context.Context) ([]*domain.ScanTask, error) {
	var tasks []*domain.ScanTask
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.TaskStatusQueued).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepo) MarkStarted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     domain.TaskStatusAnalyzing,
			"started_at": &now,
		}).Error
}

func (r *taskRepo) UpdateProgress(ctx context.Context, id string, stage string, percent int) error {
	return r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_stage":    stage,
			"progress_percent": percent,
		}).Error
}

// MarkCompleted 标记任务完成并关联报告
func (r *taskRepo) MarkCompleted(ctx context.Context, id string, packageName, reportID string, riskScore int, stageResultsJSON string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             domain.TaskStatusCompleted,
			"package_name":       packageName,
			"report_id":          reportID,
			"risk_score":         riskScore,
			"stage_results_json": stageResultsJSON,
			"current_stage":      "",
			"progress_percent":   100,
			"completed_at":       &now,
		})

	if result.Error != nil {
		r.logger.WithError(result.Error).WithField("task_id", id).Error("Failed to mark task completed")
		return result.Error
	}

	r.logger.WithFields(logrus.Fields{
		"task_id":    id,
		"report_id":  reportID,
		"risk_score": riskScore,
	}).Info("✅ Task marked as completed")
	return nil
}

// UpdateFailure 更新任务失败信息（包含失败类型和阶段审计记录）
func (r *taskRepo) UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage, stageResultsJSON string) error {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":             domain.TaskStatusFailed,
			"failure_type":       failureType,
			"error_message":      errorMessage,
			"stage_results_json": stageResultsJSON,
			"completed_at":       &now,
		})

	if result.Error != nil {
		r.logger.WithError(result.Error).WithFields(logrus.Fields{
			"task_id":      id,
			"failure_type": failureType,
		}).Error("Failed to update task failure")
		return result.Error
	}

	r.logger.WithFields(logrus.Fields{
		"task_id":          id,
		"failure_type":     failureType,
		"failure_severity": failureType.GetSeverity(),
	}).Warn("❌ Task marked as failed")
	return nil
}

// HasRecentTaskForFile 检查是否存在最近创建的同名文件任务
// 用于防止文件监控器重复创建任务（大文件复制触发多次事件）
func (r *taskRepo) HasRecentTaskForFile(ctx context.Context, fileName string, withinSeconds int) (bool, error) {
	var count int64
	cutoffTime := time.Now().UTC().Add(-time.Duration(withinSeconds) * time.Second)

	err := r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Where("file_name = ? AND created_at > ?", fileName, cutoffTime).
		Count(&count).Error

	if err != nil {
		r.logger.WithError(err).WithField("file_name", fileName).Error("Failed to check recent task for file")
		return false, err
	}

	if count > 0 {
		r.logger.WithFields(logrus.Fields{
			"file_name":      fileName,
			"recent_count":   count,
			"within_seconds": withinSeconds,
		}).Warn("⚠️ Found recent task for same file, skipping duplicate creation")
	}

	return count > 0, nil
}

// GetStatusCounts 获取各状态任务数量统计（使用数据库聚合查询）
func (r *taskRepo) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	type StatusCount struct {
		Status string
		Count  int64
	}

	var results []StatusCount
	err := r.db.WithContext(ctx).
		Model(&domain.ScanTask{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&results).Error

	if err != nil {
		r.logger.WithError(err).Error("Failed to get status counts")
		return nil, 0, err
	}

	statusCounts := map[string]int64{
		"queued":    0,
		"analyzing": 0,
		"completed": 0,
		"failed":    0,
	}

	var total int64
	for _, sc := range results {
		statusCounts[sc.Status] = sc.Count
		total += sc.Count
	}

	return statusCounts, total, nil
}
