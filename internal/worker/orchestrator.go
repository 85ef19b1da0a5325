package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-scanner/apk-scanner-go/internal/analysis"
	"github.com/apk-scanner/apk-scanner-go/internal/domain"
	"github.com/apk-scanner/apk-scanner-go/internal/pipeline"
	"github.com/apk-scanner/apk-scanner-go/internal/repository"
	"github.com/apk-scanner/apk-scanner-go/internal/risk"
)

// ProgressBroadcaster 扫描进度广播接口（推送到前端）
type ProgressBroadcaster interface {
	BroadcastStage(taskID string, stage pipeline.StageResult, percent int)
	BroadcastCompleted(taskID string, riskScore int, reportID string)
	BroadcastFailed(taskID string, failureType string, message string)
}

// MetricsRecorder 扫描指标记录接口
type MetricsRecorder interface {
	RecordScanStarted()
	RecordScanCompleted(duration time.Duration, riskScore int)
	RecordScanFailed(duration time.Duration, failureType string)
	RecordStage(stage string, success bool)
}

// stageProgress 各阶段完成后的进度百分比
var stageProgress = map[string]int{
	pipeline.StageValidate:  20,
	pipeline.StageExtract:   40,
	pipeline.StageDecompile: 60,
	pipeline.StageOrganize:  80,
	pipeline.StageOutput:    100,
}

// Orchestrator 扫描任务编排器
//
// 从队列消息到任务终态的完整生命周期：加载任务、标记开始、
// 执行流水线、按阶段更新进度、落库终态并广播。
type Orchestrator struct {
	taskRepo    repository.TaskRepository
	reportRepo  repository.ReportRepository
	extractor   pipeline.Extractor
	decompiler  pipeline.Decompiler
	pipelineOpt pipeline.Options
	broadcaster ProgressBroadcaster
	metrics     MetricsRecorder
	logger      *logrus.Logger
}

// NewOrchestrator 创建编排器
// broadcaster: 进度广播器（可选，传 nil 则不推送）
func NewOrchestrator(
	taskRepo repository.TaskRepository,
	reportRepo repository.ReportRepository,
	extractor pipeline.Extractor,
	decompiler pipeline.Decompiler,
	pipelineOpt pipeline.Options,
	broadcaster ProgressBroadcaster,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		taskRepo:    taskRepo,
		reportRepo:  reportRepo,
		extractor:   extractor,
		decompiler:  decompiler,
		pipelineOpt: pipelineOpt,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// SetMetrics 设置指标记录器（可选）
func (o *Orchestrator) SetMetrics(metrics MetricsRecorder) {
	o.metrics = metrics
}

// taskReportStore 把报告存储绑定到具体任务
type taskReportStore struct {
	repo   repository.ReportRepository
	taskID string
}

func (s *taskReportStore) Store(ctx context.Context, report *risk.RiskReport) (string, error) {
	return s.repo.StoreForTask(ctx, s.taskID, report)
}

// ExecuteTask 执行单个扫描任务
//
// 返回的 error 仅用于 worker 日志；任务终态（completed/failed）
// 在本方法内已经落库，调用方不需要重试。
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID string) error {
	startTime := time.Now()

	task, err := o.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to load task: %w", err)
	}

	logger := o.logger.WithFields(logrus.Fields{
		"task_id":   taskID,
		"file_name": task.FileName,
	})
	logger.Info("Executing scan task")

	if err := o.taskRepo.MarkStarted(ctx, taskID); err != nil {
		return fmt.Errorf("failed to mark task started: %w", err)
	}
	if o.metrics != nil {
		o.metrics.RecordScanStarted()
	}

	apkBytes, err := os.ReadFile(task.FilePath)
	if err != nil {
		logger.WithError(err).Error("Failed to read APK file")
		o.finishFailed(ctx, taskID, domain.FailureTypeUnknown,
			fmt.Sprintf("read apk file: %v", err), "")
		return err
	}

	opts := o.pipelineOpt
	opts.OnStage = func(r pipeline.StageResult) {
		percent := stageProgress[r.Stage]
		if err := o.taskRepo.UpdateProgress(ctx, taskID, r.Stage, percent); err != nil {
			logger.WithError(err).Warn("Failed to update task progress")
		}
		if o.broadcaster != nil {
			o.broadcaster.BroadcastStage(taskID, r, percent)
		}
		if o.metrics != nil {
			o.metrics.RecordStage(r.Stage, r.Success)
		}
	}

	store := &taskReportStore{repo: o.reportRepo, taskID: taskID}
	p := pipeline.New(o.logger, o.extractor, o.decompiler, store, opts)

	results, report, runErr := p.Run(ctx, apkBytes, task.FileName)

	stageJSON := marshalStageResults(results, logger)

	if runErr != nil {
		failureType := classifyFailure(runErr)
		logger.WithError(runErr).WithFields(logrus.Fields{
			"failure_type": failureType,
			"can_retry":    failureType.CanRetry(),
		}).Warn("Scan task failed")

		o.finishFailed(ctx, taskID, failureType, runErr.Error(), stageJSON)
		if o.metrics != nil {
			o.metrics.RecordScanFailed(time.Since(startTime), string(failureType))
		}

		// 持久化失败时报告已经算出，分数一并留痕
		if report != nil {
			logger.WithField("risk_score", report.OverallRiskScore).
				Info("Report was computed but not persisted")
		}
		return runErr
	}

	if err := o.taskRepo.MarkCompleted(ctx, taskID,
		report.PackageName, report.ID, report.OverallRiskScore, stageJSON); err != nil {
		logger.WithError(err).Error("Failed to mark task completed")
		return err
	}

	if o.broadcaster != nil {
		o.broadcaster.BroadcastCompleted(taskID, report.OverallRiskScore, report.ID)
	}
	if o.metrics != nil {
		o.metrics.RecordScanCompleted(time.Since(startTime), report.OverallRiskScore)
	}

	logger.WithFields(logrus.Fields{
		"package_name": report.PackageName,
		"risk_score":   report.OverallRiskScore,
		"report_id":    report.ID,
		"duration_ms":  time.Since(startTime).Milliseconds(),
	}).Info("Scan task completed")

	return nil
}

// finishFailed 落库失败终态并广播
func (o *Orchestrator) finishFailed(ctx context.Context, taskID string, failureType domain.FailureType, message, stageJSON string) {
	if err := o.taskRepo.UpdateFailure(ctx, taskID, failureType, message, stageJSON); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Error("Failed to record task failure")
	}
	if o.broadcaster != nil {
		o.broadcaster.BroadcastFailed(taskID, string(failureType), message)
	}
}

// classifyFailure 把流水线错误映射为失败类型
func classifyFailure(err error) domain.FailureType {
	var (
		validationErr  *pipeline.ValidationError
		malformedErr   *analysis.MalformedInputError
		capabilityErr  *analysis.CapabilityUnavailableError
		organizeErr    *pipeline.OrganizeError
		persistenceErr *pipeline.PersistenceError
	)
	switch {
	case errors.As(err, &validationErr):
		return domain.FailureTypeValidation
	case errors.As(err, &malformedErr):
		return domain.FailureTypeMalformedInput
	case errors.As(err, &capabilityErr):
		return domain.FailureTypeCapabilityUnavailable
	case errors.As(err, &organizeErr):
		return domain.FailureTypeAnalysisError
	case errors.As(err, &persistenceErr):
		return domain.FailureTypePersistenceError
	default:
		return domain.FailureTypeUnknown
	}
}

func marshalStageResults(results []pipeline.StageResult, logger *logrus.Entry) string {
	data, err := json.Marshal(results)
	if err != nil {
		logger.WithError(err).Warn("Failed to marshal stage results")
		return ""
	}
	return string(data)
}
