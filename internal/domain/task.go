package domain

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusAnalyzing TaskStatus = "analyzing"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// FailureType 失败类型
type FailureType string

const (
	FailureTypeNone                  FailureType = ""                       // 无失败（成功或进行中）
	FailureTypeValidation            FailureType = "validation_error"       // 包校验失败（警告-输入问题）
	FailureTypeMalformedInput        FailureType = "malformed_input"        // 包结构损坏（警告-输入问题）
	FailureTypeCapabilityUnavailable FailureType = "capability_unavailable" // 分析工具不可用（异常-环境问题）
	FailureTypeAnalysisError         FailureType = "analysis_error"         // 分析过程错误（异常-程序问题）
	FailureTypePersistenceError      FailureType = "persistence_error"      // 报告持久化失败（异常-存储问题）
	FailureTypeUnknown               FailureType = "unknown"                // 未知错误（异常）
)

// FailureSeverity 失败严重程度
type FailureSeverity string

const (
	FailureSeverityNormal  FailureSeverity = "normal"  // 正常
	FailureSeverityWarning FailureSeverity = "warning" // 警告（需要关注）
	FailureSeverityError   FailureSeverity = "error"   // 错误（需要排查）
)

// GetSeverity 获取失败类型对应的严重程度
func (ft FailureType) GetSeverity() FailureSeverity {
	switch ft {
	case FailureTypeNone:
		return FailureSeverityNormal
	case FailureTypeValidation, FailureTypeMalformedInput:
		return FailureSeverityWarning // 输入问题，需关注
	case FailureTypeCapabilityUnavailable, FailureTypeAnalysisError, FailureTypePersistenceError, FailureTypeUnknown:
		return FailureSeverityError // 系统问题，需排查
	default:
		return FailureSeverityError
	}
}

// CanRetry 检查失败类型是否值得重新入队
//
// 输入本身的问题重试无意义；环境和存储问题恢复后可重试。
func (ft FailureType) CanRetry() bool {
	switch ft {
	case FailureTypeCapabilityUnavailable, FailureTypePersistenceError, FailureTypeUnknown:
		return true
	default:
		return false
	}
}

// ScanTask 扫描任务表
type ScanTask struct {
	ID           string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FileName     string      `gorm:"type:varchar(255);not null" json:"file_name"`
	FileSize     int64       `gorm:"not null;default:0" json:"file_size"`
	FilePath     string      `gorm:"type:varchar(500)" json:"file_path,omitempty"` // 落盘路径，worker 从这里读取
	SHA256       string      `gorm:"type:varchar(64);index:idx_sha256" json:"sha256,omitempty"`
	PackageName  string      `gorm:"type:varchar(255)" json:"package_name,omitempty"`
	Status       TaskStatus  `gorm:"type:varchar(20);not null;default:'queued'" json:"status"`
	FailureType  FailureType `gorm:"type:varchar(30);default:''" json:"failure_type,omitempty"`
	ErrorMessage string      `gorm:"type:text" json:"error_message,omitempty"`

	CurrentStage    string `gorm:"type:varchar(20)" json:"current_stage,omitempty"`
	ProgressPercent int    `gorm:"type:tinyint;default:0" json:"progress_percent"`

	// 五阶段审计记录，JSON 序列化存储
	StageResultsJSON string `gorm:"type:text" json:"stage_results_json,omitempty"`

	RiskScore int    `gorm:"type:tinyint;default:0" json:"risk_score"`
	ReportID  string `gorm:"type:varchar(36);index:idx_report_id" json:"report_id,omitempty"`

	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (ScanTask) TableName() string {
	return "scan_tasks"
}
