package domain

import (
	"time"
)

// RiskReportRecord 风险报告主表
//
// OUTPUT 阶段写入一次，之后不再修改。
type RiskReportRecord struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TaskID      string `gorm:"type:varchar(36);index:idx_task_id" json:"task_id,omitempty"`
	PackageName string `gorm:"type:varchar(255);index:idx_package_name" json:"package_name"`
	VersionName string `gorm:"type:varchar(100)" json:"version_name,omitempty"`
	VersionCode string `gorm:"type:varchar(50)" json:"version_code,omitempty"`
	MinSDK      string `gorm:"type:varchar(10)" json:"min_sdk,omitempty"`
	TargetSDK   string `gorm:"type:varchar(10)" json:"target_sdk,omitempty"`

	// 权限概要
	TotalPermissions   int `gorm:"default:0" json:"total_permissions"`
	DangerousCount     int `gorm:"default:0" json:"dangerous_count"`
	OverprivilegeScore int `gorm:"type:tinyint;default:0" json:"overprivilege_score"`

	// 组件概要
	TotalComponents int `gorm:"default:0" json:"total_components"`
	ExportedCount   int `gorm:"default:0" json:"exported_count"`
	ExposedCount    int `gorm:"default:0" json:"exposed_count"`

	// 安全配置概要
	Debuggable               bool `gorm:"default:false" json:"debuggable"`
	AllowBackup              bool `gorm:"default:false" json:"allow_backup"`
	UsesCleartextTraffic     bool `gorm:"default:false" json:"uses_cleartext_traffic"`
	HasNetworkSecurityConfig bool `gorm:"default:false" json:"has_network_security_config"`
	TotalIssues              int  `gorm:"type:tinyint;default:0" json:"total_issues"`

	OverallRiskScore int `gorm:"type:tinyint;default:0" json:"overall_risk_score"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`

	// 关联子表
	Permissions []ReportPermission `gorm:"foreignKey:ReportID;references:ID" json:"permissions,omitempty"`
	Components  []ReportComponent  `gorm:"foreignKey:ReportID;references:ID" json:"components,omitempty"`
	Endpoints   []ReportEndpoint   `gorm:"foreignKey:ReportID;references:ID" json:"endpoints,omitempty"`
}

func (RiskReportRecord) TableName() string {
	return "risk_reports"
}

// ReportPermission 报告权限明细表
type ReportPermission struct {
	ID              uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportID        string `gorm:"type:varchar(36);index:idx_perm_report_id;not null" json:"report_id"`
	Name            string `gorm:"type:varchar(255);not null" json:"name"`
	ProtectionLevel string `gorm:"type:varchar(20)" json:"protection_level"`
}

func (ReportPermission) TableName() string {
	return "report_permissions"
}

// ReportComponent 报告组件明细表
type ReportComponent struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportID   string `gorm:"type:varchar(36);index:idx_comp_report_id;not null" json:"report_id"`
	Name       string `gorm:"type:varchar(500);not null" json:"name"`
	Type       string `gorm:"type:varchar(20)" json:"type"`
	Exported   bool   `gorm:"default:false" json:"exported"`
	Exposed    bool   `gorm:"default:false" json:"exposed"`
	Permission string `gorm:"type:varchar(255)" json:"permission,omitempty"`
}

func (ReportComponent) TableName() string {
	return "report_components"
}

// ReportEndpoint 报告端点明细表（不去重）
type ReportEndpoint struct {
	ID       uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	ReportID string `gorm:"type:varchar(36);index:idx_endpoint_report_id;not null" json:"report_id"`
	Value    string `gorm:"type:varchar(1000);not null" json:"value"`
	Type     string `gorm:"type:varchar(20)" json:"type"`
}

func (ReportEndpoint) TableName() string {
	return "report_endpoints"
}
