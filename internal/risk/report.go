package risk

import "github.com/apk-scanner/apk-scanner-go/internal/analysis"

// EndpointType 端点类型
type EndpointType string

const (
	EndpointHardcoded EndpointType = "hardcoded" // 代码中硬编码的 URL
	EndpointDeepLink  EndpointType = "deep_link" // Manifest 声明的 deep-link scheme
)

// Endpoint 发现的网络端点（不去重）
type Endpoint struct {
	Value string       `json:"value"`
	Type  EndpointType `json:"type"`
}

// PermissionSummary 权限风险概要
type PermissionSummary struct {
	Total              int                              `json:"total"`
	ByProtectionLevel  map[analysis.ProtectionLevel]int `json:"by_protection_level"`
	Dangerous          []string                         `json:"dangerous"`
	OverprivilegeScore int                              `json:"overprivilege_score"`
}

// ComponentSummary 组件暴露概要
type ComponentSummary struct {
	Total    int      `json:"total"`
	Exported int      `json:"exported"`
	Exposed  []string `json:"exposed"` // 导出且无权限保护的组件
}

// SecuritySummary Manifest 安全配置概要
type SecuritySummary struct {
	Debuggable               bool     `json:"debuggable"`
	AllowBackup              bool     `json:"allow_backup"`
	UsesCleartextTraffic     bool     `json:"uses_cleartext_traffic"`
	HasNetworkSecurityConfig bool     `json:"network_security_config"`
	Issues                   []string `json:"issues"`
	TotalIssues              int      `json:"total_issues"`
}

// RiskReport 流水线的最终产物：事实 + 派生的风险指标
//
// ORGANIZE 阶段构造一次，持久化后不可变。ID 由持久化网关
// 在 OUTPUT 阶段写入成功后分配。
type RiskReport struct {
	ID          string `json:"id,omitempty"`
	PackageName string `json:"package_name"`
	VersionName string `json:"version_name"`
	VersionCode string `json:"version_code"`
	MinSDK      string `json:"min_sdk"`
	TargetSDK   string `json:"target_sdk"`

	Permissions   PermissionSummary `json:"permissions"`
	Components    ComponentSummary  `json:"components"`
	SecurityFlags SecuritySummary   `json:"security_flags"`
	Endpoints     []Endpoint        `json:"endpoints"`

	OverallRiskScore int `json:"overall_risk_score"` // 0-10
}
