package risk

import (
	"strings"

	"github.com/apk-scanner/apk-scanner-go/internal/analysis"
)

// overprivilegeBaseline 危险权限基线：超出该数量才计入过度授权
const overprivilegeBaseline = 2

// Assess 在提取的事实上计算完整的风险报告
//
// 纯函数：相同输入产出相同报告，缺失的输入按零值概要处理，
// 永不返回错误。facts 或 artifacts 为 nil 时按空值处理。
func Assess(facts *analysis.PackageFacts, artifacts *analysis.DecompiledArtifacts) *RiskReport {
	// 事实完全缺失时不做任何配置项判定：无法分析不等于存在风险
	if facts == nil {
		return &RiskReport{
			Permissions:   PermissionSummary{ByProtectionLevel: map[analysis.ProtectionLevel]int{}, Dangerous: []string{}},
			Components:    ComponentSummary{Exposed: []string{}},
			SecurityFlags: SecuritySummary{Issues: []string{}},
			Endpoints:     ClassifyEndpoints(artifacts, nil),
		}
	}

	report := &RiskReport{
		PackageName: facts.PackageName,
		VersionName: facts.VersionName,
		VersionCode: facts.VersionCode,
		MinSDK:      facts.MinSDK,
		TargetSDK:   facts.TargetSDK,

		Permissions:   SummarizePermissions(facts.Permissions),
		Components:    SummarizeComponents(facts.Components),
		SecurityFlags: SummarizeFlags(facts.Flags),
		Endpoints:     ClassifyEndpoints(artifacts, facts.Components),
	}

	report.OverallRiskScore = AggregateScore(
		report.Permissions.OverprivilegeScore,
		len(report.Components.Exposed),
		report.SecurityFlags.TotalIssues,
	)

	return report
}

// SummarizePermissions 按保护级别统计权限并计算过度授权分
//
// 过度授权分随危险权限数量单调增长，超出基线后线性计分，
// 饱和于 10。
func SummarizePermissions(perms []analysis.Permission) PermissionSummary {
	summary := PermissionSummary{
		Total:             len(perms),
		ByProtectionLevel: map[analysis.ProtectionLevel]int{},
		Dangerous:         []string{},
	}

	for _, p := range perms {
		summary.ByProtectionLevel[p.ProtectionLevel]++
		if p.ProtectionLevel == analysis.ProtectionDangerous {
			summary.Dangerous = append(summary.Dangerous, p.Name)
		}
	}

	over := len(summary.Dangerous) - overprivilegeBaseline
	if over < 0 {
		over = 0
	}
	if over > 10 {
		over = 10
	}
	summary.OverprivilegeScore = over

	return summary
}

// SummarizeComponents 组件暴露分析
//
// exposed 的判定：导出且未声明访问权限。隐式导出规则在
// Component 构造时已经生效，这里只读取最终的 Exported 值。
func SummarizeComponents(components []analysis.Component) ComponentSummary {
	summary := ComponentSummary{
		Total:   len(components),
		Exposed: []string{},
	}

	for _, c := range components {
		if !c.Exported {
			continue
		}
		summary.Exported++
		if c.Permission == "" {
			summary.Exposed = append(summary.Exposed, c.Name)
		}
	}

	return summary
}

// SummarizeFlags Manifest 安全配置分析，每项独立计为一个问题
func SummarizeFlags(flags analysis.SecurityFlags) SecuritySummary {
	summary := SecuritySummary{
		Debuggable:               flags.Debuggable,
		AllowBackup:              flags.AllowBackup,
		UsesCleartextTraffic:     flags.UsesCleartextTraffic,
		HasNetworkSecurityConfig: flags.HasNetworkSecurityConfig,
		Issues:                   []string{},
	}

	if flags.Debuggable {
		summary.Issues = append(summary.Issues, "debuggable enabled")
	}
	if flags.AllowBackup {
		summary.Issues = append(summary.Issues, "backup allowed")
	}
	if flags.UsesCleartextTraffic {
		summary.Issues = append(summary.Issues, "cleartext traffic allowed")
	}
	if !flags.HasNetworkSecurityConfig {
		summary.Issues = append(summary.Issues, "no network security config")
	}
	summary.TotalIssues = len(summary.Issues)

	return summary
}

// ClassifyEndpoints 端点分类：代码中挖掘的 URL 为 hardcoded，
// intent-filter 声明的非 http(s) scheme 为 deep_link。两类来源
// 可以合法共存，不做去重。
func ClassifyEndpoints(artifacts *analysis.DecompiledArtifacts, components []analysis.Component) []Endpoint {
	endpoints := []Endpoint{}

	if artifacts != nil {
		for _, s := range artifacts.Strings {
			if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
				endpoints = append(endpoints, Endpoint{Value: s, Type: EndpointHardcoded})
			}
		}
	}

	for _, c := range components {
		for _, f := range c.IntentFilters {
			for _, scheme := range f.DataSchemes {
				if scheme == "http" || scheme == "https" {
					continue
				}
				endpoints = append(endpoints, Endpoint{Value: scheme + "://", Type: EndpointDeepLink})
			}
		}
	}

	return endpoints
}

// AggregateScore 综合风险评分
//
// 三个维度各自封顶后求和，总分饱和于 10：
// min( min(overpriv,4) + min(2·exposed,3) + min(2·flags,3), 10 )。
// 对每个维度单调非减，输出恒在 [0,10]。
func AggregateScore(overprivilege, exposedCount, flagIssues int) int {
	if overprivilege < 0 {
		overprivilege = 0
	}
	if exposedCount < 0 {
		exposedCount = 0
	}
	if flagIssues < 0 {
		flagIssues = 0
	}

	permPart := overprivilege
	if permPart > 4 {
		permPart = 4
	}
	compPart := exposedCount * 2
	if compPart > 3 {
		compPart = 3
	}
	flagPart := flagIssues * 2
	if flagPart > 3 {
		flagPart = 3
	}

	score := permPart + compPart + flagPart
	if score > 10 {
		score = 10
	}
	return score
}
