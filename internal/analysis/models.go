package analysis

// ProtectionLevel 权限保护级别
type ProtectionLevel string

const (
	ProtectionNormal    ProtectionLevel = "normal"
	ProtectionDangerous ProtectionLevel = "dangerous"
	ProtectionSignature ProtectionLevel = "signature"
	ProtectionUnknown   ProtectionLevel = "unknown"
)

// ComponentType Android 组件类型
type ComponentType string

const (
	ComponentActivity ComponentType = "activity"
	ComponentService  ComponentType = "service"
	ComponentReceiver ComponentType = "receiver"
	ComponentProvider ComponentType = "provider"
)

// Permission 应用声明的权限及其保护级别
type Permission struct {
	Name            string          `json:"name"`
	ProtectionLevel ProtectionLevel `json:"protection_level"`
}

// IntentFilter 组件声明的 intent-filter
type IntentFilter struct {
	Actions     []string `json:"actions,omitempty"`
	Categories  []string `json:"categories,omitempty"`
	DataSchemes []string `json:"data_schemes,omitempty"`
}

// Component Manifest 中声明的四大组件
//
// ExportedRaw 保留 manifest 中 android:exported 的原始三态值
// （未声明时为 nil）。Exported 是构造时一次性推导出的生效值：
// 未显式声明 exported 但声明了 intent-filter 的组件视为导出。
type Component struct {
	Name          string         `json:"name"`
	Type          ComponentType  `json:"type"`
	ExportedRaw   *bool          `json:"exported_raw,omitempty"`
	Exported      bool           `json:"exported"`
	Permission    string         `json:"permission,omitempty"` // 访问该组件所需权限
	IntentFilters []IntentFilter `json:"intent_filters,omitempty"`
}

// SecurityFlags Manifest 安全配置项
type SecurityFlags struct {
	Debuggable               bool `json:"debuggable"`
	AllowBackup              bool `json:"allow_backup"` // 未声明时默认 true
	UsesCleartextTraffic     bool `json:"uses_cleartext_traffic"`
	HasNetworkSecurityConfig bool `json:"has_network_security_config"`
}

// PackageFacts EXTRACT 阶段产出的声明性事实集合
type PackageFacts struct {
	PackageName string `json:"package_name"`
	VersionName string `json:"version_name"`
	VersionCode string `json:"version_code"`
	MinSDK      string `json:"min_sdk"`
	TargetSDK   string `json:"target_sdk"`

	Permissions []Permission  `json:"permissions"`
	Components  []Component   `json:"components"`
	Flags       SecurityFlags `json:"flags"`
}

// DecompiledArtifacts DECOMPILE 阶段产出（缺失不致命）
type DecompiledArtifacts struct {
	ManifestXML string   `json:"manifest_xml,omitempty"` // 反编译得到的明文 Manifest，可能为空
	Strings     []string `json:"strings,omitempty"`      // smali 代码中挖掘的候选字符串
}

// NewComponent 构造组件并推导生效的 exported 值
//
// 推导只发生在这里一次：显式声明优先；隐式规则为
// 有 intent-filter 且未声明 exported 时视为导出。
func NewComponent(name string, typ ComponentType, exportedRaw *bool, permission string, filters []IntentFilter) Component {
	c := Component{
		Name:          name,
		Type:          typ,
		ExportedRaw:   exportedRaw,
		Permission:    permission,
		IntentFilters: filters,
	}
	if exportedRaw != nil {
		c.Exported = *exportedRaw
	} else {
		c.Exported = len(filters) > 0
	}
	return c
}
