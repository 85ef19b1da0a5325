package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXMLTree = `N: android=http://schemas.android.com/apk/res/android (line=2)
  E: manifest (line=2)
    A: android:versionCode(0x0101021b)=(type 0x10)0x7
    A: android:versionName(0x0101021c)="1.2.3" (Raw: "1.2.3")
    A: package="com.example.demo" (Raw: "com.example.demo")
    E: uses-sdk (line=7)
      A: android:minSdkVersion(0x0101020c)=(type 0x10)0x15
      A: android:targetSdkVersion(0x01010270)=(type 0x10)0x21
    E: uses-permission (line=9)
      A: android:name(0x01010003)="android.permission.CAMERA" (Raw: "android.permission.CAMERA")
    E: uses-permission (line=10)
      A: android:name(0x01010003)="android.permission.INTERNET" (Raw: "android.permission.INTERNET")
    E: uses-permission (line=11)
      A: android:name(0x01010003)="com.example.demo.CUSTOM" (Raw: "com.example.demo.CUSTOM")
    E: application (line=12)
      A: android:debuggable(0x0101000f)=(type 0x12)0xffffffff
      A: android:allowBackup(0x01010280)=(type 0x12)0x0
      E: activity (line=13)
        A: android:name(0x01010003)="com.example.demo.MainActivity" (Raw: "com.example.demo.MainActivity")
        E: intent-filter (line=15)
          E: action (line=16)
            A: android:name(0x01010003)="android.intent.action.MAIN" (Raw: "android.intent.action.MAIN")
          E: category (line=17)
            A: android:name(0x01010003)="android.intent.category.LAUNCHER" (Raw: "android.intent.category.LAUNCHER")
      E: activity (line=19)
        A: android:name(0x01010003)="com.example.demo.DeepLinkActivity" (Raw: "com.example.demo.DeepLinkActivity")
        A: android:exported(0x01010010)=(type 0x12)0xffffffff
        E: intent-filter (line=21)
          E: action (line=22)
            A: android:name(0x01010003)="android.intent.action.VIEW" (Raw: "android.intent.action.VIEW")
          E: data (line=23)
            A: android:scheme(0x01010027)="demoapp" (Raw: "demoapp")
      E: service (line=25)
        A: android:name(0x01010003)="com.example.demo.SyncService" (Raw: "com.example.demo.SyncService")
        A: android:exported(0x01010010)=(type 0x12)0x0
      E: provider (line=27)
        A: android:name(0x01010003)="com.example.demo.DataProvider" (Raw: "com.example.demo.DataProvider")
        A: android:exported(0x01010010)=(type 0x12)0xffffffff
        A: android:permission(0x01010006)="com.example.demo.ACCESS_DATA" (Raw: "com.example.demo.ACCESS_DATA")
`

// TestFactsFromXMLTree_Basic 验证包基本信息解析
func TestFactsFromXMLTree_Basic(t *testing.T) {
	facts := FactsFromXMLTree(sampleXMLTree)

	assert.Equal(t, "com.example.demo", facts.PackageName)
	assert.Equal(t, "1.2.3", facts.VersionName)
	assert.Equal(t, "7", facts.VersionCode)
	assert.Equal(t, "21", facts.MinSDK)
	assert.Equal(t, "33", facts.TargetSDK)
}

// TestFactsFromXMLTree_Permissions 验证权限提取与保护级别分类
func TestFactsFromXMLTree_Permissions(t *testing.T) {
	facts := FactsFromXMLTree(sampleXMLTree)

	require.Len(t, facts.Permissions, 3)
	assert.Equal(t, "android.permission.CAMERA", facts.Permissions[0].Name)
	assert.Equal(t, ProtectionDangerous, facts.Permissions[0].ProtectionLevel)
	assert.Equal(t, ProtectionNormal, facts.Permissions[1].ProtectionLevel)
	assert.Equal(t, ProtectionSignature, facts.Permissions[2].ProtectionLevel)
}

// TestFactsFromXMLTree_Components 验证组件提取与导出状态
func TestFactsFromXMLTree_Components(t *testing.T) {
	facts := FactsFromXMLTree(sampleXMLTree)

	require.Len(t, facts.Components, 4)

	main := facts.Components[0]
	assert.Equal(t, "com.example.demo.MainActivity", main.Name)
	assert.Equal(t, ComponentActivity, main.Type)
	// 未显式声明 exported 但有 intent-filter：隐式导出
	assert.Nil(t, main.ExportedRaw)
	assert.True(t, main.Exported)

	deepLink := facts.Components[1]
	require.NotNil(t, deepLink.ExportedRaw)
	assert.True(t, *deepLink.ExportedRaw)
	assert.True(t, deepLink.Exported)
	require.Len(t, deepLink.IntentFilters, 1)
	assert.Equal(t, []string{"demoapp"}, deepLink.IntentFilters[0].DataSchemes)

	service := facts.Components[2]
	assert.Equal(t, ComponentService, service.Type)
	assert.False(t, service.Exported)

	provider := facts.Components[3]
	assert.Equal(t, ComponentProvider, provider.Type)
	assert.True(t, provider.Exported)
	assert.Equal(t, "com.example.demo.ACCESS_DATA", provider.Permission)
}

// TestFactsFromXMLTree_SecurityFlags 验证安全配置项
func TestFactsFromXMLTree_SecurityFlags(t *testing.T) {
	facts := FactsFromXMLTree(sampleXMLTree)

	assert.True(t, facts.Flags.Debuggable)
	assert.False(t, facts.Flags.AllowBackup)
	assert.False(t, facts.Flags.UsesCleartextTraffic)
	assert.False(t, facts.Flags.HasNetworkSecurityConfig)
}

// TestFactsFromXMLTree_AllowBackupDefault allowBackup 未声明时默认 true
func TestFactsFromXMLTree_AllowBackupDefault(t *testing.T) {
	output := `N: android=http://schemas.android.com/apk/res/android (line=2)
  E: manifest (line=2)
    A: package="com.example.minimal" (Raw: "com.example.minimal")
    E: application (line=3)
      A: android:label(0x01010001)="Minimal" (Raw: "Minimal")
`
	facts := FactsFromXMLTree(output)

	assert.Equal(t, "com.example.minimal", facts.PackageName)
	assert.True(t, facts.Flags.AllowBackup)
	assert.False(t, facts.Flags.Debuggable)
}

// TestClassifyPermission 权限保护级别推导
func TestClassifyPermission(t *testing.T) {
	tests := []struct {
		name     string
		expected ProtectionLevel
	}{
		{"android.permission.READ_SMS", ProtectionDangerous},
		{"android.permission.ACCESS_FINE_LOCATION", ProtectionDangerous},
		{"android.permission.INTERNET", ProtectionNormal},
		{"com.android.launcher.permission.INSTALL_SHORTCUT", ProtectionNormal},
		{"com.example.app.CUSTOM_PERMISSION", ProtectionSignature},
		{"", ProtectionUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ClassifyPermission(tt.name), tt.name)
	}
}

// TestNewComponent_ExportDerivation 导出状态推导规则
func TestNewComponent_ExportDerivation(t *testing.T) {
	boolPtr := func(v bool) *bool { return &v }
	filters := []IntentFilter{{Actions: []string{"android.intent.action.VIEW"}}}

	// 有 intent-filter、未声明 exported：视为导出
	implicit := NewComponent("a.B", ComponentActivity, nil, "", filters)
	assert.True(t, implicit.Exported)

	// 显式 exported=false 覆盖隐式规则
	explicit := NewComponent("a.C", ComponentActivity, boolPtr(false), "", filters)
	assert.False(t, explicit.Exported)

	// 无 intent-filter、未声明 exported：不导出
	closed := NewComponent("a.D", ComponentService, nil, "", nil)
	assert.False(t, closed.Exported)
}
