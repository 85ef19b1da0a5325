package analysis

import (
	"regexp"
	"strconv"
	"strings"
)

// dangerousPermissions 需要重点关注的危险权限集合
var dangerousPermissions = map[string]struct{}{
	"android.permission.READ_SMS":               {},
	"android.permission.RECEIVE_SMS":            {},
	"android.permission.SEND_SMS":               {},
	"android.permission.ACCESS_FINE_LOCATION":   {},
	"android.permission.ACCESS_COARSE_LOCATION": {},
	"android.permission.READ_CONTACTS":          {},
	"android.permission.WRITE_CONTACTS":         {},
	"android.permission.CAMERA":                 {},
	"android.permission.RECORD_AUDIO":           {},
	"android.permission.READ_PHONE_STATE":       {},
	"android.permission.CALL_PHONE":             {},
	"android.permission.READ_CALL_LOG":          {},
	"android.permission.WRITE_CALL_LOG":         {},
	"android.permission.READ_EXTERNAL_STORAGE":  {},
	"android.permission.WRITE_EXTERNAL_STORAGE": {},
}

// ClassifyPermission 按名称推导权限保护级别
func ClassifyPermission(name string) ProtectionLevel {
	if name == "" {
		return ProtectionUnknown
	}
	if _, ok := dangerousPermissions[name]; ok {
		return ProtectionDangerous
	}
	if strings.HasPrefix(name, "android.permission.") || strings.HasPrefix(name, "com.android.") {
		return ProtectionNormal
	}
	// 自定义权限按 signature 处理
	return ProtectionSignature
}

// xmlNode aapt2 dump xmltree 输出的元素节点
type xmlNode struct {
	name     string
	attrs    map[string]string
	children []*xmlNode
}

func (n *xmlNode) attr(key string) (string, bool) {
	v, ok := n.attrs[key]
	return v, ok
}

func (n *xmlNode) boolAttr(key string) (bool, bool) {
	v, ok := n.attrs[key]
	if !ok {
		return false, false
	}
	return v == "true", true
}

// find 返回第一个匹配名称的直接子节点
func (n *xmlNode) find(name string) *xmlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *xmlNode) findAll(name string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

var (
	elementRe = regexp.MustCompile(`^E: ([\w-]+)`)
	// 字符串属性：A: android:name(0x01010003)="..." 或 A: package="..."
	strAttrRe = regexp.MustCompile(`^A: (?:android:)?([\w]+)(?:\([^)]*\))?="([^"]*)"`)
	// 类型化属性：A: android:exported(0x...)=(type 0x12)0xffffffff
	typedAttrRe = regexp.MustCompile(`^A: (?:android:)?([\w]+)(?:\([^)]*\))?=\(type 0x([0-9a-f]+)\)0x([0-9a-f]+)`)
)

// parseXMLTree 解析 aapt2 dump xmltree 的缩进文本为节点树
//
// aapt2 输出以 2 空格缩进表达嵌套；属性行（A:）归属于最近的
// 元素行（E:）。布尔属性（type 0x12）非零即 true，整型属性
// （type 0x10）转为十进制字符串。
func parseXMLTree(output string) *xmlNode {
	root := &xmlNode{name: "", attrs: map[string]string{}}
	// stack[depth] 为该缩进深度上最近打开的元素
	stack := []*xmlNode{root}

	for _, rawLine := range strings.Split(output, "\n") {
		trimmed := strings.TrimLeft(rawLine, " ")
		indent := len(rawLine) - len(trimmed)
		// 元素深度由缩进决定：根元素（manifest）深度为 1
		depth := indent / 2
		if depth < 1 {
			depth = 1
		}
		if depth > len(stack) {
			depth = len(stack)
		}

		if m := elementRe.FindStringSubmatch(trimmed); m != nil {
			node := &xmlNode{name: m[1], attrs: map[string]string{}}
			parent := stack[depth-1]
			parent.children = append(parent.children, node)
			stack = append(stack[:depth], node)
			continue
		}

		if !strings.HasPrefix(trimmed, "A: ") || len(stack) < 2 {
			continue
		}
		current := stack[len(stack)-1]
		if m := strAttrRe.FindStringSubmatch(trimmed); m != nil {
			current.attrs[m[1]] = m[2]
			continue
		}
		if m := typedAttrRe.FindStringSubmatch(trimmed); m != nil {
			key, typ, hexVal := m[1], m[2], m[3]
			switch typ {
			case "12": // boolean
				if hexVal == "0" {
					current.attrs[key] = "false"
				} else {
					current.attrs[key] = "true"
				}
			default: // 整型等按十进制字符串存储
				if v, err := strconv.ParseInt(hexVal, 16, 64); err == nil {
					current.attrs[key] = strconv.FormatInt(v, 10)
				}
			}
		}
	}

	return root
}

// FactsFromXMLTree 将 aapt2 dump xmltree 输出组织为 PackageFacts
func FactsFromXMLTree(output string) *PackageFacts {
	root := parseXMLTree(output)
	facts := &PackageFacts{
		Permissions: []Permission{},
		Components:  []Component{},
	}

	manifest := root.find("manifest")
	if manifest == nil {
		return facts
	}

	facts.PackageName, _ = manifest.attr("package")
	facts.VersionName, _ = manifest.attr("versionName")
	facts.VersionCode, _ = manifest.attr("versionCode")

	if sdk := manifest.find("uses-sdk"); sdk != nil {
		facts.MinSDK, _ = sdk.attr("minSdkVersion")
		facts.TargetSDK, _ = sdk.attr("targetSdkVersion")
	}

	for _, perm := range manifest.findAll("uses-permission") {
		name, ok := perm.attr("name")
		if !ok || name == "" {
			continue
		}
		facts.Permissions = append(facts.Permissions, Permission{
			Name:            name,
			ProtectionLevel: ClassifyPermission(name),
		})
	}

	app := manifest.find("application")
	if app == nil {
		return facts
	}

	// 安全配置项：allowBackup 未声明时默认 true
	facts.Flags.Debuggable, _ = app.boolAttr("debuggable")
	if v, ok := app.boolAttr("allowBackup"); ok {
		facts.Flags.AllowBackup = v
	} else {
		facts.Flags.AllowBackup = true
	}
	facts.Flags.UsesCleartextTraffic, _ = app.boolAttr("usesCleartextTraffic")
	if nsc, ok := app.attr("networkSecurityConfig"); ok && nsc != "" {
		facts.Flags.HasNetworkSecurityConfig = true
	}

	componentTags := []struct {
		tag string
		typ ComponentType
	}{
		{"activity", ComponentActivity},
		{"activity-alias", ComponentActivity},
		{"service", ComponentService},
		{"receiver", ComponentReceiver},
		{"provider", ComponentProvider},
	}
	for _, ct := range componentTags {
		for _, node := range app.findAll(ct.tag) {
			facts.Components = append(facts.Components, componentFromNode(node, ct.typ))
		}
	}

	return facts
}

func componentFromNode(node *xmlNode, typ ComponentType) Component {
	name, _ := node.attr("name")
	permission, _ := node.attr("permission")

	var exportedRaw *bool
	if v, ok := node.boolAttr("exported"); ok {
		exportedRaw = &v
	}

	var filters []IntentFilter
	for _, f := range node.findAll("intent-filter") {
		filter := IntentFilter{}
		for _, a := range f.findAll("action") {
			if v, ok := a.attr("name"); ok {
				filter.Actions = append(filter.Actions, v)
			}
		}
		for _, c := range f.findAll("category") {
			if v, ok := c.attr("name"); ok {
				filter.Categories = append(filter.Categories, v)
			}
		}
		for _, d := range f.findAll("data") {
			if v, ok := d.attr("scheme"); ok {
				filter.DataSchemes = append(filter.DataSchemes, v)
			}
		}
		filters = append(filters, filter)
	}

	return NewComponent(name, typ, exportedRaw, permission, filters)
}
