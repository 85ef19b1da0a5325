package analysis

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/sirupsen/logrus"
)

// Extractor 基于 aapt2 的包信息提取器
type Extractor struct {
	logger   *logrus.Logger
	aaptPath string
}

// NewExtractor 创建提取器，path 为空时从 PATH 查找 aapt2
func NewExtractor(logger *logrus.Logger, aaptPath string) *Extractor {
	if aaptPath == "" {
		aaptPath = "aapt2"
	}
	return &Extractor{
		logger:   logger,
		aaptPath: aaptPath,
	}
}

// Probe 检查 aapt2 是否可用
func (e *Extractor) Probe() error {
	cmd := exec.Command(e.aaptPath, "version")
	if err := cmd.Run(); err != nil {
		return &CapabilityUnavailableError{Capability: "aapt2", Err: err}
	}
	return nil
}

// Extract 从 APK 提取声明性事实（包名、权限、组件、安全配置）
//
// 工具缺失返回 CapabilityUnavailableError；aapt2 拒绝输入
// （包结构损坏）返回 MalformedInputError。
func (e *Extractor) Extract(ctx context.Context, apkPath string) (*PackageFacts, error) {
	startTime := time.Now()

	cmd := exec.CommandContext(ctx, e.aaptPath, "dump", "xmltree", apkPath, "AndroidManifest.xml")
	output, err := cmd.Output()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, &CapabilityUnavailableError{Capability: "aapt2", Err: err}
		}
		if ctx.Err() != nil {
			return nil, &CapabilityUnavailableError{Capability: "aapt2", Err: fmt.Errorf("aapt2 timed out: %w", ctx.Err())}
		}
		// aapt2 正常退出码失败说明输入不是合法 APK
		return nil, &MalformedInputError{Reason: "aapt2 rejected package", Err: err}
	}

	facts := FactsFromXMLTree(string(output))
	if facts.PackageName == "" {
		return nil, &MalformedInputError{Reason: "no package name in manifest"}
	}

	e.logger.WithFields(logrus.Fields{
		"package_name": facts.PackageName,
		"permissions":  len(facts.Permissions),
		"components":   len(facts.Components),
		"duration_ms":  time.Since(startTime).Milliseconds(),
	}).Info("Manifest extraction completed")

	return facts, nil
}
