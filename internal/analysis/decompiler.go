package analysis

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// urlRe smali 代码中硬编码 URL 的匹配模式
var urlRe = regexp.MustCompile(`https?://[^\s'"\\]+`)

// Decompiler 基于 apktool 的反编译适配器
type Decompiler struct {
	logger      *logrus.Logger
	apktoolPath string
	workDir     string
	keepOutput  bool // 是否保留反编译输出目录
}

// NewDecompiler 创建反编译适配器，path 为空时从 PATH 查找 apktool
func NewDecompiler(logger *logrus.Logger, apktoolPath, workDir string, keepOutput bool) *Decompiler {
	if apktoolPath == "" {
		apktoolPath = "apktool"
	}
	return &Decompiler{
		logger:      logger,
		apktoolPath: apktoolPath,
		workDir:     workDir,
		keepOutput:  keepOutput,
	}
}

// Probe 检查 apktool 是否可用
func (d *Decompiler) Probe() error {
	cmd := exec.Command(d.apktoolPath, "--version")
	if err := cmd.Run(); err != nil {
		return &CapabilityUnavailableError{Capability: "apktool", Err: err}
	}
	return nil
}

// Decompile 反编译 APK 并挖掘候选字符串
//
// 任何失败（工具缺失、反编译出错）都包装为 DecompileError，
// 由调用方按可恢复策略处理。
func (d *Decompiler) Decompile(ctx context.Context, apkPath string) (*DecompiledArtifacts, error) {
	startTime := time.Now()

	outDir, err := os.MkdirTemp(d.workDir, "decompiled-*")
	if err != nil {
		return nil, &DecompileError{Err: fmt.Errorf("failed to create output dir: %w", err)}
	}
	if !d.keepOutput {
		defer os.RemoveAll(outDir)
	}

	cmd := exec.CommandContext(ctx, d.apktoolPath, "d", "-f", "-o", outDir, apkPath)
	if output, err := cmd.CombinedOutput(); err != nil {
		d.logger.WithFields(logrus.Fields{
			"apk_path": apkPath,
			"output":   truncate(string(output), 512),
		}).Warn("apktool failed")
		return nil, &DecompileError{Err: fmt.Errorf("apktool failed: %w", err)}
	}

	artifacts := &DecompiledArtifacts{}

	// 反编译后的明文 Manifest（可能缺失，不视为错误）
	if data, err := os.ReadFile(filepath.Join(outDir, "AndroidManifest.xml")); err == nil {
		artifacts.ManifestXML = string(data)
	}

	// 扫描 smali 代码挖掘硬编码 URL，不去重
	artifacts.Strings = d.mineStrings(outDir)

	d.logger.WithFields(logrus.Fields{
		"apk_path":    apkPath,
		"strings":     len(artifacts.Strings),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("Decompilation completed")

	return artifacts, nil
}

// mineStrings 遍历 smali 目录收集 URL 候选字符串
func (d *Decompiler) mineStrings(outDir string) []string {
	var candidates []string

	filepath.WalkDir(outDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".smali") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		candidates = append(candidates, urlRe.FindAllString(string(data), -1)...)
		return nil
	})

	return candidates
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
