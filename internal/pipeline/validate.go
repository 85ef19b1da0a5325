package pipeline

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultMaxFileSize 默认接受的最大 APK 大小（100 MiB）
const DefaultMaxFileSize int64 = 100 * 1024 * 1024

// validate 校验上传的包：非空、大小限制、.apk 扩展名、
// 合法 ZIP、包含 AndroidManifest.xml 且至少一个 .dex
func validate(apkBytes []byte, filename string, maxSize int64) *ValidationError {
	if len(apkBytes) == 0 {
		return &ValidationError{Reason: "empty file"}
	}
	if int64(len(apkBytes)) > maxSize {
		return &ValidationError{Reason: fmt.Sprintf(
			"file size %d exceeds limit %d", len(apkBytes), maxSize)}
	}
	if !strings.EqualFold(filepath.Ext(filename), ".apk") {
		return &ValidationError{Reason: fmt.Sprintf("invalid extension %q, expected .apk", filepath.Ext(filename))}
	}

	reader, err := zip.NewReader(bytes.NewReader(apkBytes), int64(len(apkBytes)))
	if err != nil {
		return &ValidationError{Reason: fmt.Sprintf("not a valid zip archive: %v", err)}
	}

	hasManifest := false
	hasDex := false
	for _, f := range reader.File {
		if f.Name == "AndroidManifest.xml" {
			hasManifest = true
		}
		if strings.HasSuffix(f.Name, ".dex") {
			hasDex = true
		}
	}
	if !hasManifest {
		return &ValidationError{Reason: "missing AndroidManifest.xml"}
	}
	if !hasDex {
		return &ValidationError{Reason: "no .dex entry found"}
	}

	return nil
}
