package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-scanner/apk-scanner-go/internal/analysis"
	"github.com/apk-scanner/apk-scanner-go/internal/risk"
)

// buildTestAPK 构造一个结构合法的最小 APK
func buildTestAPK(t *testing.T, entries ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte("test"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func validAPK(t *testing.T) []byte {
	return buildTestAPK(t, "AndroidManifest.xml", "classes.dex")
}

// stubExtractor 可编程的提取器桩
type stubExtractor struct {
	facts *analysis.PackageFacts
	err   error
}

func (s *stubExtractor) Probe() error { return nil }
func (s *stubExtractor) Extract(ctx context.Context, apkPath string) (*analysis.PackageFacts, error) {
	return s.facts, s.err
}

type stubDecompiler struct {
	artifacts *analysis.DecompiledArtifacts
	err       error
}

func (s *stubDecompiler) Probe() error { return nil }
func (s *stubDecompiler) Decompile(ctx context.Context, apkPath string) (*analysis.DecompiledArtifacts, error) {
	return s.artifacts, s.err
}

type stubStore struct {
	id    string
	err   error
	calls int
}

func (s *stubStore) Store(ctx context.Context, report *risk.RiskReport) (string, error) {
	s.calls++
	return s.id, s.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func testFacts() *analysis.PackageFacts {
	return &analysis.PackageFacts{
		PackageName: "com.example.app",
		VersionName: "1.0",
		Permissions: []analysis.Permission{
			{Name: "android.permission.CAMERA", ProtectionLevel: analysis.ProtectionDangerous},
		},
		Flags: analysis.SecurityFlags{HasNetworkSecurityConfig: true},
	}
}

func newTestPipeline(e Extractor, d Decompiler, s ReportStore) *Pipeline {
	return New(testLogger(), e, d, s, Options{})
}

// TestRun_Success 全阶段成功的完整运行
func TestRun_Success(t *testing.T) {
	store := &stubStore{id: "report-123"}
	p := newTestPipeline(
		&stubExtractor{facts: testFacts()},
		&stubDecompiler{artifacts: &analysis.DecompiledArtifacts{Strings: []string{"https://api.example.com"}}},
		store,
	)

	results, report, err := p.Run(context.Background(), validAPK(t), "app.apk")

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, "report-123", report.ID)
	assert.Equal(t, "com.example.app", report.PackageName)
	assert.Equal(t, 1, store.calls)

	require.Len(t, results, 5)
	for i, r := range results {
		assert.True(t, r.Success, "stage %d (%s) should succeed", i, r.Stage)
	}
	assert.Equal(t,
		[]string{StageValidate, StageExtract, StageDecompile, StageOrganize, StageOutput},
		[]string{results[0].Stage, results[1].Stage, results[2].Stage, results[3].Stage, results[4].Stage})
}

// TestRun_ValidationFailureHaltsPipeline 校验失败后任何阶段都不执行
func TestRun_ValidationFailureHaltsPipeline(t *testing.T) {
	store := &stubStore{}
	p := newTestPipeline(&stubExtractor{facts: testFacts()}, &stubDecompiler{}, store)

	results, report, err := p.Run(context.Background(), validAPK(t), "app.zip")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Nil(t, report)
	assert.Equal(t, 0, store.calls)

	require.Len(t, results, 5)
	assert.False(t, results[0].Success)
	for _, r := range results[1:] {
		assert.False(t, r.Success)
		assert.Equal(t, "not attempted", r.Message)
	}
}

// TestRun_ValidationRules 各项校验规则
func TestRun_ValidationRules(t *testing.T) {
	tests := []struct {
		name     string
		apkBytes func(t *testing.T) []byte
		filename string
	}{
		{"empty file", func(t *testing.T) []byte { return nil }, "app.apk"},
		{"not a zip", func(t *testing.T) []byte { return []byte("garbage") }, "app.apk"},
		{"missing manifest", func(t *testing.T) []byte { return buildTestAPK(t, "classes.dex") }, "app.apk"},
		{"missing dex", func(t *testing.T) []byte { return buildTestAPK(t, "AndroidManifest.xml") }, "app.apk"},
		{"wrong extension", validAPK, "app.ipa"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(&stubExtractor{facts: testFacts()}, &stubDecompiler{}, &stubStore{})
			_, report, err := p.Run(context.Background(), tt.apkBytes(t), tt.filename)

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Nil(t, report)
		})
	}
}

// TestRun_SizeLimit 大小限制可配置
func TestRun_SizeLimit(t *testing.T) {
	apk := validAPK(t)
	p := New(testLogger(), &stubExtractor{facts: testFacts()}, &stubDecompiler{}, &stubStore{},
		Options{MaxFileSize: 10})

	_, report, err := p.Run(context.Background(), apk, "app.apk")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Nil(t, report)
	assert.Contains(t, verr.Reason, "exceeds limit")
}

// TestRun_MalformedInputFatal 结构损坏的输入在 EXTRACT 终止流水线
func TestRun_MalformedInputFatal(t *testing.T) {
	store := &stubStore{}
	p := newTestPipeline(
		&stubExtractor{err: &analysis.MalformedInputError{Reason: "aapt2 rejected package"}},
		&stubDecompiler{},
		store,
	)

	results, report, err := p.Run(context.Background(), validAPK(t), "app.apk")

	var merr *analysis.MalformedInputError
	require.ErrorAs(t, err, &merr)
	assert.Nil(t, report)
	assert.Equal(t, 0, store.calls)

	require.Len(t, results, 5)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, "not attempted", results[2].Message)
	assert.Equal(t, "not attempted", results[3].Message)
	assert.Equal(t, "not attempted", results[4].Message)
}

// TestRun_ExtractorUnavailableDegrades 提取能力缺失时降级继续
func TestRun_ExtractorUnavailableDegrades(t *testing.T) {
	store := &stubStore{id: "report-degraded"}
	p := newTestPipeline(
		&stubExtractor{err: &analysis.CapabilityUnavailableError{Capability: "aapt2", Err: errors.New("not found")}},
		&stubDecompiler{artifacts: &analysis.DecompiledArtifacts{}},
		store,
	)

	results, report, err := p.Run(context.Background(), validAPK(t), "app.apk")

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Empty(t, report.PackageName)
	assert.Equal(t, 1, store.calls)

	assert.False(t, results[1].Success)
	assert.True(t, results[3].Success, "organize still runs on empty facts")
	assert.True(t, results[4].Success)
}

// TestRun_DegradedRunScoresZero 降级运行不得凭空产生配置项问题
func TestRun_DegradedRunScoresZero(t *testing.T) {
	store := &stubStore{id: "report-degraded-zero"}
	p := newTestPipeline(
		&stubExtractor{err: &analysis.CapabilityUnavailableError{Capability: "aapt2", Err: errors.New("not found")}},
		&stubDecompiler{err: errors.New("apktool exploded")},
		store,
	)

	_, report, err := p.Run(context.Background(), validAPK(t), "app.apk")

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, 0, report.OverallRiskScore)
	assert.Equal(t, 0, report.SecurityFlags.TotalIssues)
	assert.Empty(t, report.SecurityFlags.Issues)
}

// TestRun_DecompileFailureRecoverable 反编译失败不致命，端点列表为空
func TestRun_DecompileFailureRecoverable(t *testing.T) {
	store := &stubStore{id: "report-456"}
	p := newTestPipeline(
		&stubExtractor{facts: testFacts()},
		&stubDecompiler{err: &analysis.DecompileError{
			Err: &analysis.CapabilityUnavailableError{Capability: "apktool", Err: errors.New("not installed")},
		}},
		store,
	)

	results, report, err := p.Run(context.Background(), validAPK(t), "app.apk")

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Empty(t, report.Endpoints)
	assert.Equal(t, "report-456", report.ID)

	require.Len(t, results, 5)
	assert.False(t, results[2].Success)
	assert.True(t, results[3].Success)
	assert.True(t, results[4].Success)
}

// TestRun_PersistenceFailureSurfacesReport 持久化失败仍返回报告
func TestRun_PersistenceFailureSurfacesReport(t *testing.T) {
	p := newTestPipeline(
		&stubExtractor{facts: testFacts()},
		&stubDecompiler{artifacts: &analysis.DecompiledArtifacts{}},
		&stubStore{err: errors.New("database unreachable")},
	)

	results, report, err := p.Run(context.Background(), validAPK(t), "app.apk")

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	require.NotNil(t, report, "report must be surfaced despite persistence failure")
	assert.Empty(t, report.ID)

	require.Len(t, results, 5)
	assert.True(t, results[3].Success)
	assert.False(t, results[4].Success)
}

// TestRun_StoreCalledOnce 持久化单次运行只调用一次
func TestRun_StoreCalledOnce(t *testing.T) {
	store := &stubStore{err: errors.New("transient")}
	p := newTestPipeline(
		&stubExtractor{facts: testFacts()},
		&stubDecompiler{artifacts: &analysis.DecompiledArtifacts{}},
		store,
	)

	p.Run(context.Background(), validAPK(t), "app.apk")

	assert.Equal(t, 1, store.calls, "no implicit store retries")
}
