package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-scanner/apk-scanner-go/internal/analysis"
	"github.com/apk-scanner/apk-scanner-go/internal/risk"
)

// 阶段名称，顺序固定
const (
	StageValidate  = "VALIDATE"
	StageExtract   = "EXTRACT"
	StageDecompile = "DECOMPILE"
	StageOrganize  = "ORGANIZE"
	StageOutput    = "OUTPUT"
)

var stageOrder = []string{StageValidate, StageExtract, StageDecompile, StageOrganize, StageOutput}

// StageResult 单个阶段的审计记录
type StageResult struct {
	Stage   string `json:"stage"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Extractor 包信息提取能力边界
type Extractor interface {
	Probe() error
	Extract(ctx context.Context, apkPath string) (*analysis.PackageFacts, error)
}

// Decompiler 反编译能力边界
type Decompiler interface {
	Probe() error
	Decompile(ctx context.Context, apkPath string) (*analysis.DecompiledArtifacts, error)
}

// ReportStore 持久化网关边界，单次运行至多调用一次
type ReportStore interface {
	Store(ctx context.Context, report *risk.RiskReport) (string, error)
}

// Options 流水线配置，构造时传入且不可变
type Options struct {
	MaxFileSize  int64             // 为 0 时取 DefaultMaxFileSize
	WorkDir      string            // 临时文件目录，为空时用系统默认
	StageTimeout time.Duration     // EXTRACT/DECOMPILE 单阶段超时，为 0 不限
	OnStage      func(StageResult) // 每个阶段结束时回调，用于进度推送，可为 nil
}

// Pipeline 五阶段分析流水线编排器
//
// 阶段严格从左到右执行，无重试无跳转。单次运行内部完全串行；
// 并发的多次运行互不共享状态（持久化网关除外）。
type Pipeline struct {
	logger     *logrus.Logger
	extractor  Extractor
	decompiler Decompiler
	store      ReportStore
	opts       Options
}

func New(logger *logrus.Logger, extractor Extractor, decompiler Decompiler, store ReportStore, opts Options) *Pipeline {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	return &Pipeline{
		logger:     logger,
		extractor:  extractor,
		decompiler: decompiler,
		store:      store,
		opts:       opts,
	}
}

// Run 对一个 APK 执行完整流水线
//
// 无论成败都返回长度为 5 的 StageResult 序列，未执行的阶段标记
// not attempted。致命失败时报告为 nil；持久化失败时报告非 nil
// 且错误为 PersistenceError，调用方可只重试存储。
func (p *Pipeline) Run(ctx context.Context, apkBytes []byte, filename string) ([]StageResult, *risk.RiskReport, error) {
	startTime := time.Now()
	results := make([]StageResult, 0, len(stageOrder))

	logger := p.logger.WithFields(logrus.Fields{
		"filename":  filename,
		"file_size": len(apkBytes),
	})
	logger.Info("Pipeline run started")

	// VALIDATE
	if verr := validate(apkBytes, filename, p.opts.MaxFileSize); verr != nil {
		p.record(&results, StageResult{
			Stage: StageValidate, Success: false,
			Message: "validation failed", Error: verr.Reason,
		})
		logger.WithField("reason", verr.Reason).Warn("Validation failed")
		return padResults(results), nil, verr
	}
	p.record(&results, StageResult{Stage: StageValidate, Success: true, Message: "package accepted"})

	// 外部工具需要文件路径，落一份临时文件
	apkPath, cleanup, tmpErr := p.writeTempFile(apkBytes)
	if cleanup != nil {
		defer cleanup()
	}

	// EXTRACT
	facts, fatalErr := p.runExtract(ctx, apkPath, tmpErr, &results)
	if fatalErr != nil {
		return padResults(results), nil, fatalErr
	}

	// DECOMPILE（任何失败均可恢复）
	artifacts := p.runDecompile(ctx, apkPath, tmpErr, &results)

	// ORGANIZE
	if facts == nil {
		oerr := &OrganizeError{Reason: "no facts available to build report"}
		p.record(&results, StageResult{
			Stage: StageOrganize, Success: false,
			Message: "organize failed", Error: oerr.Reason,
		})
		return padResults(results), nil, oerr
	}
	report := risk.Assess(facts, artifacts)
	p.record(&results, StageResult{Stage: StageOrganize, Success: true, Message: "risk report assembled"})

	// OUTPUT
	id, err := p.store.Store(ctx, report)
	if err != nil {
		perr := &PersistenceError{Err: err}
		p.record(&results, StageResult{
			Stage: StageOutput, Success: false,
			Message: "persistence failed", Error: err.Error(),
		})
		logger.WithError(err).Error("Report persistence failed")
		// 报告已算出，照常返回给调用方
		return results, report, perr
	}
	report.ID = id
	p.record(&results, StageResult{Stage: StageOutput, Success: true, Message: "report stored"})

	logger.WithFields(logrus.Fields{
		"report_id":   id,
		"risk_score":  report.OverallRiskScore,
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("Pipeline run completed")

	return results, report, nil
}

// runExtract 执行 EXTRACT 阶段
//
// 返回的 error 非 nil 表示致命失败（输入结构损坏）；能力不可用
// 时降级为空事实继续。
func (p *Pipeline) runExtract(ctx context.Context, apkPath string, tmpErr error, results *[]StageResult) (*analysis.PackageFacts, error) {
	if tmpErr != nil {
		p.record(results, StageResult{
			Stage: StageExtract, Success: false,
			Message: "degraded: could not stage package on disk", Error: tmpErr.Error(),
		})
		return degradedFacts(), nil
	}

	extractCtx := ctx
	if p.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		extractCtx, cancel = context.WithTimeout(ctx, p.opts.StageTimeout)
		defer cancel()
	}

	facts, err := p.extractor.Extract(extractCtx, apkPath)
	if err == nil {
		p.record(results, StageResult{Stage: StageExtract, Success: true, Message: "package facts extracted"})
		return facts, nil
	}

	var malformed *analysis.MalformedInputError
	if errors.As(err, &malformed) {
		p.record(results, StageResult{
			Stage: StageExtract, Success: false,
			Message: "extraction failed", Error: err.Error(),
		})
		p.logger.WithError(err).Warn("Extraction rejected malformed input")
		return nil, malformed
	}

	// 能力不可用或其他非结构性失败：降级为空事实继续
	p.record(results, StageResult{
		Stage: StageExtract, Success: false,
		Message: "degraded: extraction unavailable", Error: err.Error(),
	})
	p.logger.WithError(err).Warn("Extraction degraded")
	return degradedFacts(), nil
}

// degradedFacts 降级用的空事实：安全配置项取不入罪的默认值，
// 无法分析不等于存在风险
func degradedFacts() *analysis.PackageFacts {
	return &analysis.PackageFacts{
		Permissions: []analysis.Permission{},
		Components:  []analysis.Component{},
		Flags:       analysis.SecurityFlags{HasNetworkSecurityConfig: true},
	}
}

// runDecompile 执行 DECOMPILE 阶段，失败永远可恢复
func (p *Pipeline) runDecompile(ctx context.Context, apkPath string, tmpErr error, results *[]StageResult) *analysis.DecompiledArtifacts {
	if tmpErr != nil {
		p.record(results, StageResult{
			Stage: StageDecompile, Success: false,
			Message: "skipped: package not staged on disk", Error: tmpErr.Error(),
		})
		return nil
	}

	decompileCtx := ctx
	if p.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		decompileCtx, cancel = context.WithTimeout(ctx, p.opts.StageTimeout)
		defer cancel()
	}

	artifacts, err := p.decompiler.Decompile(decompileCtx, apkPath)
	if err != nil {
		p.record(results, StageResult{
			Stage: StageDecompile, Success: false,
			Message: "decompilation failed, endpoint mining skipped", Error: err.Error(),
		})
		p.logger.WithError(err).Warn("Decompilation failed")
		return nil
	}

	p.record(results, StageResult{Stage: StageDecompile, Success: true, Message: "package decompiled"})
	return artifacts
}

// record 记录阶段结果并触发进度回调
func (p *Pipeline) record(results *[]StageResult, r StageResult) {
	*results = append(*results, r)
	if p.opts.OnStage != nil {
		p.opts.OnStage(r)
	}
}

// writeTempFile 把包字节落盘供外部工具使用
func (p *Pipeline) writeTempFile(apkBytes []byte) (string, func(), error) {
	f, err := os.CreateTemp(p.opts.WorkDir, "scan-*.apk")
	if err != nil {
		return "", nil, err
	}
	path := f.Name()
	cleanup := func() { os.Remove(path) }

	if _, err := f.Write(apkBytes); err != nil {
		f.Close()
		return "", cleanup, err
	}
	if err := f.Close(); err != nil {
		return "", cleanup, err
	}
	return filepath.Clean(path), cleanup, nil
}

// padResults 把未执行的阶段补齐为 not attempted，保证固定长度
func padResults(results []StageResult) []StageResult {
	for i := len(results); i < len(stageOrder); i++ {
		results = append(results, StageResult{
			Stage:   stageOrder[i],
			Success: false,
			Message: "not attempted",
		})
	}
	return results
}
