package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-scanner/apk-scanner-go/internal/domain"
	"github.com/apk-scanner/apk-scanner-go/internal/risk"
)

// ReportRepository 风险报告持久化网关
//
// Store 分配持久 ID 并在单个事务内写入报告主表和明细表，
// 不做任何隐式重试。
type ReportRepository interface {
	Store(ctx context.Context, report *risk.RiskReport) (string, error)
	StoreForTask(ctx context.Context, taskID string, report *risk.RiskReport) (string, error)
	FindByID(ctx context.Context, id string) (*domain.RiskReportRecord, error)
	FindByTaskID(ctx context.Context, taskID string) (*domain.RiskReportRecord, error)
}

type reportRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewReportRepository(db *gorm.DB, logger *logrus.Logger) ReportRepository {
	return &reportRepo{
		db:     db,
		logger: logger,
	}
}

func (r *reportRepo) Store(ctx context.Context, report *risk.RiskReport) (string, error) {
	return r.StoreForTask(ctx, "", report)
}

func (r *reportRepo) StoreForTask(ctx context.Context, taskID string, report *risk.RiskReport) (string, error) {
	id := uuid.New().String()

	record := &domain.RiskReportRecord{
		ID:          id,
		TaskID:      taskID,
		PackageName: report.PackageName,
		VersionName: report.VersionName,
		VersionCode: report.VersionCode,
		MinSDK:      report.MinSDK,
		TargetSDK:   report.TargetSDK,

		TotalPermissions:   report.Permissions.Total,
		DangerousCount:     len(report.Permissions.Dangerous),
		OverprivilegeScore: report.Permissions.OverprivilegeScore,

		TotalComponents: report.Components.Total,
		ExportedCount:   report.Components.Exported,
		ExposedCount:    len(report.Components.Exposed),

		Debuggable:               report.SecurityFlags.Debuggable,
		AllowBackup:              report.SecurityFlags.AllowBackup,
		UsesCleartextTraffic:     report.SecurityFlags.UsesCleartextTraffic,
		HasNetworkSecurityConfig: report.SecurityFlags.HasNetworkSecurityConfig,
		TotalIssues:              report.SecurityFlags.TotalIssues,

		OverallRiskScore: report.OverallRiskScore,
		CreatedAt:        time.Now().UTC(),
	}

	for _, name := range report.Permissions.Dangerous {
		record.Permissions = append(record.Permissions, domain.ReportPermission{
			ReportID:        id,
			Name:            name,
			ProtectionLevel: "dangerous",
		})
	}
	for _, name := range report.Components.Exposed {
		record.Components = append(record.Components, domain.ReportComponent{
			ReportID: id,
			Name:     name,
			Exported: true,
			Exposed:  true,
		})
	}
	for _, ep := range report.Endpoints {
		record.Endpoints = append(record.Endpoints, domain.ReportEndpoint{
			ReportID: id,
			Value:    ep.Value,
			Type:     string(ep.Type),
		})
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		r.logger.WithError(err).WithField("package_name", report.PackageName).Error("Report persistence failed")
		return "", err
	}

	r.logger.WithFields(logrus.Fields{
		"report_id":    id,
		"task_id":      taskID,
		"package_name": report.PackageName,
		"risk_score":   report.OverallRiskScore,
	}).Info("Risk report stored")

	return id, nil
}

func (r *reportRepo) FindByID(ctx context.Context, id string) (*domain.RiskReportRecord, error) {
	var record domain.RiskReportRecord
	err := r.db.WithContext(ctx).
		Preload("Permissions").
		Preload("Components").
		Preload("Endpoints").
		First(&record, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *reportRepo) FindByTaskID(ctx context.Context, taskID string) (*domain.RiskReportRecord, error) {
	var record domain.RiskReportRecord
	err := r.db.WithContext(ctx).
		Preload("Permissions").
		Preload("Components").
		Preload("Endpoints").
		First(&record, "task_id = ?", taskID).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
