package repository

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/apk-scanner/apk-scanner-go/internal/domain"
	"github.com/apk-scanner/apk-scanner-go/internal/risk"
)

// setupTestDB 创建内存 SQLite 测试数据库
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	require.NoError(t, AutoMigrate(db, log))

	return db
}

func testReport() *risk.RiskReport {
	return &risk.RiskReport{
		PackageName: "com.example.app",
		VersionName: "2.1.0",
		VersionCode: "21",
		Permissions: risk.PermissionSummary{
			Total:              5,
			Dangerous:          []string{"android.permission.CAMERA", "android.permission.READ_SMS"},
			OverprivilegeScore: 0,
		},
		Components: risk.ComponentSummary{
			Total:    3,
			Exported: 2,
			Exposed:  []string{"com.example.app.OpenService"},
		},
		SecurityFlags: risk.SecuritySummary{
			Debuggable:  true,
			Issues:      []string{"debuggable enabled"},
			TotalIssues: 1,
		},
		Endpoints: []risk.Endpoint{
			{Value: "https://api.example.com", Type: risk.EndpointHardcoded},
			{Value: "demoapp://", Type: risk.EndpointDeepLink},
		},
		OverallRiskScore: 4,
	}
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// TestReportRepo_StoreAndFind 存储报告并按 ID 读回
func TestReportRepo_StoreAndFind(t *testing.T) {
	db := setupTestDB(t)
	repo := NewReportRepository(db, testLogger())

	id, err := repo.Store(context.Background(), testReport())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	record, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", record.PackageName)
	assert.Equal(t, 4, record.OverallRiskScore)
	assert.Equal(t, 2, record.DangerousCount)
	assert.Equal(t, 1, record.ExposedCount)
	assert.Len(t, record.Permissions, 2)
	assert.Len(t, record.Components, 1)
	assert.Len(t, record.Endpoints, 2)
}

// TestReportRepo_StoreForTask 按任务存储并按任务 ID 查询
func TestReportRepo_StoreForTask(t *testing.T) {
	db := setupTestDB(t)
	repo := NewReportRepository(db, testLogger())

	id, err := repo.StoreForTask(context.Background(), "task-abc", testReport())
	require.NoError(t, err)

	record, err := repo.FindByTaskID(context.Background(), "task-abc")
	require.NoError(t, err)
	assert.Equal(t, id, record.ID)
	assert.Equal(t, "task-abc", record.TaskID)
}

// TestReportRepo_DistinctIDs 每次存储分配独立的持久 ID
func TestReportRepo_DistinctIDs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewReportRepository(db, testLogger())

	first, err := repo.Store(context.Background(), testReport())
	require.NoError(t, err)
	second, err := repo.Store(context.Background(), testReport())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

// TestTaskRepo_Lifecycle 任务从创建到完成的状态流转
func TestTaskRepo_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskRepository(db, testLogger())
	ctx := context.Background()

	task := &domain.ScanTask{
		ID:       "task-1",
		FileName: "app.apk",
		FileSize: 1024,
		Status:   domain.TaskStatusQueued,
	}
	require.NoError(t, repo.Create(ctx, task))

	require.NoError(t, repo.MarkStarted(ctx, "task-1"))
	require.NoError(t, repo.UpdateProgress(ctx, "task-1", "EXTRACT", 40))

	loaded, err := repo.FindByID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusAnalyzing, loaded.Status)
	assert.Equal(t, "EXTRACT", loaded.CurrentStage)
	assert.Equal(t, 40, loaded.ProgressPercent)
	assert.NotNil(t, loaded.StartedAt)

	require.NoError(t, repo.MarkCompleted(ctx, "task-1", "com.example.app", "report-1", 6, `[]`))

	loaded, err = repo.FindByID(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, loaded.Status)
	assert.Equal(t, "report-1", loaded.ReportID)
	assert.Equal(t, 6, loaded.RiskScore)
	assert.Equal(t, 100, loaded.ProgressPercent)
	assert.NotNil(t, loaded.CompletedAt)
}

// TestTaskRepo_UpdateFailure 失败信息落库
func TestTaskRepo_UpdateFailure(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskRepository(db, testLogger())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.ScanTask{
		ID:       "task-2",
		FileName: "bad.apk",
		Status:   domain.TaskStatusQueued,
	}))

	require.NoError(t, repo.UpdateFailure(ctx, "task-2",
		domain.FailureTypeMalformedInput, "aapt2 rejected package", `[]`))

	loaded, err := repo.FindByID(ctx, "task-2")
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, loaded.Status)
	assert.Equal(t, domain.FailureTypeMalformedInput, loaded.FailureType)
	assert.Equal(t, "aapt2 rejected package", loaded.ErrorMessage)
}

// TestTaskRepo_DuplicateSuppression 短时间内同名文件不重复建任务
func TestTaskRepo_DuplicateSuppression(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskRepository(db, testLogger())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &domain.ScanTask{
		ID:       "task-3",
		FileName: "same.apk",
		Status:   domain.TaskStatusQueued,
	}))

	dup, err := repo.HasRecentTaskForFile(ctx, "same.apk", 60)
	require.NoError(t, err)
	assert.True(t, dup)

	dup, err = repo.HasRecentTaskForFile(ctx, "other.apk", 60)
	require.NoError(t, err)
	assert.False(t, dup)
}

// TestTaskRepo_GetStatusCounts 状态统计
func TestTaskRepo_GetStatusCounts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTaskRepository(db, testLogger())
	ctx := context.Background()

	for _, task := range []*domain.ScanTask{
		{ID: "t1", FileName: "a.apk", Status: domain.TaskStatusQueued},
		{ID: "t2", FileName: "b.apk", Status: domain.TaskStatusQueued},
		{ID: "t3", FileName: "c.apk", Status: domain.TaskStatusCompleted},
	} {
		require.NoError(t, repo.Create(ctx, task))
	}

	counts, total, err := repo.GetStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(2), counts["queued"])
	assert.Equal(t, int64(1), counts["completed"])
}
