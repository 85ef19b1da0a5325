package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-scanner/apk-scanner-go/internal/analysis"
	"github.com/apk-scanner/apk-scanner-go/internal/api"
	"github.com/apk-scanner/apk-scanner-go/internal/api/handlers"
	"github.com/apk-scanner/apk-scanner-go/internal/config"
	"github.com/apk-scanner/apk-scanner-go/internal/middleware"
	"github.com/apk-scanner/apk-scanner-go/internal/pipeline"
	"github.com/apk-scanner/apk-scanner-go/internal/queue"
	"github.com/apk-scanner/apk-scanner-go/internal/repository"
	"github.com/apk-scanner/apk-scanner-go/internal/retry"
	"github.com/apk-scanner/apk-scanner-go/internal/service"
	"github.com/apk-scanner/apk-scanner-go/internal/watcher"
	"github.com/apk-scanner/apk-scanner-go/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	fmt.Printf("APK Scanner - Security Analysis Service\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 1. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting APK Scanner %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	// 3. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected successfully")

	// 4. 初始化 RabbitMQ（启动时允许重试，等待 broker 就绪）
	mqConfig := &queue.RabbitMQConfig{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}
	workerCount := cfg.Worker.Concurrency
	if workerCount <= 0 {
		workerCount = 1
	}

	var mq *queue.RabbitMQ
	connectCfg := retry.DefaultConfig()
	connectCfg.MaxAttempts = 5
	connectCfg.Logger = logger
	err = retry.Do(context.Background(), connectCfg, func(ctx context.Context) error {
		var connErr error
		mq, connErr = queue.NewRabbitMQ(mqConfig, cfg.RabbitMQ.Queue, workerCount, logger)
		return connErr
	})
	if err != nil {
		logger.Fatalf("Failed to init RabbitMQ: %v", err)
	}
	defer mq.Close()
	logger.WithField("prefetch_count", workerCount).Info("RabbitMQ connected successfully")

	// 5. 初始化仓库与服务
	taskRepo := repository.NewTaskRepository(db, logger)
	reportRepo := repository.NewReportRepository(db, logger)
	producer := queue.NewProducer(mq, logger)
	scanService := service.NewScanService(taskRepo, reportRepo, producer, cfg.InboundDir, logger)

	// 6. 初始化分析工具并探测可用性
	// 工具缺失不阻止启动：对应阶段运行时降级
	extractor := analysis.NewExtractor(logger, cfg.Pipeline.AaptPath)
	if err := extractor.Probe(); err != nil {
		logger.WithError(err).Warn("⚠️ aapt2 not available, extraction will degrade at runtime")
	} else {
		logger.Info("✅ aapt2 available")
	}

	decompiler := analysis.NewDecompiler(logger, cfg.Pipeline.ApktoolPath, cfg.WorkDir, cfg.Pipeline.KeepDecompiled)
	if err := decompiler.Probe(); err != nil {
		logger.WithError(err).Warn("⚠️ apktool not available, decompilation will degrade at runtime")
	} else {
		logger.Info("✅ apktool available")
	}

	// 7. WebSocket 进度推送
	progressHandler := handlers.NewProgressHandler(logger)
	progressHandler.Start()
	logger.Info("Progress broadcaster started")

	// 8. Prometheus 指标
	promMetrics := middleware.NewPrometheusMetrics(logger, "apk_scanner")

	// 9. 初始化编排器
	maxFileSizeMB := cfg.Pipeline.MaxFileSizeMB
	if maxFileSizeMB <= 0 {
		maxFileSizeMB = 100
	}
	pipelineOpts := pipeline.Options{
		MaxFileSize:  int64(maxFileSizeMB) * 1024 * 1024,
		WorkDir:      cfg.WorkDir,
		StageTimeout: time.Duration(cfg.Pipeline.StageTimeout) * time.Second,
	}
	orchestrator := worker.NewOrchestrator(taskRepo, reportRepo, extractor, decompiler, pipelineOpts, progressHandler, logger)
	orchestrator.SetMetrics(promMetrics)
	logger.WithFields(logrus.Fields{
		"max_file_size_mb": maxFileSizeMB,
		"stage_timeout_s":  cfg.Pipeline.StageTimeout,
		"work_dir":         cfg.WorkDir,
	}).Info("Orchestrator initialized")

	// 10. 服务重启后以数据库为准重建队列
	if requeued, err := scanService.RequeuePending(context.Background()); err != nil {
		logger.WithError(err).Warn("Failed to requeue pending tasks")
	} else if requeued > 0 {
		logger.Infof("Requeued %d pending tasks from database", requeued)
	}

	// 11. 启动任务消费者
	consumer := queue.NewConsumer(mq, createScanHandler(orchestrator, logger), workerCount, logger)
	if err := consumer.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start consumer: %v", err)
	}
	defer consumer.Stop()
	logger.Infof("Scan consumer started with %d workers", workerCount)

	// 12. 启动文件监控
	fileWatcher, err := watcher.NewFileWatcher(cfg.InboundDir, "*.apk", createFileHandler(scanService, logger), logger)
	if err != nil {
		logger.Fatalf("Failed to create file watcher: %v", err)
	}
	defer fileWatcher.Stop()

	if err := fileWatcher.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start file watcher: %v", err)
	}
	logger.Infof("File watcher started for directory: %s", cfg.InboundDir)

	// 13. 周期性更新运行时指标
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			sqlDB, err := db.DB()
			if err == nil {
				dbStats := sqlDB.Stats()
				promMetrics.UpdateDBStats(dbStats.OpenConnections, dbStats.Idle, dbStats.InUse)
			}

			if depth, err := producer.GetQueueSize(); err == nil {
				promMetrics.UpdateQueueDepth(depth)
			}
			promMetrics.UpdateActiveWorkers(consumer.GetActiveWorkers())
		}
	}()

	// 14. 设置 HTTP Server
	capabilities := map[string]func() error{
		"aapt2":   extractor.Probe,
		"apktool": decompiler.Probe,
	}
	router := api.SetupRouter(cfg, logger, scanService, promMetrics, progressHandler, capabilities)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // 支持大文件上传
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 15. 启动 HTTP Server
	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 16. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("Server stopped")
}

// createScanHandler 把队列消息交给编排器执行
func createScanHandler(orchestrator *worker.Orchestrator, logger *logrus.Logger) queue.ScanHandler {
	return func(ctx context.Context, msg *queue.ScanMessage) error {
		logger.WithFields(logrus.Fields{
			"task_id":   msg.TaskID,
			"file_name": msg.FileName,
		}).Info("Received scan task from queue")

		// 终态由编排器落库，失败消息不再重投
		return orchestrator.ExecuteTask(ctx, msg.TaskID)
	}
}

// createFileHandler 监控目录新文件的处理函数
func createFileHandler(scanService *service.ScanService, logger *logrus.Logger) watcher.FileHandler {
	return func(ctx context.Context, filePath string) error {
		task, err := scanService.CreateScanFromFile(ctx, filePath)
		if err != nil {
			return fmt.Errorf("failed to create scan from file: %w", err)
		}
		if task == nil {
			logger.WithField("file_path", filePath).Debug("Duplicate file event, skipped")
			return nil
		}

		logger.WithFields(logrus.Fields{
			"task_id":   task.ID,
			"file_path": filePath,
		}).Info("Scan task created from watched file")

		return nil
	}
}
