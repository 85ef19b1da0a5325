package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/apk-scanner/apk-scanner-go/internal/config"
	"github.com/apk-scanner/apk-scanner-go/internal/domain"
	"github.com/apk-scanner/apk-scanner-go/internal/queue"
	"github.com/apk-scanner/apk-scanner-go/internal/repository"
	"github.com/apk-scanner/apk-scanner-go/internal/service"
)

// requeue 把数据库中可重试的失败任务重置为排队，清空队列后
// 以数据库为准重新发布所有排队任务。
func main() {
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	mqConfig := &queue.RabbitMQConfig{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}
	mq, err := queue.NewRabbitMQ(mqConfig, cfg.RabbitMQ.Queue, 1, logger)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer mq.Close()

	ctx := context.Background()

	// 1. 可重试的失败任务重置为排队
	var failedTasks []domain.ScanTask
	if err := db.Where("status = ?", domain.TaskStatusFailed).Find(&failedTasks).Error; err != nil {
		log.Fatalf("Failed to query failed tasks: %v", err)
	}

	resetCount := 0
	for _, task := range failedTasks {
		if !task.FailureType.CanRetry() {
			continue
		}
		updates := map[string]interface{}{
			"status":             domain.TaskStatusQueued,
			"failure_type":       "",
			"error_message":      "",
			"current_stage":      "",
			"progress_percent":   0,
			"stage_results_json": "",
			"started_at":         nil,
			"completed_at":       nil,
		}
		if err := db.Model(&domain.ScanTask{}).Where("id = ?", task.ID).Updates(updates).Error; err != nil {
			log.Printf("❌ Failed to reset task %s: %v", task.ID, err)
			continue
		}
		resetCount++
	}
	fmt.Printf("重置了 %d/%d 个可重试的失败任务\n", resetCount, len(failedTasks))

	// 2. 清空队列，避免重复消息
	purged, err := mq.PurgeQueue()
	if err != nil {
		log.Printf("⚠️ Failed to purge queue: %v", err)
	} else {
		fmt.Printf("清空队列消息 %d 条\n", purged)
	}

	// 3. 以数据库为准重新发布所有排队任务
	taskRepo := repository.NewTaskRepository(db, logger)
	reportRepo := repository.NewReportRepository(db, logger)
	producer := queue.NewProducer(mq, logger)
	scanService := service.NewScanService(taskRepo, reportRepo, producer, cfg.InboundDir, logger)

	requeued, err := scanService.RequeuePending(ctx)
	if err != nil {
		log.Fatalf("Failed to requeue pending tasks: %v", err)
	}

	fmt.Printf("\n✅ 成功重新入队 %d 个任务\n", requeued)
}
