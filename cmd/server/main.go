package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jar-analysis/jar-analysis-go/internal/api"
	"github.com/jar-analysis/jar-analysis-go/internal/api/handlers"
	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/classifier"
	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/middleware"
	"github.com/jar-analysis/jar-analysis-go/internal/queue"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/jar-analysis/jar-analysis-go/internal/retry"
	"github.com/jar-analysis/jar-analysis-go/internal/service"
	"github.com/jar-analysis/jar-analysis-go/internal/watcher"
	"github.com/jar-analysis/jar-analysis-go/internal/worker"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	Version   = api.Version
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to config file")
	flag.Parse()

	// 1. 打印版本信息
	fmt.Printf("JAR Analysis Service\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting JAR Analysis Service %s", Version)
	logger.Infof("Config loaded from: %s", *configPath)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 4. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected successfully")

	// 5. 指标与内存监控
	promMetrics := middleware.NewPrometheusMetrics(logger, "jar_analysis")
	memMonitor := middleware.NewMemoryMonitor(logger, 30*time.Second, promMetrics.UpdateMemoryStats)
	memMonitor.Start()
	defer memMonitor.Stop()

	// 6. 实时推送
	live := handlers.NewLiveHandler(logger)
	live.Start(rootCtx)

	// 7. 组装扫描流水线（模型与特征模式不一致时拒绝启动）
	pipeline, err := service.BuildPipeline(service.PipelineOptions{
		Config:   cfg,
		Scans:    repository.NewScanRepository(db),
		Threats:  repository.NewThreatRepository(db),
		Metrics:  promMetrics,
		Notifier: live,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to build scan pipeline: %v", err)
	}

	// 8. 初始化 Worker Pool
	pool := worker.NewPool(cfg.Worker.Concurrency, cfg.Worker.QueueSize, pipeline.Service, logger)
	pool.Start(rootCtx)

	// 9. 初始化 RabbitMQ（可选）
	var (
		mq        *queue.RabbitMQ
		producer  *queue.Producer
		consumer  *queue.Consumer
		publisher queue.Publisher
	)
	if cfg.RabbitMQ.Enabled {
		mq, err = queue.NewRabbitMQ(cfg.RabbitMQ, pool.Size(), logger)
		if err != nil {
			logger.Fatalf("Failed to init RabbitMQ: %v", err)
		}
		producer = queue.NewProducer(mq, logger)
		publisher = producer

		consumer = queue.NewConsumer(mq, createScanHandler(pool, logger), pool.Size(), logger)
		if err := consumer.Start(rootCtx); err != nil {
			logger.Fatalf("Failed to start consumer: %v", err)
		}
	} else {
		logger.Info("RabbitMQ disabled, async scan endpoint unavailable")
	}

	// 10. 启动目录监听（可选）
	var fileWatcher *watcher.FileWatcher
	if cfg.Watcher.Enabled {
		fileWatcher, err = watcher.NewFileWatcher(cfg.Watcher.Dir, "*.jar", createFileHandler(pool, producer, logger), logger)
		if err != nil {
			logger.Fatalf("Failed to create file watcher: %v", err)
		}
		if err := fileWatcher.Start(rootCtx); err != nil {
			logger.Fatalf("Failed to start file watcher: %v", err)
		}
		logger.Infof("File watcher started for directory: %s", cfg.Watcher.Dir)
	}

	// 11. 周期更新资源指标
	go updateResourceMetrics(rootCtx, db, pool, pipeline.Recorder, promMetrics)

	// 12. 设置 HTTP Server
	router := api.SetupRouter(api.RouterDeps{
		Config:      cfg,
		Logger:      logger,
		ScanService: pipeline.Service,
		Publisher:   publisher,
		Metrics:     promMetrics,
		Memory:      memMonitor,
		Live:        live,
		Ready: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  2 * time.Minute, // 大文件上传
		WriteTimeout: 5 * time.Minute, // 特征导出
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 13. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	// 14. 优雅关闭 (30秒超时)：先停入口，再排空扫描与写入
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}
	if fileWatcher != nil {
		fileWatcher.Stop()
	}
	if consumer != nil {
		consumer.Stop()
	}
	pool.Stop()
	if err := pipeline.Recorder.Stop(ctx); err != nil {
		logger.WithError(err).WithField("pending", pipeline.Recorder.Pending()).Warn("Recorder did not drain before shutdown")
	}
	if mq != nil {
		mq.Close()
	}
	cancelRoot()

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("Server stopped")
}

// createScanHandler 队列消息交给 Worker Pool 并等待结果
// 归档无效或文件不存在时不再重投
func createScanHandler(pool *worker.Pool, logger *logrus.Logger) queue.ScanHandler {
	return func(ctx context.Context, msg *queue.ScanMessage) error {
		result, err := pool.SubmitAndWait(ctx, &worker.Job{
			ID:       msg.JobID,
			Path:     msg.Path,
			FileName: msg.FileName,
		})
		if err != nil {
			if errors.Is(err, archive.ErrInvalidArchive) ||
				errors.Is(err, classifier.ErrSchemaMismatch) ||
				errors.Is(err, os.ErrNotExist) {
				return retry.Permanent(err)
			}
			return err
		}

		logger.WithFields(logrus.Fields{
			"job_id":  msg.JobID,
			"scan_id": result.ID,
			"verdict": result.Verdict,
		}).Info("Queued scan completed")
		return nil
	}
}

// createFileHandler 目录中新出现的归档：启用队列时投递，否则直接交给 Worker Pool
func createFileHandler(pool *worker.Pool, producer *queue.Producer, logger *logrus.Logger) watcher.FileHandler {
	return func(ctx context.Context, filePath string) error {
		jobID := uuid.New().String()
		fileName := filepath.Base(filePath)

		if producer != nil {
			msg := &queue.ScanMessage{JobID: jobID, FileName: fileName, Path: filePath}
			if err := producer.PublishScan(ctx, msg); err != nil {
				return fmt.Errorf("failed to publish scan: %w", err)
			}
			return nil
		}

		if err := pool.Submit(&worker.Job{ID: jobID, Path: filePath, FileName: fileName}); err != nil {
			return fmt.Errorf("failed to submit scan: %w", err)
		}
		logger.WithFields(logrus.Fields{
			"job_id":    jobID,
			"file_name": fileName,
		}).Info("Inbound archive submitted to worker pool")
		return nil
	}
}

// updateResourceMetrics 每 10 秒刷新连接池、Worker Pool 与待写入数量
func updateResourceMetrics(ctx context.Context, db *gorm.DB, pool *worker.Pool, recorder *service.Recorder, metrics *middleware.PrometheusMetrics) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if sqlDB, err := db.DB(); err == nil {
				stats := sqlDB.Stats()
				metrics.UpdateDBStats(stats.OpenConnections, stats.Idle, stats.InUse)
			}
			metrics.UpdateWorkerPoolStats(pool.Size(), pool.Active(), pool.QueueSize())
			metrics.UpdateRecorderQueue(recorder.Pending())
		}
	}
}
