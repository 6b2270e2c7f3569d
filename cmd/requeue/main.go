package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jar-analysis/jar-analysis-go/internal/archive"
	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/queue"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/sirupsen/logrus"
)

// requeue 把 jar_dir 中尚无扫描结果的归档重新投递到扫描队列
func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "list archives without publishing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := config.InitLogger(&cfg.Log)

	db, err := repository.OpenDB(&cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	scans := repository.NewScanRepository(db)

	var producer *queue.Producer
	if !*dryRun {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQ, 1, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer mq.Close()
		producer = queue.NewProducer(mq, logger)
	}

	paths, err := filepath.Glob(filepath.Join(cfg.JarDir, "*.jar"))
	if err != nil {
		logger.Fatalf("Failed to list %s: %v", cfg.JarDir, err)
	}
	fmt.Printf("找到 %d 个归档\n", len(paths))

	ctx := context.Background()
	published, skipped := 0, 0
	for i, path := range paths {
		pending, err := needsScan(ctx, scans, path)
		if err != nil {
			logger.WithError(err).WithField("path", path).Error("Failed to check scan history")
			continue
		}
		if !pending {
			skipped++
			continue
		}

		msg := &queue.ScanMessage{
			JobID:    jobID(path),
			FileName: filepath.Base(path),
			Path:     path,
		}
		if *dryRun {
			fmt.Printf("待重新入队: %s\n", path)
			published++
			continue
		}

		pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = producer.PublishScan(pubCtx, msg)
		cancel()
		if err != nil {
			logger.WithError(err).WithField("path", path).Error("Failed to publish scan")
			continue
		}
		published++

		if (i+1)%100 == 0 {
			fmt.Printf("进度: %d/%d\n", i+1, len(paths))
		}
	}

	logger.WithFields(logrus.Fields{
		"published": published,
		"skipped":   skipped,
		"dry_run":   *dryRun,
	}).Info("Requeue finished")
}

// needsScan 归档没有任何扫描结果时返回 true
func needsScan(ctx context.Context, scans repository.ScanRepository, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	_, err = scans.FindLatestByHash(ctx, archive.Digest(data))
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil
	}
	return false, err
}

// jobID 异步上传的文件名本身就是任务 ID，其它文件生成新 ID
func jobID(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if _, err := uuid.Parse(name); err == nil {
		return name
	}
	return uuid.NewString()
}
