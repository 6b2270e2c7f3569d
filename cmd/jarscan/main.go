package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/config"
	"github.com/jar-analysis/jar-analysis-go/internal/repository"
	"github.com/jar-analysis/jar-analysis-go/internal/service"
)

// jarscan 离线扫描本地归档，结果 JSON 输出到 stdout，日志写 stderr
func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to config file")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall scan timeout")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: jarscan [-config path] [-timeout d] file.jar [file.jar ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := config.NewLogger(&cfg.Log, os.Stderr)

	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	pipeline, err := service.BuildPipeline(service.PipelineOptions{
		Config:  cfg,
		Scans:   repository.NewScanRepository(db),
		Threats: repository.NewThreatRepository(db),
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to build scan pipeline: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	exitCode := 0
	for _, path := range flag.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.WithError(err).WithField("path", path).Error("Failed to read archive")
			exitCode = 1
			continue
		}

		result, err := pipeline.Service.Submit(ctx, data, filepath.Base(path))
		if err != nil {
			logger.WithError(err).WithField("path", path).Error("Scan failed")
			exitCode = 1
			continue
		}
		if err := enc.Encode(result); err != nil {
			logger.WithError(err).Error("Failed to write result")
			exitCode = 1
		}
	}

	// 等待后台写入完成再退出
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := pipeline.Recorder.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("Recorder did not drain before exit")
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
