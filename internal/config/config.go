package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Loader     LoaderConfig     `mapstructure:"loader"`
	Decompiler DecompilerConfig `mapstructure:"decompiler"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Watcher    WatcherConfig    `mapstructure:"watcher"`
	Log        LogConfig        `mapstructure:"log"`
	JarDir     string           `mapstructure:"jar_dir"`
}

type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	Mode       string `mapstructure:"mode"`        // debug, release
	AdminToken string `mapstructure:"admin_token"` // 威胁记录人工覆盖接口的 Bearer token，为空不校验
}

type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // mysql, sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	Path     string `mapstructure:"path"` // sqlite 文件路径
}

type RabbitMQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	VHost    string `mapstructure:"vhost"`
	Queue    string `mapstructure:"queue"`
}

// LoaderConfig 归档加载限制
type LoaderConfig struct {
	MaxArchiveBytes int64 `mapstructure:"max_archive_bytes"`
	MaxEntries      int   `mapstructure:"max_entries"`
	MaxEntryBytes   int64 `mapstructure:"max_entry_bytes"`
}

// DecompilerConfig 外部反编译器配置
type DecompilerConfig struct {
	Command         string   `mapstructure:"command"`           // 例如 java
	Args            []string `mapstructure:"args"`              // 支持 {class} 和 {outdir} 占位符
	Version         string   `mapstructure:"version"`           // 固定版本号，随扫描记录保存
	TimeoutPerClass int      `mapstructure:"timeout_per_class"` // seconds
	ScanTimeout     int      `mapstructure:"scan_timeout"`      // seconds - 单次扫描反编译总时限
	Concurrency     int      `mapstructure:"concurrency"`
	PartialFraction float64  `mapstructure:"partial_fraction"` // 失败比例超过该值即为 partial
}

// PerClassTimeout 单个类的反编译时限
func (c DecompilerConfig) PerClassTimeout() time.Duration {
	return time.Duration(c.TimeoutPerClass) * time.Second
}

// ScanDeadline 整个扫描的反编译时限
func (c DecompilerConfig) ScanDeadline() time.Duration {
	return time.Duration(c.ScanTimeout) * time.Second
}

// CatalogConfig 特征模式目录
type CatalogConfig struct {
	Path string `mapstructure:"path"` // 为空时使用内置目录
}

// ClassifierConfig 模型配置
type ClassifierConfig struct {
	ModelPath string `mapstructure:"model_path"`
}

// PolicyConfig 判定策略配置
type PolicyConfig struct {
	LowThreshold              float64 `mapstructure:"low_threshold"`
	HighThreshold             float64 `mapstructure:"high_threshold"`
	ShortCircuitConfidence    float64 `mapstructure:"short_circuit_confidence"`
	FailedConfidence          float64 `mapstructure:"failed_confidence"`
	ThreatRecordMinConfidence float64 `mapstructure:"threat_record_min_confidence"`
	LegitimacyOverride        bool    `mapstructure:"legitimacy_override"`
	LegitimacyMaxProbability  float64 `mapstructure:"legitimacy_max_probability"`
}

// RecorderConfig 异步持久化配置
type RecorderConfig struct {
	QueueSize  int `mapstructure:"queue_size"`
	MaxRetries int `mapstructure:"max_retries"`
	RetryDelay int `mapstructure:"retry_delay"` // milliseconds
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"` // Worker 数量
	QueueSize   int `mapstructure:"queue_size"`  // 任务队列大小
}

// WatcherConfig 目录监听配置
type WatcherConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./data/scans.db")
	v.SetDefault("rabbitmq.queue", "jar_scans")
	v.SetDefault("rabbitmq.vhost", "/")

	v.SetDefault("loader.max_archive_bytes", 64<<20)
	v.SetDefault("loader.max_entries", 20000)
	v.SetDefault("loader.max_entry_bytes", 16<<20)

	v.SetDefault("decompiler.command", "java")
	v.SetDefault("decompiler.args", []string{"-jar", "tools/cfr.jar", "{class}"})
	v.SetDefault("decompiler.version", "cfr-0.152")
	v.SetDefault("decompiler.timeout_per_class", 10)
	v.SetDefault("decompiler.scan_timeout", 45)
	v.SetDefault("decompiler.concurrency", 4)
	v.SetDefault("decompiler.partial_fraction", 0.1)

	v.SetDefault("classifier.model_path", "models/baseline_logistic.json")

	v.SetDefault("policy.low_threshold", 0.3)
	v.SetDefault("policy.high_threshold", 0.7)
	v.SetDefault("policy.short_circuit_confidence", 0.95)
	v.SetDefault("policy.failed_confidence", 0.2)
	v.SetDefault("policy.threat_record_min_confidence", 0.95)
	v.SetDefault("policy.legitimacy_override", true)
	v.SetDefault("policy.legitimacy_max_probability", 0.98)

	v.SetDefault("recorder.queue_size", 256)
	v.SetDefault("recorder.max_retries", 3)
	v.SetDefault("recorder.retry_delay", 200)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.queue_size", 64)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("jar_dir", "./data/jars")
}

// Load 读取 YAML 配置文件，环境变量优先
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// 环境变量覆盖（支持嵌套配置）
	v.AutomaticEnv()

	// RabbitMQ
	v.BindEnv("rabbitmq.host", "RABBITMQ_HOST")
	v.BindEnv("rabbitmq.port", "RABBITMQ_PORT")
	v.BindEnv("rabbitmq.user", "RABBITMQ_USER")
	v.BindEnv("rabbitmq.password", "RABBITMQ_PASS")

	// Database
	v.BindEnv("database.host", "MYSQL_HOST")
	v.BindEnv("database.port", "MYSQL_PORT")
	v.BindEnv("database.user", "MYSQL_USER")
	v.BindEnv("database.password", "MYSQL_PASS")
	v.BindEnv("database.db_name", "MYSQL_DB")

	v.BindEnv("server.admin_token", "JAR_ADMIN_TOKEN")

	// 分析组件
	v.BindEnv("classifier.model_path", "JAR_MODEL_PATH")
	v.BindEnv("catalog.path", "JAR_CATALOG_PATH")
	v.BindEnv("decompiler.command", "JAR_DECOMPILER_CMD")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验跨字段约束
func (c *Config) Validate() error {
	p := c.Policy
	if !(p.LowThreshold > 0 && p.LowThreshold < p.HighThreshold && p.HighThreshold < 1) {
		return fmt.Errorf("invalid policy thresholds: low=%.3f high=%.3f", p.LowThreshold, p.HighThreshold)
	}
	if p.ShortCircuitConfidence <= 0 || p.ShortCircuitConfidence > 1 {
		return fmt.Errorf("policy.short_circuit_confidence must be in (0,1], got %.3f", p.ShortCircuitConfidence)
	}
	// 写入的恶意记录必须能在再次提交时短路
	if p.ThreatRecordMinConfidence < p.ShortCircuitConfidence || p.ThreatRecordMinConfidence > 1 {
		return fmt.Errorf("policy.threat_record_min_confidence must be in [short_circuit_confidence, 1], got %.3f (short_circuit_confidence %.3f)",
			p.ThreatRecordMinConfidence, p.ShortCircuitConfidence)
	}
	if c.Decompiler.Concurrency <= 0 {
		return fmt.Errorf("decompiler.concurrency must be positive, got %d", c.Decompiler.Concurrency)
	}
	if c.Decompiler.PartialFraction < 0 || c.Decompiler.PartialFraction >= 1 {
		return fmt.Errorf("decompiler.partial_fraction must be in [0,1), got %.3f", c.Decompiler.PartialFraction)
	}
	return nil
}
