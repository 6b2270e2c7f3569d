package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Verdict 判定结果
type Verdict string

const (
	VerdictSafe       Verdict = "safe"
	VerdictSuspicious Verdict = "suspicious"
	VerdictMalicious  Verdict = "malicious"
)

// Valid 判断是否为已知判定
func (v Verdict) Valid() bool {
	switch v {
	case VerdictSafe, VerdictSuspicious, VerdictMalicious:
		return true
	}
	return false
}

// ScanResult 扫描结果表，写入后不再修改
type ScanResult struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ArchiveHash string `gorm:"type:varchar(64);index:idx_archive_hash;not null" json:"archive_hash"`
	ArchiveMD5  string `gorm:"type:varchar(32)" json:"archive_md5,omitempty"`
	FileName    string `gorm:"type:varchar(255)" json:"file_name"`
	FileSize    int64  `json:"file_size"`

	// 判定
	Verdict        Verdict `gorm:"type:varchar(20);index:idx_verdict;not null" json:"verdict"`
	Confidence     float64 `json:"confidence"`
	Probability    float64 `json:"probability"` // 短路判定未评分时为 0
	Quality        string  `gorm:"type:varchar(20)" json:"quality"` // full / partial / failed
	Reason         string  `gorm:"type:varchar(500)" json:"reason"`
	ShortCircuited bool    `gorm:"default:false" json:"short_circuited"`

	// 版本信息，用于复现与再训练
	SchemaVersion     string `gorm:"type:varchar(50)" json:"schema_version,omitempty"`
	ModelVersion      string `gorm:"type:varchar(100)" json:"model_version,omitempty"`
	CatalogVersion    string `gorm:"type:varchar(50)" json:"catalog_version,omitempty"`
	DecompilerVersion string `gorm:"type:varchar(50)" json:"decompiler_version,omitempty"`

	// 反编译统计
	ClassCount      int `gorm:"default:0" json:"class_count"`
	DecompiledCount int `gorm:"default:0" json:"decompiled_count"`
	FailedCount     int `gorm:"default:0" json:"failed_count"`
	TimedOutCount   int `gorm:"default:0" json:"timed_out_count"`

	Obfuscator string         `gorm:"type:varchar(50)" json:"obfuscator,omitempty"`
	Features   datatypes.JSON `gorm:"type:json" json:"features,omitempty"`
	Indicators datatypes.JSON `gorm:"type:json" json:"indicators,omitempty"` // 可疑模式命中：分类、条目、路径、匹配文本

	// 提交来源
	ClientIP  string `gorm:"type:varchar(64)" json:"client_ip,omitempty"`
	UserAgent string `gorm:"type:varchar(255)" json:"user_agent,omitempty"`

	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index:idx_created_at;not null" json:"created_at"`
}

func (ScanResult) TableName() string {
	return "scan_results"
}

// FailureKind 扫描中止原因
type FailureKind string

const (
	FailureInvalidArchive FailureKind = "invalid_archive"
	FailureSchemaMismatch FailureKind = "schema_mismatch"
	FailureInternal       FailureKind = "internal"
)

// ScanFailure 中止的扫描记录
type ScanFailure struct {
	ID          string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ArchiveHash string      `gorm:"type:varchar(64);index" json:"archive_hash,omitempty"`
	FileName    string      `gorm:"type:varchar(255)" json:"file_name"`
	FileSize    int64       `json:"file_size"`
	Kind        FailureKind `gorm:"type:varchar(30);not null" json:"kind"`
	Message     string      `gorm:"type:text" json:"message"`
	CreatedAt   time.Time   `gorm:"index;not null" json:"created_at"`
}

func (ScanFailure) TableName() string {
	return "scan_failures"
}
