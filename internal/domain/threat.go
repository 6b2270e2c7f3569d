package domain

import "time"

// ThreatRecord 已知样本记录，按归档 SHA-256 唯一
type ThreatRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FileHash   string    `gorm:"type:varchar(64);uniqueIndex:uk_file_hash;not null" json:"file_hash"`
	Verdict    Verdict   `gorm:"type:varchar(20);not null" json:"verdict"`
	Confidence float64   `json:"confidence"`
	ThreatType string    `gorm:"type:varchar(50)" json:"threat_type,omitempty"`
	Source     string    `gorm:"type:varchar(50)" json:"source"` // scan / manual / import
	IsActive   bool      `gorm:"default:true" json:"is_active"`
	HitCount   int       `gorm:"default:0" json:"hit_count"`
	FirstSeen  time.Time `gorm:"not null" json:"first_seen"`
	LastSeen   time.Time `gorm:"index;not null" json:"last_seen"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (ThreatRecord) TableName() string {
	return "threat_records"
}

// 记录来源
const (
	ThreatSourceScan   = "scan"
	ThreatSourceManual = "manual"
)

// MergeThreatRecord 合并已有记录与新观测
//   - first_seen 保留最早值，last_seen 以最后一次写入为准
//   - 非 override 时 malicious 不会被降级
//   - 判定相同时保留较高置信度
//   - 新记录默认有效，override 时保留传入的 is_active
func MergeThreatRecord(existing *ThreatRecord, incoming ThreatRecord, override bool) ThreatRecord {
	if existing == nil {
		merged := incoming
		if merged.FirstSeen.IsZero() {
			merged.FirstSeen = merged.LastSeen
		}
		if !override {
			merged.IsActive = true
		}
		merged.HitCount = 1
		return merged
	}

	merged := *existing
	merged.LastSeen = incoming.LastSeen
	merged.HitCount = existing.HitCount + 1
	if !incoming.FirstSeen.IsZero() && incoming.FirstSeen.Before(existing.FirstSeen) {
		merged.FirstSeen = incoming.FirstSeen
	}

	switch {
	case override:
		merged.Verdict = incoming.Verdict
		merged.Confidence = incoming.Confidence
		merged.Source = incoming.Source
		merged.ThreatType = incoming.ThreatType
		merged.IsActive = incoming.IsActive
	case existing.Verdict == VerdictMalicious && incoming.Verdict != VerdictMalicious:
		// 保持恶意判定
	case existing.Verdict == incoming.Verdict:
		if incoming.Confidence > existing.Confidence {
			merged.Confidence = incoming.Confidence
			merged.Source = incoming.Source
		}
		if incoming.ThreatType != "" {
			merged.ThreatType = incoming.ThreatType
		}
	default:
		// 升级 (例如 safe -> malicious)
		merged.Verdict = incoming.Verdict
		merged.Confidence = incoming.Confidence
		merged.Source = incoming.Source
		merged.ThreatType = incoming.ThreatType
		merged.IsActive = true
	}
	return merged
}
