package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jar-analysis/jar-analysis-go/internal/domain"
)

// 训练标签
const (
	labelMalicious = "1"
	labelSafe      = "0"
)

// ExportFeatures 按时间顺序导出 [from, to) 内的特征向量
//   - 只导出与当前特征模式版本一致的行
//   - suspicious 与短路判定的结果没有可用标签或特征，跳过
func (s *scanService) ExportFeatures(ctx context.Context, from, to time.Time, w io.Writer) (int, error) {
	schema := s.deps.Extractor.Schema()
	names := schema.Names()

	cw := csv.NewWriter(w)
	header := append([]string{"scan_id", "archive_hash", "file_name"}, names...)
	header = append(header, "label")
	if err := cw.Write(header); err != nil {
		return 0, err
	}

	rows := 0
	err := s.deps.Scans.Each(ctx, from, to, func(r *domain.ScanResult) error {
		label, ok := trainingLabel(r.Verdict)
		if !ok || r.ShortCircuited || r.SchemaVersion != schema.Version || len(r.Features) == 0 {
			return nil
		}

		var values map[string]float64
		if err := json.Unmarshal(r.Features, &values); err != nil {
			s.logger.WithError(err).WithField("scan_id", r.ID).Warn("Skipping scan with unreadable features")
			return nil
		}

		record := make([]string, 0, len(header))
		record = append(record, r.ID, r.ArchiveHash, csvText(r.FileName))
		for i, name := range names {
			v, ok := values[name]
			if !ok {
				v = schema.Features[i].Default
			}
			record = append(record, strconv.FormatFloat(v, 'g', -1, 64))
		}
		record = append(record, label)
		rows++
		return cw.Write(record)
	})
	if err != nil {
		return rows, fmt.Errorf("export features: %w", err)
	}

	cw.Flush()
	return rows, cw.Error()
}

func trainingLabel(v domain.Verdict) (string, bool) {
	switch v {
	case domain.VerdictMalicious:
		return labelMalicious, true
	case domain.VerdictSafe:
		return labelSafe, true
	}
	return "", false
}

// csvText 文件名来自上传方，以公式字符开头时加前缀，避免表格软件执行
func csvText(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}
