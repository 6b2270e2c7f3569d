package archive

import (
	"archive/zip"
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidArchive 输入不是可读取的 zip 容器，或超出加载限制
var ErrInvalidArchive = errors.New("invalid archive")

// EntryType 条目类型
type EntryType string

const (
	EntryClass    EntryType = "class"
	EntryManifest EntryType = "manifest"
	EntryResource EntryType = "resource"
)

const manifestPath = "META-INF/MANIFEST.MF"

// Entry 归档中的单个文件
type Entry struct {
	Path      string
	Type      EntryType
	Size      int64 // 声明的解压大小
	Data      []byte
	Corrupt   bool // 解压失败
	Oversized bool // 超过单条目限制，未读取内容
}

// Archive 已加载的归档，加载后只读
type Archive struct {
	Data     []byte
	SHA256   string
	MD5      string
	Size     int64
	Entries  []Entry
	Manifest *Manifest
}

// LoaderOptions 加载限制，零值表示不限制
type LoaderOptions struct {
	MaxArchiveBytes int64
	MaxEntries      int
	MaxEntryBytes   int64
}

// Load 校验 zip 容器并按中央目录顺序读取条目
func Load(data []byte, opts LoaderOptions) (*Archive, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidArchive)
	}
	if opts.MaxArchiveBytes > 0 && int64(len(data)) > opts.MaxArchiveBytes {
		return nil, fmt.Errorf("%w: archive is %d bytes, limit %d", ErrInvalidArchive, len(data), opts.MaxArchiveBytes)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if opts.MaxEntries > 0 && len(zr.File) > opts.MaxEntries {
		return nil, fmt.Errorf("%w: %d entries, limit %d", ErrInvalidArchive, len(zr.File), opts.MaxEntries)
	}

	a := &Archive{
		Data:    data,
		Size:    int64(len(data)),
		Entries: make([]Entry, 0, len(zr.File)),
	}
	a.MD5, a.SHA256 = hashes(data)

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		entry := Entry{
			Path: f.Name,
			Type: classify(f.Name),
			Size: int64(f.UncompressedSize64),
		}
		readEntry(f, &entry, opts.MaxEntryBytes)
		a.Entries = append(a.Entries, entry)

		if entry.Type == EntryManifest && a.Manifest == nil && !entry.Corrupt && !entry.Oversized {
			a.Manifest = ParseManifest(entry.Data)
		}
	}

	return a, nil
}

// Digest 归档内容的 SHA-256，用于无法解析的输入
func Digest(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// hashes 同时计算 MD5 和 SHA256
func hashes(data []byte) (string, string) {
	md5Hash := md5.New()
	sha256Hash := sha256.New()
	w := io.MultiWriter(md5Hash, sha256Hash)
	w.Write(data)
	return fmt.Sprintf("%x", md5Hash.Sum(nil)), fmt.Sprintf("%x", sha256Hash.Sum(nil))
}

func classify(name string) EntryType {
	switch {
	case strings.EqualFold(name, manifestPath):
		return EntryManifest
	case strings.HasSuffix(name, ".class"):
		return EntryClass
	default:
		return EntryResource
	}
}

// readEntry 读取条目内容；失败只标记该条目，不影响整个归档
func readEntry(f *zip.File, entry *Entry, limit int64) {
	if limit > 0 && int64(f.UncompressedSize64) > limit {
		entry.Oversized = true
		return
	}

	rc, err := f.Open()
	if err != nil {
		entry.Corrupt = true
		return
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		// 声明大小可能被伪造，多读一个字节用于检测
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		entry.Corrupt = true
		return
	}
	if limit > 0 && int64(len(data)) > limit {
		entry.Oversized = true
		return
	}
	entry.Data = data
}

// Classes 返回所有类文件条目（保持归档顺序）
func (a *Archive) Classes() []Entry {
	return a.filter(EntryClass)
}

// Resources 返回所有资源条目
func (a *Archive) Resources() []Entry {
	return a.filter(EntryResource)
}

func (a *Archive) filter(t EntryType) []Entry {
	out := make([]Entry, 0)
	for _, e := range a.Entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Has 判断归档中是否存在指定路径
func (a *Archive) Has(path string) bool {
	for _, e := range a.Entries {
		if e.Path == path {
			return true
		}
	}
	return false
}

// UnreadableCount 解压失败或超限的条目数
func (a *Archive) UnreadableCount() int {
	n := 0
	for _, e := range a.Entries {
		if e.Corrupt || e.Oversized {
			n++
		}
	}
	return n
}
