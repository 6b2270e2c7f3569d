package archive

import (
	"strings"
)

// Manifest META-INF/MANIFEST.MF 主段属性
type Manifest struct {
	Attributes map[string]string
	Order      []string
}

// Java agent 相关属性，普通插件不应出现
var agentAttributes = []string{
	"Premain-Class",
	"Agent-Class",
	"Launcher-Agent-Class",
	"Can-Redefine-Classes",
	"Can-Retransform-Classes",
	"Boot-Class-Path",
}

// ParseManifest 解析主段，续行（以单个空格开头）拼接到上一个属性
func ParseManifest(data []byte) *Manifest {
	m := &Manifest{Attributes: make(map[string]string)}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	last := ""
	for _, line := range strings.Split(text, "\n") {
		if line == "" {
			// 空行结束主段
			if len(m.Order) > 0 {
				break
			}
			continue
		}
		if strings.HasPrefix(line, " ") {
			if last != "" {
				m.Attributes[last] += line[1:]
			}
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			last = ""
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if _, exists := m.Attributes[key]; !exists {
			m.Order = append(m.Order, key)
		}
		m.Attributes[key] = value
		last = key
	}
	return m
}

// Get 读取属性
func (m *Manifest) Get(key string) string {
	if m == nil {
		return ""
	}
	return m.Attributes[key]
}

// ManifestAnomalies 返回清单异常项；Main-Class 会对照归档内容检查
func (a *Archive) ManifestAnomalies() []string {
	if a.Manifest == nil {
		return nil
	}
	m := a.Manifest
	var out []string

	if m.Get("Manifest-Version") == "" {
		out = append(out, "missing Manifest-Version")
	}
	if m.Get("Created-By") == "" {
		out = append(out, "missing Created-By")
	}
	if main := m.Get("Main-Class"); main != "" {
		classPath := strings.ReplaceAll(main, ".", "/") + ".class"
		if !a.Has(classPath) {
			out = append(out, "Main-Class not in archive: "+main)
		}
	}
	for _, attr := range agentAttributes {
		if m.Get(attr) != "" {
			out = append(out, "agent attribute: "+attr)
		}
	}
	return out
}
