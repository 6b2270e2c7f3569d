package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/jar-analysis/jar-analysis-go/internal/features"
)

var (
	// ErrSchemaMismatch 特征向量或模式与模型训练时的特征列表不一致
	ErrSchemaMismatch = errors.New("feature schema mismatch")
	// ErrInvalidModel 模型文件内部不一致
	ErrInvalidModel = errors.New("invalid model artifact")
)

// Kind 模型类型
type Kind string

const (
	KindLogistic     Kind = "logistic"
	KindRandomForest Kind = "random_forest"
)

// Scaler 标准化参数 (x - mean) / scale
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Logistic 逻辑回归参数
type Logistic struct {
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
}

// Node 决策树节点；Left < 0 表示叶子，Value 为恶意概率
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
}

// Tree 决策树，根节点为 Nodes[0]
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest 随机森林，输出为各树叶子值的平均
type Forest struct {
	Trees []Tree `json:"trees"`
}

// Artifact 模型文件格式
type Artifact struct {
	ModelVersion  string    `json:"model_version"`
	SchemaVersion string    `json:"schema_version"`
	FeatureNames  []string  `json:"feature_names"`
	Kind          Kind      `json:"kind"`
	Scaler        *Scaler   `json:"scaler,omitempty"`
	Logistic      *Logistic `json:"logistic,omitempty"`
	Forest        *Forest   `json:"forest,omitempty"`
}

// Model 已加载的模型，只读，可被并发扫描共享
type Model struct {
	artifact Artifact
}

// Load 读取并校验模型文件
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return Parse(data)
}

// Parse 解析并校验模型
func Parse(data []byte) (*Model, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &Model{artifact: a}, nil
}

func (a *Artifact) validate() error {
	n := len(a.FeatureNames)
	if a.ModelVersion == "" || a.SchemaVersion == "" {
		return fmt.Errorf("%w: model_version and schema_version are required", ErrInvalidModel)
	}
	if n == 0 {
		return fmt.Errorf("%w: feature_names is empty", ErrInvalidModel)
	}
	if a.Scaler != nil {
		if len(a.Scaler.Mean) != n || len(a.Scaler.Scale) != n {
			return fmt.Errorf("%w: scaler has %d/%d entries, want %d", ErrInvalidModel, len(a.Scaler.Mean), len(a.Scaler.Scale), n)
		}
	}

	switch a.Kind {
	case KindLogistic:
		if a.Logistic == nil {
			return fmt.Errorf("%w: logistic parameters missing", ErrInvalidModel)
		}
		if len(a.Logistic.Weights) != n {
			return fmt.Errorf("%w: %d weights for %d features", ErrInvalidModel, len(a.Logistic.Weights), n)
		}
	case KindRandomForest:
		if a.Forest == nil || len(a.Forest.Trees) == 0 {
			return fmt.Errorf("%w: forest has no trees", ErrInvalidModel)
		}
		for ti, tree := range a.Forest.Trees {
			if err := tree.validate(n); err != nil {
				return fmt.Errorf("%w: tree %d: %v", ErrInvalidModel, ti, err)
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidModel, a.Kind)
	}
	return nil
}

// validate 子节点索引必须大于父节点，保证遍历必然终止
func (t Tree) validate(features int) error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("empty tree")
	}
	for i, node := range t.Nodes {
		if node.Left < 0 {
			if node.Value < 0 || node.Value > 1 {
				return fmt.Errorf("leaf %d value %.3f outside [0,1]", i, node.Value)
			}
			continue
		}
		if node.Feature < 0 || node.Feature >= features {
			return fmt.Errorf("node %d feature index %d out of range", i, node.Feature)
		}
		if node.Left <= i || node.Right <= i || node.Left >= len(t.Nodes) || node.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d has invalid children %d/%d", i, node.Left, node.Right)
		}
	}
	return nil
}

// Version 模型版本
func (m *Model) Version() string {
	return m.artifact.ModelVersion
}

// SchemaVersion 训练时的特征模式版本
func (m *Model) SchemaVersion() string {
	return m.artifact.SchemaVersion
}

// Kind 模型类型
func (m *Model) Kind() Kind {
	return m.artifact.Kind
}

// CheckSchema 启动时校验模型与提取器的特征列表完全一致
func (m *Model) CheckSchema(schema features.Schema) error {
	return m.check(schema.Version, schema.Names())
}

func (m *Model) check(version string, names []string) error {
	a := m.artifact
	if version != a.SchemaVersion {
		return fmt.Errorf("%w: model %s expects schema %s, got %s", ErrSchemaMismatch, a.ModelVersion, a.SchemaVersion, version)
	}
	if len(names) != len(a.FeatureNames) {
		return fmt.Errorf("%w: model expects %d features, got %d", ErrSchemaMismatch, len(a.FeatureNames), len(names))
	}
	for i, name := range names {
		if name != a.FeatureNames[i] {
			return fmt.Errorf("%w: feature %d is %s, model expects %s", ErrSchemaMismatch, i, name, a.FeatureNames[i])
		}
	}
	return nil
}

// Predict 返回恶意概率 [0,1]；向量与模型不匹配时返回 ErrSchemaMismatch，不做任何补齐或截断
func (m *Model) Predict(v *features.Vector) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%w: nil vector", ErrSchemaMismatch)
	}
	if err := m.check(v.SchemaVersion, v.Names); err != nil {
		return 0, err
	}
	if len(v.Values) != len(v.Names) {
		return 0, fmt.Errorf("%w: %d values for %d names", ErrSchemaMismatch, len(v.Values), len(v.Names))
	}

	x := m.scale(v.Values)
	var p float64
	switch m.artifact.Kind {
	case KindLogistic:
		p = m.predictLogistic(x)
	case KindRandomForest:
		p = m.predictForest(x)
	}
	if math.IsNaN(p) {
		return 0, fmt.Errorf("%w: prediction is NaN", ErrInvalidModel)
	}
	return clamp(p), nil
}

func (m *Model) scale(values []float64) []float64 {
	x := make([]float64, len(values))
	copy(x, values)
	s := m.artifact.Scaler
	if s == nil {
		return x
	}
	for i := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		x[i] = (x[i] - s.Mean[i]) / scale
	}
	return x
}

func (m *Model) predictLogistic(x []float64) float64 {
	l := m.artifact.Logistic
	z := l.Intercept
	for i, w := range l.Weights {
		z += w * x[i]
	}
	return 1 / (1 + math.Exp(-z))
}

func (m *Model) predictForest(x []float64) float64 {
	trees := m.artifact.Forest.Trees
	sum := 0.0
	for _, t := range trees {
		i := 0
		for t.Nodes[i].Left >= 0 {
			n := t.Nodes[i]
			if x[n.Feature] <= n.Threshold {
				i = n.Left
			} else {
				i = n.Right
			}
		}
		sum += t.Nodes[i].Value
	}
	return sum / float64(len(trees))
}

func clamp(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
