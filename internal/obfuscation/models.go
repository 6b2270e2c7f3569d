package obfuscation

// Info 混淆器检测结果
type Info struct {
	Detected   bool     `json:"detected"`   // 是否检测到混淆
	Name       string   `json:"name"`       // 混淆器名称
	Type       string   `json:"type"`       // 混淆类型
	Confidence float64  `json:"confidence"` // 置信度 0-1
	Indicators []string `json:"indicators"` // 命中的特征
}

// 混淆类型
const (
	TypeCommercial = "commercial" // 商业混淆器，带水印
	TypeRenamer    = "renamer"    // 名称混淆
	TypeStringEnc  = "string_enc" // 字符串加密
	TypeFlow       = "flow"       // 控制流混淆
)

// Rule 混淆器检测规则
type Rule struct {
	Name       string   // 混淆器名称
	Type       string   // 混淆类型
	Markers    []string // 条目路径片段
	Strings    []string // 常量池字符串片段
	ClassNames []string // 类名片段
	Renaming   bool     // 是否依赖短名称启发式
	Unicode    bool     // 是否依赖非 ASCII 名称启发式
	Priority   int      // 优先级 (越大越优先匹配)
}

// Stats 归档中与混淆相关的统计信息
type Stats struct {
	EntryPaths       []string
	ClassNames       []string
	Strings          []string
	ShortClassRatio  float64 // 简单类名长度 <= 2 的比例
	ShortMethodRatio float64 // 方法名长度 <= 2 的比例
	NonASCIIRatio    float64 // 含非 ASCII 字符的类名/方法名比例
}
