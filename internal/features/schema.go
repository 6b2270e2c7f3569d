package features

import (
	"fmt"
	"math"
)

// SchemaVersion 当前特征模式版本；特征增删或顺序变化必须递增，并重新训练模型
const SchemaVersion = "jar-features/v1"

// FeatureSpec 单个特征定义
type FeatureSpec struct {
	Name        string  `json:"name"`
	Default     float64 `json:"default"`
	Description string  `json:"description"`
}

// Schema 有序特征列表，与训练流程共享
type Schema struct {
	Version  string        `json:"version"`
	Features []FeatureSpec `json:"features"`
}

// Names 按顺序返回特征名
func (s Schema) Names() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Index 返回特征位置，不存在时为 -1
func (s Schema) Index(name string) int {
	for i, f := range s.Features {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// 特征名
const (
	FeatNumClassFiles         = "num_class_files"
	FeatNumFilesTotal         = "num_files_total"
	FeatFilenameLength        = "filename_length"
	FeatHasDatFile            = "has_dat_file"
	FeatClassToTotalRatio     = "class_to_total_ratio"
	FeatEntropyScore          = "entropy_score"
	FeatArchiveSizeKB         = "archive_size_kb"
	FeatNetworkAPICalls       = "network_api_calls"
	FeatProcessExecCalls      = "process_exec_calls"
	FeatReflectionCalls       = "reflection_calls"
	FeatDynamicClassLoading   = "dynamic_classloading_calls"
	FeatFilesystemEscape      = "filesystem_escape_patterns"
	FeatCredentialAccess      = "credential_access_patterns"
	FeatDataCollection        = "data_collection_patterns"
	FeatHTTPOperations        = "http_operations_count"
	FeatBase64Usage           = "base64_usage"
	FeatDiscordWebhook        = "discord_webhook"
	FeatSuspiciousURLs        = "suspicious_urls"
	FeatIPLiterals            = "ip_literals"
	FeatShellFragments        = "shell_fragments"
	FeatC2Keywords            = "c2_keywords"
	FeatSuspiciousKeywords    = "suspicious_keywords"
	FeatRATSignatures         = "rat_signatures"
	FeatLegitimateConnections = "legitimate_connections"
	FeatAvgClassNameLength    = "avg_class_name_length"
	FeatAvgMethodNameLength   = "avg_method_name_length"
	FeatShortClassNamesRatio  = "short_class_names_ratio"
	FeatShortMethodNamesRatio = "short_method_names_ratio"
	FeatTotalClasses          = "total_classes"
	FeatTotalMethods          = "total_methods"
	FeatReflectionDensity     = "reflection_density"
	FeatObfuscationConfidence = "obfuscation_confidence"
	FeatManifestMissing       = "manifest_missing"
	FeatManifestAnomalies     = "manifest_anomalies"
	FeatUnreadableEntries     = "unreadable_entries"
	FeatHasModMetadata        = "has_mod_metadata"
	FeatMinecraftAPIUsage     = "minecraft_api_usage"
	FeatFilenameEntropy       = "filename_entropy"
	FeatNetworkToGameRatio    = "network_to_game_ratio"
	FeatDecompileSuccessRatio = "decompile_success_ratio"
	FeatDecompileTimeoutRatio = "decompile_timeout_ratio"
)

// DefaultSchema 当前版本的特征列表
func DefaultSchema() Schema {
	return Schema{
		Version: SchemaVersion,
		Features: []FeatureSpec{
			// 文件指标
			{FeatNumClassFiles, 0, "number of .class entries"},
			{FeatNumFilesTotal, 0, "number of non-directory entries"},
			{FeatFilenameLength, 0, "length of the submitted file name"},
			{FeatHasDatFile, 0, "1 if any entry ends with .dat"},
			{FeatClassToTotalRatio, 0, "class entries / all entries"},
			{FeatEntropyScore, 0, "mean byte entropy of readable entries"},
			{FeatArchiveSizeKB, 0, "archive size in KiB"},
			// API 使用
			{FeatNetworkAPICalls, 0, "networking API call sites in decompiled source"},
			{FeatProcessExecCalls, 0, "process execution call sites"},
			{FeatReflectionCalls, 0, "reflection call sites"},
			{FeatDynamicClassLoading, 0, "dynamic class loading call sites"},
			{FeatFilesystemEscape, 0, "references to user profile and browser storage paths"},
			{FeatCredentialAccess, 0, "session and token access patterns"},
			{FeatDataCollection, 0, "host fingerprinting patterns"},
			{FeatHTTPOperations, 0, "HTTP request construction call sites"},
			{FeatBase64Usage, 0, "Base64 usage"},
			// 字符串模式
			{FeatDiscordWebhook, 0, "Discord webhook URLs"},
			{FeatSuspiciousURLs, 0, "paste, tunnel and file drop hosts"},
			{FeatIPLiterals, 0, "IPv4 literals with port"},
			{FeatShellFragments, 0, "shell command fragments"},
			{FeatC2Keywords, 0, "command-and-control vocabulary"},
			{FeatSuspiciousKeywords, 0, "credential related keywords"},
			{FeatRATSignatures, 0, "known RAT family strings"},
			{FeatLegitimateConnections, 0, "known legitimate mod ecosystem domains"},
			// 结构与混淆
			{FeatAvgClassNameLength, 0, "mean simple class name length"},
			{FeatAvgMethodNameLength, 0, "mean declared method name length"},
			{FeatShortClassNamesRatio, 0, "simple class names of length <= 2"},
			{FeatShortMethodNamesRatio, 0, "method names of length <= 2"},
			{FeatTotalClasses, 0, "classes whose bytecode parsed"},
			{FeatTotalMethods, 0, "declared methods across parsed classes"},
			{FeatReflectionDensity, 0, "reflection call sites per declared method"},
			{FeatObfuscationConfidence, 0, "confidence of the best obfuscator match"},
			{FeatManifestMissing, 1, "1 if META-INF/MANIFEST.MF is absent"},
			{FeatManifestAnomalies, 0, "manifest anomalies"},
			{FeatUnreadableEntries, 0, "corrupt, oversized or malformed entries"},
			{FeatHasModMetadata, 0, "1 if a mod or plugin descriptor is present"},
			{FeatMinecraftAPIUsage, 0, "game API references in bytecode"},
			{FeatFilenameEntropy, 0, "character entropy of the file name"},
			{FeatNetworkToGameRatio, 0, "network API call sites / (game API references + 1)"},
			// 反编译质量
			{FeatDecompileSuccessRatio, 1, "succeeded / total decompiled classes"},
			{FeatDecompileTimeoutRatio, 0, "timed out / total decompiled classes"},
		},
	}
}

// Vector 固定长度特征向量
type Vector struct {
	SchemaVersion string    `json:"schema_version"`
	Names         []string  `json:"names"`
	Values        []float64 `json:"values"`
}

// Get 读取特征值
func (v *Vector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Map 以名称为键输出，用于持久化
func (v *Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.Names))
	for i, n := range v.Names {
		m[n] = v.Values[i]
	}
	return m
}

// Validate 校验向量长度与数值
func (v *Vector) Validate() error {
	if len(v.Names) != len(v.Values) {
		return fmt.Errorf("vector has %d names and %d values", len(v.Names), len(v.Values))
	}
	for i, x := range v.Values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("feature %s is not finite", v.Names[i])
		}
	}
	return nil
}
