package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ErrCodeNotFound 表示显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

// DefaultFileName 是未显式指定时在 cwd 下查找的配置文件名。
const DefaultFileName = "daymerge.yaml"

// 内置默认值（与配置文件字段一一对应）。
const (
	DefaultMergedDir    = "merged_videos"
	DefaultCameraSubdir = "xiaomi_camera_videos"
	DefaultMaxTimeout   = 1800 // 单次合并总超时（秒）
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = 5   // 重试间隔（秒）
	DefaultScanInterval = 600 // 扫描间隔（秒）
	DefaultMinValidKB   = 1024
	DefaultLedgerFile   = "processed.json"
)

// FileConfig 对应 daymerge.yaml 的解析结构。
// 指针字段用于区分"未配置"与"显式配置为零值"。
type FileConfig struct {
	VideoRoot    string `yaml:"video_root"`
	MergedDir    string `yaml:"merged_dir"`
	CameraSubdir string `yaml:"camera_subdir"`
	LedgerFile   string `yaml:"ledger_file"`
	LogFile      string `yaml:"log_file"`

	MaxTimeout   *int `yaml:"max_timeout"`
	MaxRetries   *int `yaml:"max_retries"`
	RetryDelay   *int `yaml:"retry_delay"`
	ScanInterval *int `yaml:"scan_interval"`
	MinValidSize *int `yaml:"min_valid_size"`

	// MaxWorkers 仅为兼容保留：处理始终按摄像头串行。
	MaxWorkers *int `yaml:"max_workers"`

	SaveHourly *bool `yaml:"save_hourly"`
	DeepCheck  *bool `yaml:"deep_check"`

	DeleteOriginalAfterDays *int `yaml:"delete_original_after_days"`
	DeleteMergedAfterDays   *int `yaml:"delete_merged_after_days"`

	// RequiredLocations 是开始处理前必须有当天视频的位置名单；
	// 留空表示不设门槛，发现什么处理什么。
	RequiredLocations []string `yaml:"required_locations"`
}

// CLIArgs 只包含 CLI 暴露的覆盖项，并保留"是否显式指定"的信息，
// 保证 --deep-check 能覆盖配置文件里的 deep_check: false。
type CLIArgs struct {
	ConfigPath string

	DeepCheck    bool
	DeepCheckSet bool
}

// EffectiveConfig 是合并并规范化后的最终配置，实现层直接消费，
// 不再做二次默认/优先级判断。
type EffectiveConfig struct {
	VideoRoot    string
	MergedDir    string
	CameraSubdir string
	LedgerPath   string // 台账文件绝对路径
	LogFile      string

	MaxTimeout   int // 秒
	MaxRetries   int
	RetryDelay   int // 秒
	ScanInterval int // 秒
	MinValidKB   int

	SaveHourly bool
	DeepCheck  bool

	DeleteOriginalAfterDays int
	DeleteMergedAfterDays   int

	RequiredLocations []string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 读取配置文件并与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须读取该文件，不存在即报错
// 2) 未提供：尝试读取 <cwd>/daymerge.yaml，不存在则全部使用默认值
//
// 覆盖优先级：CLI > 配置文件 > 内置默认值。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath  string
		required bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		required = true
	} else {
		cfgPath = filepath.Join(cwdAbs, DefaultFileName)
	}

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	if required && !exists {
		return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
	}

	return merge(cwdAbs, cli, fc, cfgPath)
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	root := strings.TrimSpace(fc.VideoRoot)
	if root == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("video_root 不能为空")}
	}
	root = absCleanFrom(cwdAbs, root)

	mergedDir := strings.TrimSpace(fc.MergedDir)
	if mergedDir == "" {
		mergedDir = DefaultMergedDir
	}
	if strings.ContainsRune(mergedDir, os.PathSeparator) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("merged_dir 必须是单级目录名：%q", mergedDir)}
	}

	cameraSubdir := strings.TrimSpace(fc.CameraSubdir)
	if cameraSubdir == "" {
		cameraSubdir = DefaultCameraSubdir
	}

	ledgerFile := strings.TrimSpace(fc.LedgerFile)
	if ledgerFile == "" {
		ledgerFile = DefaultLedgerFile
	}
	ledgerPath := absCleanFrom(cwdAbs, ledgerFile)

	eff := EffectiveConfig{
		VideoRoot:    root,
		MergedDir:    mergedDir,
		CameraSubdir: cameraSubdir,
		LedgerPath:   ledgerPath,
		LogFile:      strings.TrimSpace(fc.LogFile),

		MaxTimeout:   intOr(fc.MaxTimeout, DefaultMaxTimeout),
		MaxRetries:   intOr(fc.MaxRetries, DefaultMaxRetries),
		RetryDelay:   intOr(fc.RetryDelay, DefaultRetryDelay),
		ScanInterval: intOr(fc.ScanInterval, DefaultScanInterval),
		MinValidKB:   intOr(fc.MinValidSize, DefaultMinValidKB),

		SaveHourly: boolOr(fc.SaveHourly, false),
		DeepCheck:  boolOr(fc.DeepCheck, false),

		DeleteOriginalAfterDays: intOr(fc.DeleteOriginalAfterDays, 1),
		DeleteMergedAfterDays:   intOr(fc.DeleteMergedAfterDays, 1),

		RequiredLocations: cleanLocations(fc.RequiredLocations),
	}

	// deep-check：CLI > 配置文件。
	if cli.DeepCheckSet {
		eff.DeepCheck = cli.DeepCheck
	}

	if eff.MaxTimeout < 1 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("max_timeout 必须 >= 1，实际是 %d", eff.MaxTimeout)}
	}
	if eff.MaxRetries < 1 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("max_retries 必须 >= 1，实际是 %d", eff.MaxRetries)}
	}
	if eff.RetryDelay < 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("retry_delay 不能为负，实际是 %d", eff.RetryDelay)}
	}
	if eff.ScanInterval < 1 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("scan_interval 必须 >= 1，实际是 %d", eff.ScanInterval)}
	}
	if eff.MinValidKB < 0 {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf("min_valid_size 不能为负，实际是 %d", eff.MinValidKB)}
	}

	return eff, nil
}

func cleanLocations(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 YAML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
