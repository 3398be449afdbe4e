// Package ledger 维护合并流水线的幂等台账。
//
// 台账是对"文件系统里存在有效产物"这一事实的缓存，不是事实本身：
// 对账流程（internal/app/verify）随时可以根据磁盘现状推翻台账记录。
// 每次状态变更后都要立即持久化，崩溃最多丢失正在处理的那一个桶。
package ledger

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/John-Robertt/daymerge/internal/infra/fsx"
)

// Ledger 是进程内的台账状态。Hours/Days 语义上是集合；
// Timestamps 记录每个产物（小时/天/原始文件夹）的合并 Unix 时间，
// 只用于驱动保留期清理。
type Ledger struct {
	Hours      map[string]struct{}
	Days       map[string]struct{}
	Timestamps map[string]int64
}

// fileDoc 是磁盘上的序列化形式（与历史格式兼容）。
type fileDoc struct {
	Hours      []string         `json:"hours"`
	Days       []string         `json:"days"`
	Timestamps map[string]int64 `json:"merge_timestamps"`
}

// New 返回空台账。
func New() *Ledger {
	return &Ledger{
		Hours:      make(map[string]struct{}),
		Days:       make(map[string]struct{}),
		Timestamps: make(map[string]int64),
	}
}

// Load 读取台账文件。
// - 文件不存在：返回空台账，err=nil（全新开始）
// - 解析失败：返回空台账和该错误，由调用方记日志后继续（绝不中止）
func Load(path string) (*Ledger, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return New(), err
	}

	var doc fileDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return New(), err
	}

	l := New()
	for _, h := range doc.Hours {
		l.Hours[h] = struct{}{}
	}
	for _, d := range doc.Days {
		l.Days[d] = struct{}{}
	}
	for k, ts := range doc.Timestamps {
		l.Timestamps[k] = ts
	}
	return l, nil
}

// Save 原子写入台账文件。map 本身保证无重复；输出按键排序，
// 保证同一状态的序列化逐字节稳定。
func (l *Ledger) Save(path string) error {
	doc := fileDoc{
		Hours:      sortedKeys(l.Hours),
		Days:       sortedKeys(l.Days),
		Timestamps: l.Timestamps,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return writeAtomic(path, b)
}

// SaveOrWarn 持久化并把失败降级为日志（进度丢失优于进程中止）。
func (l *Ledger) SaveOrWarn(path string, log *slog.Logger) {
	if err := l.Save(path); err != nil {
		log.Error("保存处理记录失败", "path", path, "err", err)
		return
	}
	log.Info("已保存处理记录", "hours", len(l.Hours), "days", len(l.Days))
}

// HasHour 判断小时键是否已记录。
func (l *Ledger) HasHour(key string) bool {
	_, ok := l.Hours[key]
	return ok
}

// HasDay 判断天键是否已记录。
func (l *Ledger) HasDay(key string) bool {
	_, ok := l.Days[key]
	return ok
}

// MarkHour 记录一次成功的小时合并及其时间戳。
func (l *Ledger) MarkHour(key string, now int64) {
	l.Hours[key] = struct{}{}
	l.Timestamps[key] = now
}

// MarkDay 记录一次成功的天合并及其时间戳。
func (l *Ledger) MarkDay(key string, now int64) {
	l.Days[key] = struct{}{}
	l.Timestamps[key] = now
}

// MarkOriginal 记录某个原始小时文件夹已并入天视频的时间戳。
func (l *Ledger) MarkOriginal(key string, now int64) {
	l.Timestamps[key] = now
}

// DropHour 移除小时键及其时间戳。
func (l *Ledger) DropHour(key string) {
	delete(l.Hours, key)
	delete(l.Timestamps, key)
}

// DropDay 移除天键及其时间戳。
func (l *Ledger) DropDay(key string) {
	delete(l.Days, key)
	delete(l.Timestamps, key)
}

// DropTimestamp 只移除时间戳记录（用于原始文件夹键）。
func (l *Ledger) DropTimestamp(key string) {
	delete(l.Timestamps, key)
}

// ClearRecords 清空 hours/days 但保留时间戳（--ignore-ledger 语义：
// 强制重新合并，但保留期清理仍按原时间线推进）。
func (l *Ledger) ClearRecords() {
	l.Hours = make(map[string]struct{})
	l.Days = make(map[string]struct{})
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func writeAtomic(path string, b []byte) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	return fsx.WriteFileAtomicReplace(dir, name, b)
}
