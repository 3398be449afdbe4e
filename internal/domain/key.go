package domain

import "strings"

// 台账键（HourKey/DayKey/OriginalKey）的序列化格式必须跨进程稳定：
// 同一个键在构造和重启后的校验解析中必须逐字节一致。
//
// 解析从右侧锚定：最后一段是固定宽度的日期字段，倒数第二段（小时键与
// 原始键）是摄像头 ID，剩余部分整体作为位置名。位置名因此允许包含
// 下划线；摄像头 ID 与日期字段不允许。无法按此规则唯一解析的键一律
// 视为非法，由对账流程清除，不做猜测。

const originalPrefix = "original_"

// HourKey 唯一标识一次小时合并：位置 + 摄像头 ID + 10 位小时文件夹名。
type HourKey struct {
	Location string
	CameraID string
	Folder   string // YYYYMMDDHH
}

func (k HourKey) String() string {
	return k.Location + "_" + k.CameraID + "_" + k.Folder
}

// Day 返回 8 位日期前缀。
func (k HourKey) Day() string { return DayOf(k.Folder) }

// Hour 返回 2 位小时后缀。
func (k HourKey) Hour() string { return HourOf(k.Folder) }

// ParseHourKey 解析小时键；段数不足、日期字段非法、或包含空段时失败。
func ParseHourKey(s string) (HourKey, bool) {
	parts := strings.Split(s, "_")
	if len(parts) < 3 {
		return HourKey{}, false
	}
	folder := parts[len(parts)-1]
	cameraID := parts[len(parts)-2]
	location := strings.Join(parts[:len(parts)-2], "_")
	if location == "" || cameraID == "" || !IsHourFolder(folder) {
		return HourKey{}, false
	}
	return HourKey{Location: location, CameraID: cameraID, Folder: folder}, true
}

// DayKey 唯一标识一次天合并：位置 + 8 位日期。
type DayKey struct {
	Location string
	Day      string // YYYYMMDD
}

func (k DayKey) String() string {
	return k.Location + "_" + k.Day
}

// ParseDayKey 解析天键：最后一段必须是合法的 8 位日期。
func ParseDayKey(s string) (DayKey, bool) {
	i := strings.LastIndex(s, "_")
	if i <= 0 || i == len(s)-1 {
		return DayKey{}, false
	}
	location, day := s[:i], s[i+1:]
	if _, hasHour, ok := ParseBucket(day); !ok || hasHour {
		return DayKey{}, false
	}
	return DayKey{Location: location, Day: day}, true
}

// OriginalKey 标识一个已并入天视频的原始小时文件夹，仅用于
// merge_timestamps 中驱动原始视频的保留期清理。
type OriginalKey struct {
	Location string
	CameraID string
	Folder   string // YYYYMMDDHH
}

func (k OriginalKey) String() string {
	return originalPrefix + k.Location + "_" + k.CameraID + "_" + k.Folder
}

// IsOriginalKey 判断 merge_timestamps 里的键是否是原始文件夹键。
func IsOriginalKey(s string) bool {
	return strings.HasPrefix(s, originalPrefix)
}

// ParseOriginalKey 解析原始文件夹键；前缀之后的结构与小时键一致。
func ParseOriginalKey(s string) (OriginalKey, bool) {
	if !IsOriginalKey(s) {
		return OriginalKey{}, false
	}
	hk, ok := ParseHourKey(s[len(originalPrefix):])
	if !ok {
		return OriginalKey{}, false
	}
	return OriginalKey{Location: hk.Location, CameraID: hk.CameraID, Folder: hk.Folder}, true
}
