// Package retain 实现基于合并时间戳的保留期清理。
//
// 两个互相独立的清理：原始小时文件夹（并入天视频后超期删除）与
// 合并产物（小时/天视频超期删除并同步移除台账记录）。删除失败一律
// 降级为警告，绝不中止整轮清理。
package retain

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/John-Robertt/daymerge/internal/config"
	"github.com/John-Robertt/daymerge/internal/domain"
	"github.com/John-Robertt/daymerge/internal/layout"
	"github.com/John-Robertt/daymerge/internal/ledger"
)

const secondsPerDay = 86400

// Originals 清理已并入天视频且超过保留期的原始小时文件夹。
// 返回处理的文件夹数。delete_original_after_days <= 0 时禁用。
func Originals(eff config.EffectiveConfig, led *ledger.Ledger, now time.Time, log *slog.Logger) int {
	if eff.DeleteOriginalAfterDays <= 0 {
		log.Info("未启用原始视频清理功能")
		return 0
	}

	log.Info("开始检查是否有需要清理的原始视频")
	deadline := int64(eff.DeleteOriginalAfterDays) * secondsPerDay
	nowUnix := now.Unix()

	cleaned := make([]string, 0, 8)
	for key, ts := range led.Timestamps {
		if !domain.IsOriginalKey(key) || nowUnix-ts <= deadline {
			continue
		}
		ok, parsed := parseOriginal(key, log)
		if !ok {
			continue
		}

		dir := layout.OriginalHourDir(eff.VideoRoot, eff.CameraSubdir, parsed)
		if _, err := os.Stat(dir); err != nil {
			// 文件夹已不存在：时间戳没有继续存在的意义，直接回收。
			cleaned = append(cleaned, key)
			continue
		}

		log.Info("准备清理原始视频文件夹", "dir", dir)
		removed, failed := removeFilesIn(dir, log)
		if failed {
			continue // 下轮再试，不移除记录
		}
		if err := os.Remove(dir); err != nil {
			// 仍有子目录等残留：警告但视为本条已处理（文件已删光）。
			log.Warn("文件夹不为空，无法删除", "dir", dir, "err", err)
		} else {
			log.Info("已清理原始视频文件夹", "dir", dir, "files", removed)
		}
		cleaned = append(cleaned, key)
	}

	for _, key := range cleaned {
		led.DropTimestamp(key)
	}
	if len(cleaned) > 0 {
		led.SaveOrWarn(eff.LedgerPath, log)
	}
	log.Info("原始视频清理完成", "folders", len(cleaned))
	return len(cleaned)
}

// Merged 清理超过保留期的合并产物（小时与天视频），并把对应的
// 台账键与时间戳一并移除。返回删除的文件数。
func Merged(eff config.EffectiveConfig, led *ledger.Ledger, now time.Time, log *slog.Logger) int {
	if eff.DeleteMergedAfterDays <= 0 {
		log.Info("未启用合并视频清理功能")
		return 0
	}

	log.Info("开始检查是否有需要清理的已合并视频", "after_days", eff.DeleteMergedAfterDays)
	deadline := int64(eff.DeleteMergedAfterDays) * secondsPerDay
	nowUnix := now.Unix()
	deleted := 0

	for key := range led.Hours {
		ts, ok := led.Timestamps[key]
		if !ok || nowUnix-ts <= deadline {
			continue // 时间戳缺失 = 年龄未知，绝不自动删除
		}
		hk, ok := domain.ParseHourKey(key)
		if !ok {
			continue // 非法键交给对账流程处理
		}
		path := layout.HourOutput(eff.VideoRoot, eff.MergedDir, hk)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Error("删除小时视频失败", "path", path, "err", err)
			continue
		}
		log.Info("已删除超期的小时视频", "path", path, "after_days", eff.DeleteMergedAfterDays)
		led.DropHour(key)
		deleted++
	}

	for key := range led.Days {
		ts, ok := led.Timestamps[key]
		if !ok || nowUnix-ts <= deadline {
			continue
		}
		dk, ok := domain.ParseDayKey(key)
		if !ok {
			continue
		}
		path := layout.DayOutput(eff.VideoRoot, eff.MergedDir, dk)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Error("删除天视频失败", "path", path, "err", err)
			continue
		}
		log.Info("已删除超期的天视频", "path", path, "after_days", eff.DeleteMergedAfterDays)
		led.DropDay(key)
		deleted++
	}

	if deleted > 0 {
		led.SaveOrWarn(eff.LedgerPath, log)
		log.Info("已清理超期的合并视频", "deleted", deleted)
	} else {
		log.Info("未找到需要清理的已合并视频文件")
	}

	pruneEmptyDayDirs(layout.MergedRoot(eff.VideoRoot, eff.MergedDir), log)
	return deleted
}

// pruneEmptyDayDirs 顺手删除合并输出根下已清空的日期目录。
func pruneEmptyDayDirs(mergedRoot string, log *slog.Logger) {
	entries, err := os.ReadDir(mergedRoot)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dayPath := filepath.Join(mergedRoot, e.Name())
		inner, err := os.ReadDir(dayPath)
		if err != nil || len(inner) > 0 {
			continue
		}
		if err := os.Remove(dayPath); err != nil {
			log.Warn("清理空文件夹时出错", "dir", dayPath, "err", err)
			continue
		}
		log.Info("已删除空的日期文件夹", "dir", dayPath)
	}
}

func parseOriginal(key string, log *slog.Logger) (bool, domain.OriginalKey) {
	parsed, ok := domain.ParseOriginalKey(key)
	if !ok {
		log.Warn("无效的原始文件夹记录键", "key", key)
		return false, domain.OriginalKey{}
	}
	return true, parsed
}

// removeFilesIn 删除 dir 下的所有普通文件；遇到任一删除失败返回
// failed=true（保留记录，下轮重试）。
func removeFilesIn(dir string, log *slog.Logger) (removed int, failed bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Error("清理原始视频文件夹失败", "dir", dir, "err", err)
		return 0, true
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := os.Remove(path); err != nil {
			log.Error("删除原始视频文件失败", "path", path, "err", err)
			failed = true
			continue
		}
		removed++
	}
	return removed, failed
}
