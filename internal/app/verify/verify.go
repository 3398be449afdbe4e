// Package verify 实现台账对账：把每条记录与磁盘现状重新核对。
//
// 台账只是缓存，磁盘才是事实。对账是唯一被允许推翻"已合并"断言的
// 流程：文件被外部删除、写入被截断、键本身损坏，都在这里被发现并
// 清除，让流水线在下一轮自愈。
package verify

import (
	"log/slog"
	"os"

	"github.com/John-Robertt/daymerge/internal/check"
	"github.com/John-Robertt/daymerge/internal/config"
	"github.com/John-Robertt/daymerge/internal/domain"
	"github.com/John-Robertt/daymerge/internal/layout"
	"github.com/John-Robertt/daymerge/internal/ledger"
)

// Ledger 核对所有 hours/days 记录，返回失效的键。
//
// 对每个键独立于任何内存缓存重新推导输出路径，再走有效性检查。
// 无法解析的键（段数不足、日期字段非法）、摄像头目录已不存在的键，
// 与产物缺失/无效的键一样按失效上报——宁可清除重做，绝不猜测。
func Ledger(eff config.EffectiveConfig, led *ledger.Ledger, checker check.Checker, deep bool, log *slog.Logger) (invalidHours, invalidDays []string) {
	log.Info("开始验证已处理记录", "hours", len(led.Hours), "days", len(led.Days))

	for key := range led.Hours {
		hk, ok := domain.ParseHourKey(key)
		if !ok {
			log.Warn("无效的小时记录键", "key", key)
			invalidHours = append(invalidHours, key)
			continue
		}

		cameraDir := layout.CameraDir(eff.VideoRoot, hk.Location, eff.CameraSubdir, hk.CameraID)
		if _, err := os.Stat(cameraDir); err != nil {
			log.Warn("找不到摄像头目录", "location", hk.Location, "camera_id", hk.CameraID)
			invalidHours = append(invalidHours, key)
			continue
		}

		out := layout.HourOutput(eff.VideoRoot, eff.MergedDir, hk)
		if !checker.Valid(out, deep) {
			log.Warn("小时视频文件无效或不存在", "path", out)
			invalidHours = append(invalidHours, key)
		}
	}

	for key := range led.Days {
		dk, ok := domain.ParseDayKey(key)
		if !ok {
			log.Warn("无效的天记录键", "key", key)
			invalidDays = append(invalidDays, key)
			continue
		}

		out := layout.DayOutput(eff.VideoRoot, eff.MergedDir, dk)
		if !checker.Valid(out, deep) {
			log.Warn("天视频文件无效或不存在", "path", out)
			invalidDays = append(invalidDays, key)
		}
	}

	return invalidHours, invalidDays
}

// Clean 从台账移除失效记录并持久化。
func Clean(eff config.EffectiveConfig, led *ledger.Ledger, invalidHours, invalidDays []string, log *slog.Logger) {
	if len(invalidHours) == 0 && len(invalidDays) == 0 {
		return
	}
	for _, key := range invalidHours {
		led.DropHour(key)
	}
	for _, key := range invalidDays {
		led.DropDay(key)
	}
	led.SaveOrWarn(eff.LedgerPath, log)
	log.Info("已清理无效的处理记录", "hours", len(invalidHours), "days", len(invalidDays))
}
