// Package pipeline 实现单个摄像头的小时→天两级合并流水线。
package pipeline

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/John-Robertt/daymerge/internal/check"
	"github.com/John-Robertt/daymerge/internal/config"
	"github.com/John-Robertt/daymerge/internal/domain"
	"github.com/John-Robertt/daymerge/internal/layout"
	"github.com/John-Robertt/daymerge/internal/ledger"
	"github.com/John-Robertt/daymerge/internal/merge"
	"github.com/John-Robertt/daymerge/internal/scan"
)

// Runner 驱动一个摄像头的完整处理：按天分组小时文件夹、补齐缺失的
// 小时合并、合成天视频、更新台账。
type Runner struct {
	Eff     config.EffectiveConfig
	Ledger  *ledger.Ledger
	Engine  *merge.Engine
	Checker check.Checker
	Log     *slog.Logger

	// Now 可注入（测试控制"当天"），为空时取 time.Now。
	Now func() time.Time
}

// ProcessCamera 处理一个摄像头的全部历史日期。
//
// 台账在每次成功合并后立即持久化：崩溃最多丢失正在处理的那一个桶，
// 已完成的进度永不回退。返回 false 仅表示该摄像头本轮没有完整跑完，
// 调用方继续处理下一个摄像头。
func (r *Runner) ProcessCamera(cam domain.CameraFolder) bool {
	log := r.Log.With("location", cam.Location, "camera_id", cam.CameraID)
	log.Info("开始处理摄像头")

	now := r.now()
	currentDay := now.Format(domain.DayLayout)

	dayToHours, err := scan.DaysOf(cam.Path, currentDay)
	if err != nil {
		log.Error("枚举日期文件夹失败", "path", cam.Path, "err", err)
		return false
	}
	if len(dayToHours) == 0 {
		log.Info("没有需要处理的历史视频")
		return true
	}

	days := make([]string, 0, len(dayToHours))
	for day := range dayToHours {
		days = append(days, day)
	}
	sort.Strings(days)

	started := time.Now()
	for i, day := range days {
		log.Info("处理日期", "day", day, "hour_folders", len(dayToHours[day]), "progress", i+1, "total_days", len(days))
		r.processDay(cam, day, dayToHours[day], log)
	}

	log.Info("摄像头处理完成", "elapsed_min", int(time.Since(started).Minutes()))
	return true
}

func (r *Runner) processDay(cam domain.CameraFolder, day string, hourFolders []string, log *slog.Logger) {
	eff := r.Eff
	dayKey := domain.DayKey{Location: cam.Location, Day: day}
	dayOut := layout.DayOutput(eff.VideoRoot, eff.MergedDir, dayKey)

	// 天视频已合并且有效：跳过该天所有小时的合并。
	// （小时产物可能已被删除，这条短路保证第二轮零转码调用。）
	if r.Ledger.HasDay(dayKey.String()) && r.Checker.Valid(dayOut, eff.DeepCheck) {
		log.Info("天视频已处理且文件有效，跳过该天", "day", day)
		return
	}

	// 1. 顺序补齐每个小时的合并。
	hourOutputs := make([]string, 0, len(hourFolders))
	originals := make([]domain.OriginalKey, 0, len(hourFolders))

	for _, folder := range hourFolders {
		hk := domain.HourKey{Location: cam.Location, CameraID: cam.CameraID, Folder: folder}
		hourOut := layout.HourOutput(eff.VideoRoot, eff.MergedDir, hk)
		originals = append(originals, domain.OriginalKey{Location: cam.Location, CameraID: cam.CameraID, Folder: folder})

		if r.Ledger.HasHour(hk.String()) {
			if r.Checker.Valid(hourOut, eff.DeepCheck) {
				log.Info("小时视频已处理且文件有效", "folder", folder)
				hourOutputs = append(hourOutputs, hourOut)
				continue
			}
			// 记录在册但产物失效：清掉记录重新合并。
			log.Warn("小时视频已处理但文件无效或不存在，将重新处理", "folder", folder)
			r.Ledger.DropHour(hk.String())
		}

		videos, err := scan.SourceVideos(filepath.Join(cam.Path, folder))
		if err != nil {
			log.Error("枚举小时文件夹失败", "folder", folder, "err", err)
			continue
		}
		if len(videos) == 0 {
			continue
		}

		log.Info("合并小时视频", "folder", folder, "files", len(videos))
		if r.Engine.Merge(videos, hourOut, false) {
			r.Ledger.MarkHour(hk.String(), r.now().Unix())
			r.Ledger.SaveOrWarn(eff.LedgerPath, log)
			hourOutputs = append(hourOutputs, hourOut)
		}
	}

	// 2. 合成天视频。
	if len(hourOutputs) == 0 {
		return
	}

	// 清掉历史残留的临时文件。
	if temp := dayOut + ".temp.mp4"; fileExists(temp) {
		if err := os.Remove(temp); err != nil {
			log.Warn("删除临时文件失败", "path", temp, "err", err)
		} else {
			log.Info("删除旧的临时文件", "path", temp)
		}
	}

	if r.Ledger.HasDay(dayKey.String()) {
		if r.Checker.Valid(dayOut, eff.DeepCheck) {
			log.Info("天视频已处理且文件有效", "day", day)
			return
		}
		log.Warn("天视频已处理但文件无效或不存在，将重新处理", "day", day)
		r.Ledger.DropDay(dayKey.String())
	}

	sort.Strings(hourOutputs)
	log.Info("合并天视频", "day", day, "hours", len(hourOutputs))
	if !r.Engine.Merge(hourOutputs, dayOut, true) {
		return
	}

	now := r.now().Unix()
	r.Ledger.MarkDay(dayKey.String(), now)
	// 记录该天所有原始小时文件夹的时间戳，驱动后续的原始视频清理。
	for _, ok := range originals {
		r.Ledger.MarkOriginal(ok.String(), now)
	}
	r.Ledger.SaveOrWarn(eff.LedgerPath, log)

	// 3. 天合并成功后删除小时产物（除非配置要求保留）。
	if !eff.SaveHourly {
		for _, hv := range hourOutputs {
			if err := os.Remove(hv); err != nil {
				log.Error("删除小时视频失败", "path", hv, "err", err)
				continue
			}
			log.Info("删除小时视频", "path", hv)
		}
	}
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
