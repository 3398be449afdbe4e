// Package scan 负责发现摄像头源目录并按天分组小时文件夹。
package scan

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/John-Robertt/daymerge/internal/domain"
)

// Cameras 枚举 root 下的摄像头目录。
//
// 目录结构（硬约束）：<root>/<位置>/<cameraSubdir>/<摄像头ID>/。
// 合并输出目录（mergedDir）不算位置。结果按 位置/摄像头ID 稳定排序。
//
// 枚举失败只记日志并返回空列表：本轮当作没有摄像头，下个扫描周期重试。
func Cameras(root, mergedDir, cameraSubdir string, log *slog.Logger) []domain.CameraFolder {
	cameras := make([]domain.CameraFolder, 0, 8)

	entries, err := os.ReadDir(root)
	if err != nil {
		log.Error("扫描摄像头文件夹失败", "root", root, "err", err)
		return nil
	}

	for _, loc := range entries {
		if !loc.IsDir() || loc.Name() == mergedDir {
			continue
		}
		sourceDir := filepath.Join(root, loc.Name(), cameraSubdir)
		ids, err := os.ReadDir(sourceDir)
		if err != nil {
			// 该位置下没有摄像头源目录，属于正常情况。
			continue
		}
		for _, id := range ids {
			if !id.IsDir() {
				continue
			}
			// 摄像头 ID 不允许包含下划线：记录键按下划线从右侧锚定
			// 解析，含下划线的 ID 无法构成可往返的键。
			if strings.Contains(id.Name(), "_") {
				log.Warn("摄像头 ID 含下划线，跳过", "location", loc.Name(), "camera_id", id.Name())
				continue
			}
			cameras = append(cameras, domain.CameraFolder{
				Location: loc.Name(),
				CameraID: id.Name(),
				Path:     filepath.Join(sourceDir, id.Name()),
			})
		}
	}

	sort.Slice(cameras, func(i, j int) bool {
		if cameras[i].Location != cameras[j].Location {
			return cameras[i].Location < cameras[j].Location
		}
		return cameras[i].CameraID < cameras[j].CameraID
	})
	log.Info("找到摄像头目录", "count", len(cameras))
	return cameras
}

// DaysOf 列出摄像头目录下的小时文件夹并按 8 位日期前缀分组，
// 排除 currentDay（当天仍在录制，不能动）。
//
// 返回的 map 值（小时文件夹名）已按字典序排好，即时间顺序。
func DaysOf(cameraPath, currentDay string) (map[string][]string, error) {
	entries, err := os.ReadDir(cameraPath)
	if err != nil {
		return nil, err
	}

	dayToHours := make(map[string][]string)
	for _, e := range entries {
		if !e.IsDir() || !domain.IsHourFolder(e.Name()) {
			continue
		}
		day := domain.DayOf(e.Name())
		if day == currentDay {
			continue
		}
		dayToHours[day] = append(dayToHours[day], e.Name())
	}
	for day := range dayToHours {
		sort.Strings(dayToHours[day])
	}
	return dayToHours, nil
}

// minCurrentDayFiles 是"当天有效小时目录"的最低文件数门槛，
// 低于它视为摄像头尚未正常出片。
const minCurrentDayFiles = 5

// HasCurrentDay 判断摄像头当天是否已有可用的小时目录
// （至少一个当天小时文件夹且其中文件数达到门槛）。
func HasCurrentDay(cameraPath, currentDay string) bool {
	entries, err := os.ReadDir(cameraPath)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() || !domain.IsHourFolder(e.Name()) || domain.DayOf(e.Name()) != currentDay {
			continue
		}
		files, err := os.ReadDir(filepath.Join(cameraPath, e.Name()))
		if err != nil {
			continue
		}
		if len(files) >= minCurrentDayFiles {
			return true
		}
	}
	return false
}

// ReadyLocations 返回当天已出片的位置集合。required 非空时只检查
// 名单内的位置；为空时检查所有发现的位置（即不设门槛时每个位置都
// 以自身现状为准）。
func ReadyLocations(cameras []domain.CameraFolder, required []string, currentDay string, log *slog.Logger) map[string]bool {
	wanted := make(map[string]bool, len(required))
	for _, r := range required {
		wanted[r] = true
	}

	ready := make(map[string]bool)
	for _, cam := range cameras {
		if len(wanted) > 0 && !wanted[cam.Location] {
			continue
		}
		if ready[cam.Location] {
			continue // 同位置任意一个摄像头有当天视频即可
		}
		if HasCurrentDay(cam.Path, currentDay) {
			ready[cam.Location] = true
		}
	}

	for _, r := range required {
		if !ready[r] {
			log.Warn("必需的摄像头位置没有当天视频", "location", r, "day", currentDay)
		}
	}
	return ready
}

// AllRequiredReady 判断 required 中的每个位置是否都已出片。
// required 为空恒为 true（不设门槛）。
func AllRequiredReady(ready map[string]bool, required []string) bool {
	for _, r := range required {
		if !ready[r] {
			return false
		}
	}
	return true
}

// SourceVideos 列出小时文件夹内参与合并的源文件（*.mp4 与 *.mp4.old），
// 按文件名排序以保证时间顺序。
func SourceVideos(hourDir string) ([]string, error) {
	entries, err := os.ReadDir(hourDir)
	if err != nil {
		return nil, err
	}
	videos := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".mp4") || strings.HasSuffix(name, ".mp4.old") {
			videos = append(videos, filepath.Join(hourDir, name))
		}
	}
	sort.Strings(videos)
	return videos, nil
}
