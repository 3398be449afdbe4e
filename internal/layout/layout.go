// Package layout 集中定义合并输出与原始目录的路径方案。
//
// 路径推导必须只有这一处定义：流水线生成输出、对账重建路径、保留期
// 清理三方都从这里取路径，保证同一个键在任何阶段都指向同一个文件。
package layout

import (
	"path/filepath"

	"github.com/John-Robertt/daymerge/internal/domain"
)

// MergedRoot 返回合并输出根目录：<root>/<mergedDir>。
func MergedRoot(root, mergedDir string) string {
	return filepath.Join(root, mergedDir)
}

// MergedDayDir 返回某天的合并输出目录：<root>/<mergedDir>/<day>。
// 所有位置共享同一个日期目录。
func MergedDayDir(root, mergedDir, day string) string {
	return filepath.Join(root, mergedDir, day)
}

// HourOutput 返回小时合并输出路径：<day>_<location>_<HH>.mp4。
func HourOutput(root, mergedDir string, k domain.HourKey) string {
	return filepath.Join(MergedDayDir(root, mergedDir, k.Day()), k.Day()+"_"+k.Location+"_"+k.Hour()+".mp4")
}

// DayOutput 返回天合并输出路径：<day>_<location>.mp4。
func DayOutput(root, mergedDir string, k domain.DayKey) string {
	return filepath.Join(MergedDayDir(root, mergedDir, k.Day), k.Day+"_"+k.Location+".mp4")
}

// CameraDir 返回摄像头源目录：<root>/<location>/<cameraSubdir>/<cameraID>。
func CameraDir(root, location, cameraSubdir, cameraID string) string {
	return filepath.Join(root, location, cameraSubdir, cameraID)
}

// OriginalHourDir 返回原始小时文件夹路径。
func OriginalHourDir(root, cameraSubdir string, k domain.OriginalKey) string {
	return filepath.Join(CameraDir(root, k.Location, cameraSubdir, k.CameraID), k.Folder)
}
