// Package check 实现合并产物的有效性判定。
//
// 这是全流程唯一的"成功"判据：判断桶是否已完成、判断一次合并尝试
// 是否成功、对账时判断记录是否仍然成立，走的都是同一个谓词。
package check

import (
	"log/slog"
	"os"
)

// Prober 是可播放性深度探测的抽象（由外部转码器实现）。
type Prober interface {
	Probe(path string) error
}

// Checker 按配置的最小大小（KB）与可选的深度探测判定文件有效性。
type Checker struct {
	MinKB  int
	Prober Prober
	Log    *slog.Logger
}

// Valid 判定 path 是否是可接受的合并产物：
// - 文件不存在 → 无效
// - 大小不足 MinKB → 无效
// - deep=true 时额外做深度探测，探测失败 → 无效
func (c Checker) Valid(path string, deep bool) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}

	sizeKB := float64(fi.Size()) / 1024
	if sizeKB < float64(c.MinKB) {
		c.logger().Warn("文件大小异常", "path", path, "size_kb", sizeKB, "min_kb", c.MinKB)
		return false
	}

	if deep && c.Prober != nil {
		if err := c.Prober.Probe(path); err != nil {
			c.logger().Warn("文件无法正常播放", "path", path, "err", err)
			return false
		}
	}
	return true
}

func (c Checker) logger() *slog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return slog.Default()
}
