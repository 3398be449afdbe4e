// Package merge 实现有界重试的多策略拼接引擎。
//
// 结果契约：只返回成功/失败，绝不向调用方抛出异常；所有中间诊断
// 都以日志形式输出。任何被接受的输出都必须先通过有效性检查。
package merge

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/John-Robertt/daymerge/internal/check"
	"github.com/John-Robertt/daymerge/internal/infra/ffmpegx"
)

// Transcoder 是外部转码器的拼接操作抽象（由 infra/ffmpegx 实现，
// 测试注入桩实现）。
type Transcoder interface {
	Concat(listPath, output string, audioReencode bool, timeout time.Duration) error
}

// Engine 按配置执行小时/天视频合并。
type Engine struct {
	Transcoder Transcoder
	Checker    check.Checker

	Timeout    time.Duration // 单次合并总超时（天合并取 2 倍）
	MaxRetries int
	RetryDelay time.Duration
	DeepCheck  bool

	Log *slog.Logger

	// sleep 可注入，测试时跳过真实等待。
	sleep func(time.Duration)
}

// Merge 把 inputs 按给定顺序拼接为 output。
//
// inputs 的字面顺序就是拼接顺序（文件名字典序即时间序，调用方负责
// 排好）。isDaily=false 走小时合并的单一策略；isDaily=true 走天合并
// 的降级阶梯。清单文件在任何终态（成功或耗尽）都会被删除。
func (e *Engine) Merge(inputs []string, output string, isDaily bool) bool {
	log := e.logger()
	if len(inputs) == 0 {
		log.Warn("没有找到需要合并的视频文件", "output", output)
		return false
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		log.Error("创建输出目录失败", "dir", filepath.Dir(output), "err", err)
		return false
	}

	listPath := output + ".txt"
	if err := ffmpegx.WriteConcatList(listPath, inputs); err != nil {
		log.Error("创建合并列表文件失败", "path", listPath, "err", err)
		return false
	}
	defer func() { _ = os.Remove(listPath) }()

	if isDaily {
		return e.mergeDaily(inputs, listPath, output)
	}
	return e.mergeHourly(listPath, output, len(inputs))
}

// mergeHourly：单一策略（视频流拷贝 + 音频转 aac），有界重试。
func (e *Engine) mergeHourly(listPath, output string, count int) bool {
	log := e.logger()
	for attempt := 1; attempt <= e.MaxRetries; attempt++ {
		log.Info("尝试合并小时视频", "attempt", attempt, "output", output, "inputs", count, "timeout_s", int(e.Timeout.Seconds()))
		err := e.Transcoder.Concat(listPath, output, true, e.Timeout)
		if err == nil {
			if e.Checker.Valid(output, e.DeepCheck) {
				log.Info("小时视频合并成功", "output", output)
				return true
			}
			log.Error("合并后的视频文件无效或过小", "output", output)
		} else {
			log.Error("小时视频合并失败", "attempt", attempt, "output", output, "err", err)
		}
		e.retryPause(attempt, output)
	}
	log.Error("视频合并最终失败", "retries", e.MaxRetries, "output", output)
	return false
}

// mergeDaily：按降级顺序尝试，命中第一个成功的策略即停。
// 天合并超时是配置值的 2 倍。
func (e *Engine) mergeDaily(inputs []string, listPath, output string) bool {
	log := e.logger()
	dailyTimeout := e.Timeout * 2

	// 只有一个小时视频：直接复制，不必动用转码器。复制与拼接同样
	// 有界重试。
	if len(inputs) == 1 {
		log.Info("只有一个小时视频，直接复制", "src", inputs[0], "output", output)
		for attempt := 1; attempt <= e.MaxRetries; attempt++ {
			if e.copyFirst(inputs, output) {
				log.Info("天视频创建成功（直接复制）", "output", output)
				return true
			}
			log.Error("天视频创建失败（直接复制）", "attempt", attempt, "output", output)
			e.retryPause(attempt, output)
		}
		return false
	}

	for attempt := 1; attempt <= e.MaxRetries; attempt++ {
		// 策略 1：视频/音频都流拷贝。
		log.Info("合并天视频", "attempt", attempt, "output", output, "inputs", len(inputs), "timeout_s", int(dailyTimeout.Seconds()))
		err := e.Transcoder.Concat(listPath, output, false, dailyTimeout)
		if err == nil && e.Checker.Valid(output, e.DeepCheck) {
			log.Info("天视频合并成功", "output", output)
			return true
		}
		log.Error("天视频合并失败（方法1）", "output", output, "err", err)

		// 策略 2：音频转 aac（源音频编码不一致时流拷贝拼不起来）。
		// 只在第一轮失败后尝试一次。
		if attempt == 1 {
			log.Info("尝试方法2（aac 音频）合并天视频", "output", output)
			err = e.Transcoder.Concat(listPath, output, true, dailyTimeout)
			if err == nil && e.Checker.Valid(output, e.DeepCheck) {
				log.Info("天视频合并成功（方法2）", "output", output)
				return true
			}
			log.Error("天视频合并失败（方法2）", "output", output, "err", err)

			// 策略 3：应急方案，复制第一个小时作为天视频。
			// 这是显式的有损降级：牺牲完整性换可用性。
			if e.copyFirst(inputs, output) {
				log.Info("天视频创建成功（应急方案）", "output", output)
				return true
			}
			log.Error("天视频创建失败（应急方案）", "output", output)
		}

		e.retryPause(attempt, output)
	}

	log.Error("视频合并最终失败", "retries", e.MaxRetries, "output", output)

	// 最终应急方案：直接使用第一个文件。
	if e.copyFirst(inputs, output) {
		log.Info("天视频创建成功（最终应急方案）", "output", output)
		return true
	}
	return false
}

// copyFirst 把第一个输入复制为 output，复制结果仍要过有效性检查。
func (e *Engine) copyFirst(inputs []string, output string) bool {
	if len(inputs) == 0 {
		return false
	}
	if err := copyFile(inputs[0], output); err != nil {
		e.logger().Error("复制文件失败", "src", inputs[0], "dst", output, "err", err)
		return false
	}
	if !e.Checker.Valid(output, e.DeepCheck) {
		e.removePartial(output)
		return false
	}
	return true
}

// retryPause 在两次尝试之间删除残缺输出并等待重试间隔。
// 最后一轮之后不再等待。
func (e *Engine) retryPause(attempt int, output string) {
	if attempt >= e.MaxRetries {
		return
	}
	e.removePartial(output)
	e.logger().Info("合并失败，等待后重试", "delay_s", int(e.RetryDelay.Seconds()), "next_attempt", attempt+1)
	e.sleepFunc()(e.RetryDelay)
}

func (e *Engine) removePartial(output string) {
	if _, err := os.Stat(output); err != nil {
		return
	}
	if err := os.Remove(output); err != nil {
		e.logger().Error("删除无效文件失败", "path", output, "err", err)
	}
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *Engine) sleepFunc() func(time.Duration) {
	if e.sleep != nil {
		return e.sleep
	}
	return time.Sleep
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
