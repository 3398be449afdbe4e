// Package ffmpegx 封装对外部转码器（ffmpeg/ffprobe）的子进程调用。
//
// 契约面只有两项：退出码与捕获的 stderr。任何更深的编解码语义都不在
// 本包（以及本项目）的职责范围内。
package ffmpegx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// sliceCeiling 是单次子进程调用的时间上限。配置的总超时大于它时，
// 第一次调用先跑满这个上限，超时后用剩余时间重新启动一次。
// 这样任何一次阻塞调用都不会长期占住被看门狗保护的主循环。
const sliceCeiling = 600 * time.Second

// probeTimeout 是完整性探测的硬超时。
const probeTimeout = 30 * time.Second

// FFmpeg 以子进程方式驱动 ffmpeg/ffprobe。
type FFmpeg struct {
	Log *slog.Logger
}

// Available 检查 ffmpeg 是否可在 PATH 中找到。
func Available() error {
	_, err := exec.LookPath("ffmpeg")
	return err
}

// WriteConcatList 在 listPath 写出 concat demuxer 的清单文件，
// 输入顺序即拼接顺序（输出是按墙钟时间的字节级拼接，调用方必须
// 预先按文件名排好序）。
func WriteConcatList(listPath string, inputs []string) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	for _, in := range inputs {
		abs, err := filepath.Abs(in)
		if err != nil {
			return err
		}
		// concat 清单里的单引号需要转义。
		safe := strings.ReplaceAll(abs, "'", "'\\''")
		if _, err := fmt.Fprintf(w, "file '%s'\n", safe); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return os.WriteFile(listPath, buf.Bytes(), 0o644)
}

// Concat 通过 concat 清单把输入拼接为 output。
// 视频始终流拷贝；audioReencode=true 时音频转为 aac，否则流拷贝。
func (f FFmpeg) Concat(listPath, output string, audioReencode bool, timeout time.Duration) error {
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c:v", "copy",
	}
	if audioReencode {
		args = append(args, "-c:a", "aac", "-strict", "experimental")
	} else {
		args = append(args, "-c:a", "copy")
	}
	args = append(args, "-y", output)
	return f.runWithTimeout("ffmpeg", args, timeout)
}

// Probe 调用 ffprobe 验证文件是否完整可读。非零退出码或启动失败都
// 视为探测失败。
func (f FFmpeg) Probe(path string) error {
	args := []string{"-v", "quiet", "-print_format", "json", "-show_format", path}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return runOnce(ctx, "ffprobe", args)
}

// runWithTimeout 执行命令并实施两段式超时：
// 第一次调用最多跑 sliceCeiling；若超时且配置的总超时更长，
// 用剩余时间重新启动一次。第二次仍未完成即视为本次尝试失败。
func (f FFmpeg) runWithTimeout(bin string, args []string, timeout time.Duration) error {
	first := timeout
	if first > sliceCeiling {
		first = sliceCeiling
	}

	f.logger().Info("运行命令", "bin", bin, "timeout_s", int(first.Seconds()))
	ctx, cancel := context.WithTimeout(context.Background(), first)
	err := runOnce(ctx, bin, args)
	cancel()
	if err == nil {
		return nil
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	remaining := timeout - first
	if remaining <= 0 {
		return fmt.Errorf("命令执行超时且无可用剩余时间（总超时 %s）：%w", timeout, err)
	}

	f.logger().Warn("命令到达初始超时限制，用剩余时间重新启动", "bin", bin, "remaining_s", int(remaining.Seconds()))
	ctx, cancel = context.WithTimeout(context.Background(), remaining)
	defer cancel()
	if err := runOnce(ctx, bin, args); err != nil {
		return fmt.Errorf("重试后仍失败：%w", err)
	}
	f.logger().Info("重试后命令执行成功", "bin", bin)
	return nil
}

func (f FFmpeg) logger() *slog.Logger {
	if f.Log != nil {
		return f.Log
	}
	return slog.Default()
}

// runOnce 执行一次子进程调用。超时返回 context.DeadlineExceeded；
// 非零退出码返回带 stderr 摘要的错误。
func runOnce(ctx context.Context, bin string, args []string) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stdout = nil
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return context.DeadlineExceeded
	}
	if err != nil {
		return fmt.Errorf("%s 退出异常：%w（stderr：%s）", bin, err, trimStderr(stderr.Bytes()))
	}
	return nil
}

func trimStderr(b []byte) string {
	s := strings.TrimSpace(string(b))
	// stderr 可能很长，只保留尾部（ffmpeg 的错误原因通常在最后几行）。
	const keep = 512
	if len(s) > keep {
		s = "…" + s[len(s)-keep:]
	}
	return strings.ReplaceAll(s, "\n", " | ")
}
