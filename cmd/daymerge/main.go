// daymerge 把每小时的摄像头录像合并为天级归档，跟踪已完成的合并
// 步骤避免重复，并在保留期后清理原始与合并产物。
//
// 默认持续运行（每个扫描周期一轮）；--single-run 跑完一轮即退出。
// 编解码完全委托给外部 ffmpeg/ffprobe。
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/John-Robertt/daymerge/internal/app/sched"
	"github.com/John-Robertt/daymerge/internal/app/verify"
	"github.com/John-Robertt/daymerge/internal/check"
	"github.com/John-Robertt/daymerge/internal/config"
	"github.com/John-Robertt/daymerge/internal/infra/ffmpegx"
	"github.com/John-Robertt/daymerge/internal/infra/watchdog"
	"github.com/John-Robertt/daymerge/internal/ledger"
	"github.com/John-Robertt/daymerge/internal/merge"
	"github.com/John-Robertt/daymerge/internal/retain"
)

func main() {
	if code := run(os.Args[1:]); code != 0 {
		os.Exit(code)
	}
}

type cliFlags struct {
	configPath      string
	singleRun       bool
	ignoreLedger    bool
	deepCheck       bool
	verifyOnly      bool
	cleanRecords    bool
	cleanupOriginal bool
	cleanupMerged   bool
	watchdogSec     int
}

func run(args []string) int {
	var cf cliFlags

	fs := pflag.NewFlagSet("daymerge", pflag.ContinueOnError)
	fs.StringVar(&cf.configPath, "config", "", "指定配置文件路径（默认读取 cwd 下的 "+config.DefaultFileName+"）")
	fs.BoolVar(&cf.singleRun, "single-run", false, "单次运行模式（跑完一轮即退出）")
	fs.BoolVar(&cf.ignoreLedger, "ignore-ledger", false, "忽略已处理记录，强制重新处理（保留清理时间戳）")
	fs.BoolVar(&cf.deepCheck, "deep-check", false, "进行深度检查，验证视频文件可播放性")
	fs.BoolVar(&cf.verifyOnly, "verify-only", false, "仅验证已处理记录，不执行合并")
	fs.BoolVar(&cf.cleanRecords, "clean-records", false, "配合 --verify-only：清理验证出的无效记录")
	fs.BoolVar(&cf.cleanupOriginal, "cleanup-original", false, "仅清理原始视频文件，不执行合并")
	fs.BoolVar(&cf.cleanupMerged, "cleanup-merged", false, "仅清理已合并的视频文件，不执行合并")
	fs.IntVar(&cf.watchdogSec, "watchdog-timeout", 3600, "看门狗超时时间（秒）")
	fs.BoolP("help", "h", false, "显示帮助")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "参数错误：%v\n", err)
		return 2
	}
	if help, _ := fs.GetBool("help"); help {
		fs.PrintDefaults()
		return 0
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	eff, err := config.LoadEffective(cwd, config.CLIArgs{
		ConfigPath:   cf.configPath,
		DeepCheck:    cf.deepCheck,
		DeepCheckSet: cf.deepCheck,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	log, closeLog, err := newLogger(eff.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "打开日志文件失败：%v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(log)

	log.Info("开始视频合并处理",
		"video_root", eff.VideoRoot,
		"merged_dir", eff.MergedDir,
		"scan_interval_s", eff.ScanInterval,
		"deep_check", eff.DeepCheck,
	)

	// ffmpeg 不可用时任何合并都无从谈起，直接退出。
	if err := ffmpegx.Available(); err != nil {
		log.Error("ffmpeg 未安装或不可用，请先安装并确保在 PATH 中", "err", err)
		return 1
	}

	led, err := ledger.Load(eff.LedgerPath)
	if err != nil {
		// 台账损坏不致命：记日志后从空状态继续（对账会逐步重建）。
		log.Error("加载已处理文件记录失败，使用空记录", "path", eff.LedgerPath, "err", err)
	}
	if cf.ignoreLedger {
		log.Info("已指定 --ignore-ledger，将忽略已处理记录")
		led.ClearRecords()
	}

	ff := ffmpegx.FFmpeg{Log: log}
	checker := check.Checker{MinKB: eff.MinValidKB, Prober: ff, Log: log}

	// 仅清理模式：执行对应清理后退出。
	if cf.cleanupOriginal {
		log.Info("仅执行原始视频清理")
		retain.Originals(eff, led, time.Now(), log)
		return 0
	}
	if cf.cleanupMerged {
		log.Info("仅执行已合并视频清理")
		retain.Merged(eff, led, time.Now(), log)
		return 0
	}

	// 仅验证模式：对账并（可选）清理无效记录后退出。
	if cf.verifyOnly {
		invalidHours, invalidDays := verify.Ledger(eff, led, checker, eff.DeepCheck, log)
		log.Info("验证完成", "invalid_hours", len(invalidHours), "invalid_days", len(invalidDays))
		if cf.cleanRecords {
			verify.Clean(eff, led, invalidHours, invalidDays, log)
		}
		return 0
	}

	// 启动看门狗，防止外部转码器卡死拖垮整个进程。
	dog := watchdog.New(time.Duration(cf.watchdogSec)*time.Second, nil, log)
	dog.Start()
	defer dog.Stop()
	log.Info("已启动看门狗定时器", "timeout_s", cf.watchdogSec)

	engine := &merge.Engine{
		Transcoder: ff,
		Checker:    checker,
		Timeout:    time.Duration(eff.MaxTimeout) * time.Second,
		MaxRetries: eff.MaxRetries,
		RetryDelay: time.Duration(eff.RetryDelay) * time.Second,
		DeepCheck:  eff.DeepCheck,
		Log:        log,
	}

	// 进入循环前先跑一次保留期清理（与循环内每轮收尾的清理相同）。
	retain.Originals(eff, led, time.Now(), log)
	retain.Merged(eff, led, time.Now(), log)

	loop := &sched.Loop{
		Eff:        eff,
		Ledger:     led,
		Engine:     engine,
		Checker:    checker,
		Dog:        dog,
		Log:        log,
		SinglePass: cf.singleRun,
	}
	loop.Run()

	log.Info("程序正常退出")
	return 0
}

// newLogger 构建 slog 日志器：stderr 文本输出，log_file 配置时同时
// 写入日志文件。
func newLogger(logFile string) (*slog.Logger, func(), error) {
	var w io.Writer = os.Stderr
	closeFn := func() {}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		w = io.MultiWriter(os.Stderr, f)
		closeFn = func() { _ = f.Close() }
	}

	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(h), closeFn, nil
}
