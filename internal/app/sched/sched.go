// Package sched 实现看门狗保护下的调度主循环。
//
// 状态机：Idle → Scanning → Processing → Idle，任何未捕获的错误进入
// Backoff（固定冷却后回到 Idle）。全程单线程顺序推进，一次一个摄像
// 头、一个桶；唯一的并发是后台看门狗。
package sched

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/John-Robertt/daymerge/internal/app/pipeline"
	"github.com/John-Robertt/daymerge/internal/app/verify"
	"github.com/John-Robertt/daymerge/internal/check"
	"github.com/John-Robertt/daymerge/internal/config"
	"github.com/John-Robertt/daymerge/internal/domain"
	"github.com/John-Robertt/daymerge/internal/ledger"
	"github.com/John-Robertt/daymerge/internal/merge"
	"github.com/John-Robertt/daymerge/internal/retain"
	"github.com/John-Robertt/daymerge/internal/scan"
)

// backoffDelay 是未预期错误后的固定冷却时间。
const backoffDelay = 60 * time.Second

// sleepSlice 是长休眠的切片上限：每片之间重置看门狗，
// 避免空闲等待本身被误判为卡死。
const sleepSlice = 30 * time.Second

// Dog 是调度循环对看门狗的最小依赖（测试里可以给空实现）。
type Dog interface {
	Reset()
}

// Loop 是调度主循环的全部依赖与开关。
type Loop struct {
	Eff     config.EffectiveConfig
	Ledger  *ledger.Ledger
	Engine  *merge.Engine
	Checker check.Checker
	Dog     Dog
	Log     *slog.Logger

	// SinglePass 为 true 时跑完一轮（或一次不满足条件的扫描）即返回。
	SinglePass bool

	// Now/Sleep 可注入，测试控制时间流逝。
	Now   func() time.Time
	Sleep func(time.Duration)
}

// Run 驱动调度循环直到单轮结束（SinglePass）或被外部终止。
func (l *Loop) Run() {
	processing := false
	for {
		done := l.iterate(&processing)
		if done {
			return
		}
	}
}

// iterate 执行一次完整的状态机循环；返回 true 表示应当退出。
// 未预期的 panic 在这里兜底：清理处理中标记、固定冷却、继续循环。
func (l *Loop) iterate(processing *bool) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			l.Log.Error("处理发生错误", "err", fmt.Sprintf("%v", r))
			*processing = false
			l.sleep(backoffDelay)
			if l.SinglePass {
				done = true
			}
		}
	}()

	// Idle：重置看门狗。
	l.Dog.Reset()

	// 每个周期开头先对账，保证台账与磁盘一致后再做任何决策。
	invalidHours, invalidDays := verify.Ledger(l.Eff, l.Ledger, l.Checker, l.Eff.DeepCheck, l.Log)
	verify.Clean(l.Eff, l.Ledger, invalidHours, invalidDays, l.Log)

	if !*processing {
		// Scanning：枚举摄像头并检查当天出片情况。
		cameras := scan.Cameras(l.Eff.VideoRoot, l.Eff.MergedDir, l.Eff.CameraSubdir, l.Log)
		if len(cameras) == 0 {
			l.Log.Warn("未找到摄像头文件夹")
			if l.SinglePass {
				return true
			}
			l.sleepInterval()
			return false
		}

		currentDay := l.now().Format(domain.DayLayout)
		ready := scan.ReadyLocations(cameras, l.Eff.RequiredLocations, currentDay, l.Log)
		if !scan.AllRequiredReady(ready, l.Eff.RequiredLocations) {
			l.Log.Warn("必需的摄像头位置尚未全部出片，等待下一轮", "day", currentDay)
			if l.SinglePass {
				return true
			}
			l.sleepInterval()
			return false
		}

		// Processing：逐个摄像头推进流水线。
		l.Log.Info("所有必需的摄像头都有当天视频，开始处理")
		*processing = true
		started := time.Now()

		runner := &pipeline.Runner{
			Eff:     l.Eff,
			Ledger:  l.Ledger,
			Engine:  l.Engine,
			Checker: l.Checker,
			Log:     l.Log,
			Now:     l.Now,
		}
		required := make(map[string]bool, len(l.Eff.RequiredLocations))
		for _, r := range l.Eff.RequiredLocations {
			required[r] = true
		}
		for _, cam := range cameras {
			// 单个摄像头可能处理很久，逐个重置看门狗。
			l.Dog.Reset()
			if len(required) > 0 && !required[cam.Location] {
				continue
			}
			runner.ProcessCamera(cam)
		}

		l.Log.Info("本轮处理完成", "elapsed_s", int(time.Since(started).Seconds()))

		// 收尾：两个保留期清理。
		retain.Originals(l.Eff, l.Ledger, l.now(), l.Log)
		retain.Merged(l.Eff, l.Ledger, l.now(), l.Log)

		*processing = false
	}

	if l.SinglePass {
		return true
	}

	l.Log.Info("等待下一次扫描", "interval_s", l.Eff.ScanInterval)
	l.sleepInterval()
	return false
}

// sleepInterval 分片休眠一个扫描周期，每片之间重置看门狗。
func (l *Loop) sleepInterval() {
	remaining := time.Duration(l.Eff.ScanInterval) * time.Second
	for remaining > 0 {
		slice := remaining
		if slice > sleepSlice {
			slice = sleepSlice
		}
		l.sleep(slice)
		remaining -= slice
		l.Dog.Reset()
	}
}

func (l *Loop) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func (l *Loop) sleep(d time.Duration) {
	if l.Sleep != nil {
		l.Sleep(d)
		return
	}
	time.Sleep(d)
}
