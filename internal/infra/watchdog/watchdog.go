// Package watchdog 实现主循环的活性看门狗。
//
// 这是一个死人开关，不是协作式取消：超时动作直接终止整个进程
// （外部转码器卡死或死循环时，没有可靠的单点 kill 手段）。
// 主循环必须周期性 Reset；Reset 与超时触发可以并发发生。
package watchdog

import (
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watchdog 维护一个单调推进的活性截止时间。
// 后台协程周期检查；截止时间过期即执行超时动作。
type Watchdog struct {
	timeout time.Duration
	expire  func()
	log     *slog.Logger

	mu       sync.Mutex
	deadline time.Time
	stopped  bool
	stopCh   chan struct{}
}

// New 创建看门狗。expire 为 nil 时使用默认动作：记严重错误日志并
// 以退出码 1 终止进程。
func New(timeout time.Duration, expire func(), log *slog.Logger) *Watchdog {
	w := &Watchdog{
		timeout: timeout,
		expire:  expire,
		log:     log,
		stopCh:  make(chan struct{}),
	}
	if w.expire == nil {
		w.expire = func() {
			log.Error("看门狗超时！执行时间过长，可能已卡死，强制退出")
			os.Exit(1)
		}
	}
	return w
}

// Start 设定初始截止时间并启动后台检查协程。
func (w *Watchdog) Start() {
	w.Reset()
	go w.watch()
}

// Reset 把截止时间推后一个完整超时周期。可并发调用。
func (w *Watchdog) Reset() {
	w.mu.Lock()
	w.deadline = time.Now().Add(w.timeout)
	w.mu.Unlock()
}

// Stop 停止后台检查；之后不会再触发超时动作。
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.stopCh)
	w.mu.Unlock()
}

func (w *Watchdog) watch() {
	// 检查周期取超时的 1/10，上限 1 秒：既不空转也不至于明显迟触发。
	interval := w.timeout / 10
	if interval > time.Second {
		interval = time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			expired := time.Now().After(w.deadline)
			w.mu.Unlock()
			if expired {
				w.expire()
				return
			}
		}
	}
}
