package merge

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-Robertt/daymerge/internal/check"
)

// concatCall 记录一次转码器调用的参数。
type concatCall struct {
	audioReencode bool
	timeout       time.Duration
}

// stubTranscoder 按预设脚本逐次返回结果；成功时写出 2KB 的输出文件。
type stubTranscoder struct {
	t     *testing.T
	errs  []error // 第 n 次调用返回 errs[n]；越界取最后一个
	calls []concatCall
}

func (s *stubTranscoder) Concat(listPath, output string, audioReencode bool, timeout time.Duration) error {
	s.calls = append(s.calls, concatCall{audioReencode: audioReencode, timeout: timeout})
	if _, err := os.Stat(listPath); err != nil {
		s.t.Fatalf("调用时清单文件应存在：%v", err)
	}

	i := len(s.calls) - 1
	if i >= len(s.errs) {
		i = len(s.errs) - 1
	}
	if i >= 0 && s.errs[i] != nil {
		return s.errs[i]
	}
	return os.WriteFile(output, bytes.Repeat([]byte{1}, 2048), 0o644)
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, tc Transcoder) *Engine {
	return &Engine{
		Transcoder: tc,
		Checker:    check.Checker{MinKB: 1, Log: quietLog()},
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
		Log:        quietLog(),
		sleep:      func(time.Duration) {},
	}
}

func writeInput(t *testing.T, dir, name string, b []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestMerge_EmptyInputs(t *testing.T) {
	e := newEngine(t, &stubTranscoder{t: t})
	if e.Merge(nil, filepath.Join(t.TempDir(), "out.mp4"), false) {
		t.Fatalf("空输入应失败")
	}
}

func TestMergeHourly_FirstAttempt(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "a.mp4", []byte("a"))
	out := filepath.Join(dir, "merged", "out.mp4")

	tc := &stubTranscoder{t: t}
	e := newEngine(t, tc)
	if !e.Merge([]string{in}, out, false) {
		t.Fatalf("合并应成功")
	}
	if len(tc.calls) != 1 {
		t.Fatalf("期望调用 1 次，实际 %d", len(tc.calls))
	}
	if !tc.calls[0].audioReencode {
		t.Fatalf("小时合并应要求音频转码")
	}
	if tc.calls[0].timeout != 30*time.Second {
		t.Fatalf("小时合并超时不符：%v", tc.calls[0].timeout)
	}
	if fileExists(out + ".txt") {
		t.Fatalf("成功后清单文件应被删除")
	}
}

func TestMergeHourly_RetryThenSucceed(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "a.mp4", []byte("a"))
	out := filepath.Join(dir, "out.mp4")

	slept := 0
	tc := &stubTranscoder{t: t, errs: []error{errors.New("超时"), errors.New("超时"), nil}}
	e := newEngine(t, tc)
	e.sleep = func(time.Duration) { slept++ }

	if !e.Merge([]string{in}, out, false) {
		t.Fatalf("第三次尝试应成功")
	}
	if len(tc.calls) != 3 {
		t.Fatalf("期望调用 3 次，实际 %d", len(tc.calls))
	}
	if slept != 2 {
		t.Fatalf("前两次失败后各等待一次，实际 %d 次", slept)
	}
}

func TestMergeHourly_Exhausted(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "a.mp4", []byte("a"))
	out := filepath.Join(dir, "out.mp4")

	tc := &stubTranscoder{t: t, errs: []error{errors.New("炸了")}}
	e := newEngine(t, tc)

	if e.Merge([]string{in}, out, false) {
		t.Fatalf("重试耗尽应失败")
	}
	if len(tc.calls) != e.MaxRetries {
		t.Fatalf("期望调用 %d 次，实际 %d", e.MaxRetries, len(tc.calls))
	}
	if fileExists(out + ".txt") {
		t.Fatalf("失败后清单文件也应被删除")
	}
}

func TestMergeHourly_InvalidOutputRetries(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "a.mp4", []byte("a"))
	out := filepath.Join(dir, "out.mp4")

	// 转码器"成功"但产物过小：每轮都应判失败并删除残缺输出。
	tiny := &stubTranscoder{t: t}
	e := newEngine(t, tiny)
	e.Checker = check.Checker{MinKB: 1024, Log: quietLog()}

	if e.Merge([]string{in}, out, false) {
		t.Fatalf("产物过小应判失败")
	}
	if len(tiny.calls) != e.MaxRetries {
		t.Fatalf("产物无效也应重试到上限，实际 %d 次", len(tiny.calls))
	}
}

func TestMergeDaily_SingleInputCopies(t *testing.T) {
	dir := t.TempDir()
	content := bytes.Repeat([]byte{7}, 2048)
	in := writeInput(t, dir, "hour.mp4", content)
	out := filepath.Join(dir, "day.mp4")

	tc := &stubTranscoder{t: t}
	e := newEngine(t, tc)
	if !e.Merge([]string{in}, out, true) {
		t.Fatalf("单输入天合并应成功")
	}
	if len(tc.calls) != 0 {
		t.Fatalf("单输入不应调用转码器，实际 %d 次", len(tc.calls))
	}
	got, err := os.ReadFile(out)
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("复制内容不一致：err=%v", err)
	}
}

func TestMergeDaily_SingleInputCopyRetries(t *testing.T) {
	dir := t.TempDir()
	// 源文件过小：每次复制产物都判无效，应重试到上限。
	in := writeInput(t, dir, "hour.mp4", []byte("太小"))
	out := filepath.Join(dir, "day.mp4")

	slept := 0
	tc := &stubTranscoder{t: t}
	e := newEngine(t, tc)
	e.sleep = func(time.Duration) { slept++ }

	if e.Merge([]string{in}, out, true) {
		t.Fatalf("源文件无效时单输入天合并应失败")
	}
	if len(tc.calls) != 0 {
		t.Fatalf("单输入不应调用转码器，实际 %d 次", len(tc.calls))
	}
	if slept != e.MaxRetries-1 {
		t.Fatalf("期望重试 %d 次之间各等待一次，实际 %d 次", e.MaxRetries, slept)
	}
}

func TestMergeDaily_StreamCopyFirstTry(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.mp4", bytes.Repeat([]byte{1}, 2048))
	b := writeInput(t, dir, "b.mp4", bytes.Repeat([]byte{2}, 2048))
	out := filepath.Join(dir, "day.mp4")

	tc := &stubTranscoder{t: t}
	e := newEngine(t, tc)
	if !e.Merge([]string{a, b}, out, true) {
		t.Fatalf("天合并应成功")
	}
	if len(tc.calls) != 1 || tc.calls[0].audioReencode {
		t.Fatalf("首选策略应是纯流拷贝：%+v", tc.calls)
	}
	if tc.calls[0].timeout != 60*time.Second {
		t.Fatalf("天合并超时应是配置的 2 倍：%v", tc.calls[0].timeout)
	}
}

func TestMergeDaily_FallbackToAAC(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.mp4", bytes.Repeat([]byte{1}, 2048))
	b := writeInput(t, dir, "b.mp4", bytes.Repeat([]byte{2}, 2048))
	out := filepath.Join(dir, "day.mp4")

	tc := &stubTranscoder{t: t, errs: []error{errors.New("音频编码不一致"), nil}}
	e := newEngine(t, tc)
	if !e.Merge([]string{a, b}, out, true) {
		t.Fatalf("方法2 应兜住")
	}
	if len(tc.calls) != 2 || tc.calls[0].audioReencode || !tc.calls[1].audioReencode {
		t.Fatalf("降级顺序不符：%+v", tc.calls)
	}
}

func TestMergeDaily_DegradedCopy(t *testing.T) {
	dir := t.TempDir()
	first := bytes.Repeat([]byte{9}, 2048)
	a := writeInput(t, dir, "a.mp4", first)
	b := writeInput(t, dir, "b.mp4", bytes.Repeat([]byte{2}, 2048))
	out := filepath.Join(dir, "day.mp4")

	// 转码器永远失败：应急方案复制第一个小时。
	tc := &stubTranscoder{t: t, errs: []error{errors.New("不行")}}
	e := newEngine(t, tc)
	if !e.Merge([]string{a, b}, out, true) {
		t.Fatalf("应急方案应成功")
	}
	got, err := os.ReadFile(out)
	if err != nil || !bytes.Equal(got, first) {
		t.Fatalf("应急输出应是第一个输入的内容：err=%v", err)
	}
	// 策略 1（每轮）+ 策略 2（仅第一轮）。
	if len(tc.calls) != 2 {
		t.Fatalf("期望调用 2 次后走应急方案，实际 %d 次：%+v", len(tc.calls), tc.calls)
	}
}

func TestMergeDaily_AllFail(t *testing.T) {
	dir := t.TempDir()
	a := writeInput(t, dir, "a.mp4", []byte("太小"))
	b := writeInput(t, dir, "b.mp4", []byte("太小"))
	out := filepath.Join(dir, "day.mp4")

	// 转码器失败且第一个输入过小：连应急方案都兜不住。
	tc := &stubTranscoder{t: t, errs: []error{errors.New("不行")}}
	e := newEngine(t, tc)
	if e.Merge([]string{a, b}, out, true) {
		t.Fatalf("全部策略失败应返回 false")
	}
	if fileExists(out) {
		t.Fatalf("无效输出应被删除")
	}
}
