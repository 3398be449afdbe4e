package pipeline

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/daymerge/internal/check"
	"github.com/John-Robertt/daymerge/internal/config"
	"github.com/John-Robertt/daymerge/internal/domain"
	"github.com/John-Robertt/daymerge/internal/layout"
	"github.com/John-Robertt/daymerge/internal/ledger"
	"github.com/John-Robertt/daymerge/internal/merge"
)

// fakeTranscoder 按清单文件把输入逐字节拼接成输出，模拟无损拼接。
type fakeTranscoder struct {
	calls int
}

func (f *fakeTranscoder) Concat(listPath, output string, _ bool, _ time.Duration) error {
	f.calls++
	b, err := os.ReadFile(listPath)
	if err != nil {
		return err
	}
	var out []byte
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "file '") {
			continue
		}
		path := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		c, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, c...)
	}
	return os.WriteFile(output, out, 0o644)
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	eff    config.EffectiveConfig
	led    *ledger.Ledger
	tc     *fakeTranscoder
	runner *Runner
	cam    domain.CameraFolder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	eff := config.EffectiveConfig{
		VideoRoot:    root,
		MergedDir:    "merged_videos",
		CameraSubdir: "cams",
		LedgerPath:   filepath.Join(root, "processed.json"),
		MaxTimeout:   30,
		MaxRetries:   1,
		MinValidKB:   1,
	}
	led := ledger.New()
	tc := &fakeTranscoder{}
	checker := check.Checker{MinKB: eff.MinValidKB, Log: quietLog()}
	engine := &merge.Engine{
		Transcoder: tc,
		Checker:    checker,
		Timeout:    30 * time.Second,
		MaxRetries: 1,
		Log:        quietLog(),
	}
	camPath := layout.CameraDir(root, "Loc", eff.CameraSubdir, "cam1")
	if err := os.MkdirAll(camPath, 0o755); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		eff: eff,
		led: led,
		tc:  tc,
		runner: &Runner{
			Eff:     eff,
			Ledger:  led,
			Engine:  engine,
			Checker: checker,
			Log:     quietLog(),
			// 固定"当天"为 2025-01-02，让 20250101 成为历史日期。
			Now: func() time.Time {
				return time.Date(2025, 1, 2, 12, 0, 0, 0, time.Local)
			},
		},
		cam: domain.CameraFolder{Location: "Loc", CameraID: "cam1", Path: camPath},
	}
}

// addHour 往小时文件夹里放 n 个 1KB 的源文件，返回按名字拼接后的内容。
func (f *fixture) addHour(t *testing.T, folder string, n int) []byte {
	t.Helper()
	dir := filepath.Join(f.cam.Path, folder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	var all []byte
	for i := 0; i < n; i++ {
		content := bytes.Repeat([]byte{byte(folder[len(folder)-1]), byte('0' + i)}, 512)
		name := "00_" + string(rune('a'+i)) + ".mp4"
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			t.Fatal(err)
		}
		all = append(all, content...)
	}
	return all
}

func TestProcessCamera_FullDay(t *testing.T) {
	f := newFixture(t)
	var want []byte
	want = append(want, f.addHour(t, "2025010100", 2)...)
	want = append(want, f.addHour(t, "2025010101", 1)...)
	want = append(want, f.addHour(t, "2025010102", 3)...)

	if !f.runner.ProcessCamera(f.cam) {
		t.Fatalf("处理应成功")
	}

	// 天视频内容 = 三个小时按时间顺序拼接。
	dayOut := layout.DayOutput(f.eff.VideoRoot, f.eff.MergedDir, domain.DayKey{Location: "Loc", Day: "20250101"})
	got, err := os.ReadFile(dayOut)
	if err != nil {
		t.Fatalf("天视频缺失：%v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("天视频内容与输入拼接不一致：%d != %d 字节", len(got), len(want))
	}

	// 小时产物在天合并成功后删除（save_hourly=false）。
	for _, folder := range []string{"2025010100", "2025010101", "2025010102"} {
		hk := domain.HourKey{Location: "Loc", CameraID: "cam1", Folder: folder}
		if fileExists(layout.HourOutput(f.eff.VideoRoot, f.eff.MergedDir, hk)) {
			t.Fatalf("小时产物应被删除：%s", folder)
		}
		if !f.led.HasHour(hk.String()) {
			t.Fatalf("台账缺少小时键：%s", hk)
		}
		ok := domain.OriginalKey{Location: "Loc", CameraID: "cam1", Folder: folder}
		if _, has := f.led.Timestamps[ok.String()]; !has {
			t.Fatalf("台账缺少原始文件夹时间戳：%s", ok)
		}
	}
	if !f.led.HasDay("Loc_20250101") {
		t.Fatalf("台账缺少天键")
	}
	if !fileExists(f.eff.LedgerPath) {
		t.Fatalf("台账应已持久化")
	}
	// 3 次小时合并 + 1 次天合并。
	if f.tc.calls != 4 {
		t.Fatalf("期望调用转码器 4 次，实际 %d", f.tc.calls)
	}
}

func TestProcessCamera_SecondRunIsNoop(t *testing.T) {
	f := newFixture(t)
	f.addHour(t, "2025010100", 2)
	f.addHour(t, "2025010101", 2)

	if !f.runner.ProcessCamera(f.cam) {
		t.Fatalf("第一轮应成功")
	}
	calls := f.tc.calls

	// 第二轮：天键 + 有效天视频短路，零转码调用。
	// 小时产物此时已被删除，短路必须不依赖它们。
	if !f.runner.ProcessCamera(f.cam) {
		t.Fatalf("第二轮应成功")
	}
	if f.tc.calls != calls {
		t.Fatalf("第二轮不应调用转码器：%d → %d", calls, f.tc.calls)
	}
}

func TestProcessCamera_SaveHourlyKeepsOutputs(t *testing.T) {
	f := newFixture(t)
	f.eff.SaveHourly = true
	f.runner.Eff = f.eff
	f.addHour(t, "2025010100", 1)
	f.addHour(t, "2025010101", 1)

	if !f.runner.ProcessCamera(f.cam) {
		t.Fatalf("处理应成功")
	}
	for _, folder := range []string{"2025010100", "2025010101"} {
		hk := domain.HourKey{Location: "Loc", CameraID: "cam1", Folder: folder}
		if !fileExists(layout.HourOutput(f.eff.VideoRoot, f.eff.MergedDir, hk)) {
			t.Fatalf("save_hourly=true 时小时产物应保留：%s", folder)
		}
	}
}

func TestProcessCamera_CurrentDayExcluded(t *testing.T) {
	f := newFixture(t)
	f.addHour(t, "2025010205", 2) // 当天，不能动

	if !f.runner.ProcessCamera(f.cam) {
		t.Fatalf("没有历史视频也应返回成功")
	}
	if f.tc.calls != 0 {
		t.Fatalf("当天视频不应被合并，实际调用 %d 次", f.tc.calls)
	}
}

func TestProcessCamera_InvalidRecordReprocessed(t *testing.T) {
	f := newFixture(t)
	f.addHour(t, "2025010100", 2)

	// 预置一条产物已丢失的小时记录。
	hk := domain.HourKey{Location: "Loc", CameraID: "cam1", Folder: "2025010100"}
	f.led.MarkHour(hk.String(), 1)

	if !f.runner.ProcessCamera(f.cam) {
		t.Fatalf("处理应成功")
	}
	// 小时重新合并 + 天合并（单小时走直接复制，不占转码调用）。
	if f.tc.calls != 1 {
		t.Fatalf("期望重新合并 1 次，实际 %d", f.tc.calls)
	}
	if !f.led.HasDay("Loc_20250101") {
		t.Fatalf("天键应已记录")
	}
}

func TestProcessCamera_StaleTempRemoved(t *testing.T) {
	f := newFixture(t)
	f.addHour(t, "2025010100", 2)
	f.addHour(t, "2025010101", 2)

	dayOut := layout.DayOutput(f.eff.VideoRoot, f.eff.MergedDir, domain.DayKey{Location: "Loc", Day: "20250101"})
	temp := dayOut + ".temp.mp4"
	if err := os.MkdirAll(filepath.Dir(temp), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(temp, []byte("残留"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !f.runner.ProcessCamera(f.cam) {
		t.Fatalf("处理应成功")
	}
	if fileExists(temp) {
		t.Fatalf("历史残留的临时文件应被删除")
	}
}
