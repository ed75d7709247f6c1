package tray

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyasliu/wintray"
	"github.com/eyasliu/wintray/internal/native"
	"github.com/eyasliu/wintray/internal/native/nativetest"
)

const waitTimeout = 5 * time.Second

func testOptions(b *nativetest.Backend) *wintray.Options {
	return &wintray.Options{Backend: b, Registerer: prometheus.NewRegistry()}
}

func newTestTray(t *testing.T, items ...*TrayItem) (*Tray, *nativetest.Backend) {
	t.Helper()
	b := nativetest.New()
	b.AddIconFile("app.ico", 1)
	return &Tray{IconPath: "app.ico", Tooltip: "tip", Items: items, Options: testOptions(b)}, b
}

func runTray(t *testing.T, tr *Tray) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- Run(tr) }()
	require.True(t, tr.WaitForReady(waitTimeout), "tray not ready")
	t.Cleanup(func() {
		tr.Quit()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Error("Run did not return")
		}
	})
}

func click(t *testing.T, tr *Tray, b *nativetest.Backend, msg uint32) {
	t.Helper()
	hwnd := native.Handle(tr.app.MessageWindow())
	require.NoError(t, b.PostMessage(hwnd, wintray.TrayMessage, uintptr(tr.icon.ID()), uintptr(msg)))
}

// choose opens the menu with a right click and selects ti. The click is
// repeated while a previous popup is still returning.
func choose(t *testing.T, tr *Tray, b *nativetest.Backend, ti *TrayItem) {
	t.Helper()
	require.Eventually(t, func() bool {
		click(t, tr, b, native.WMRButtonUp)
		return b.WaitTracking(100 * time.Millisecond)
	}, waitTimeout, 10*time.Millisecond)
	require.NoError(t, b.Select(uint32(ti.item.ID())))
}

func currentMenu(tr *Tray) *wintray.Menu {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.menu
}

func TestRunShowsIconAndMenu(t *testing.T) {
	clicked := make(chan *TrayItem, 1)
	open := &TrayItem{Title: "打开", OnClick: func(ti *TrayItem) { clicked <- ti }}
	deep := &TrayItem{Title: "深层", Action: "deep"}
	tr, b := newTestTray(t,
		open,
		&TrayItem{Separator: true},
		&TrayItem{Title: "更多", Items: []*TrayItem{deep}},
	)
	left := make(chan struct{}, 1)
	tr.OnClick = func() { left <- struct{}{} }
	tr.Actions = map[string]func(*TrayItem){"deep": func(ti *TrayItem) { clicked <- ti }}
	runTray(t, tr)

	data, ok := b.Notified(uint32(tr.icon.ID()))
	require.True(t, ok)
	assert.Equal(t, "tip", data.Tip)
	assert.Equal(t, 3, currentMenu(tr).Len())

	click(t, tr, b, native.WMLButtonUp)
	select {
	case <-left:
	case <-time.After(waitTimeout):
		t.Fatal("OnClick not called")
	}

	for _, want := range []*TrayItem{open, deep} {
		choose(t, tr, b, want)
		select {
		case got := <-clicked:
			assert.Same(t, want, got)
		case <-time.After(waitTimeout):
			t.Fatalf("%s not clicked", want.Title)
		}
	}
}

func TestUnknownActionIsIgnored(t *testing.T) {
	item := &TrayItem{Title: "x", Action: "missing"}
	tr, b := newTestTray(t, item)
	runTray(t, tr)
	choose(t, tr, b, item)
	assert.Eventually(t, func() bool { return !currentMenu(tr).PoppedUp() }, waitTimeout, 5*time.Millisecond)
}

func TestCheckedStateFollowsSelection(t *testing.T) {
	clicked := make(chan *TrayItem, 1)
	onClick := func(ti *TrayItem) { clicked <- ti }
	check := &TrayItem{Title: "自动启动", Checkbox: true, OnClick: onClick}
	r1 := &TrayItem{Title: "小", Radio: true, Checked: true, OnClick: onClick}
	r2 := &TrayItem{Title: "大", Radio: true, OnClick: onClick}
	tr, b := newTestTray(t, check, r1, r2)
	runTray(t, tr)

	choose(t, tr, b, check)
	got := <-clicked
	assert.True(t, got.Checked)

	choose(t, tr, b, r2)
	<-clicked
	assert.True(t, r2.Checked)
	assert.False(t, r1.Checked)
}

func TestItemUpdate(t *testing.T) {
	item := &TrayItem{Title: "旧标题", Checkbox: true}
	assert.NoError(t, item.Update(), "update before run is a no-op")

	tr, _ := newTestTray(t, item, &TrayItem{Separator: true})
	runTray(t, tr)

	item.Title = "新标题"
	item.Disable = true
	item.Checked = true
	require.NoError(t, item.Update())
	assert.Equal(t, "新标题", item.item.Label())
	assert.False(t, item.item.Enabled())
	assert.True(t, item.item.Checked())
	assert.NoError(t, tr.Items[1].Update())
}

func TestDisabledItem(t *testing.T) {
	item := &TrayItem{Title: "禁用", Disable: true}
	tr, _ := newTestTray(t, item)
	runTray(t, tr)
	assert.False(t, item.item.Enabled())
}

func TestSetTooltipAndIcon(t *testing.T) {
	tr, b := newTestTray(t)
	runTray(t, tr)
	id := uint32(tr.icon.ID())

	require.NoError(t, tr.SetTooltip("新提示"))
	data, _ := b.Notified(id)
	assert.Equal(t, "新提示", data.Tip)
	assert.Equal(t, "新提示", tr.Tooltip)

	before := data.Icon
	b.AddIconFile("other.ico", 1)
	require.NoError(t, tr.SetIconPath("other.ico"))
	data, _ = b.Notified(id)
	assert.NotEqual(t, before, data.Icon)
	assert.Equal(t, "other.ico", tr.IconPath)

	assert.ErrorIs(t, tr.SetIconPath("missing.ico"), wintray.ErrResource)
	assert.Equal(t, "other.ico", tr.IconPath)
}

func TestQuit(t *testing.T) {
	tr, b := newTestTray(t)
	done := make(chan error, 1)
	go func() { done <- Run(tr) }()
	require.True(t, tr.WaitForReady(waitTimeout))
	assert.Same(t, tr, current.Load())

	Quit()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after Quit")
	}
	assert.Nil(t, current.Load())
	assert.Zero(t, b.NotifiedCount(), "the icon is removed")

	assert.ErrorIs(t, Run(tr), wintray.ErrStateConflict)
	Quit()
}

func TestRunErrors(t *testing.T) {
	b := nativetest.New()
	err := Run(&Tray{Options: testOptions(b)})
	assert.ErrorIs(t, err, wintray.ErrArgumentValue)

	err = Run(&Tray{IconPath: "missing.ico", Options: testOptions(b)})
	assert.ErrorIs(t, err, wintray.ErrResource)

	b.AddIconFile("app.ico", 1)
	err = Run(&Tray{IconPath: "app.ico", Items: []*TrayItem{nil}, Options: testOptions(b)})
	assert.ErrorIs(t, err, wintray.ErrArgumentValue)

	tr := &Tray{IconPath: "app.ico", Options: testOptions(b)}
	assert.False(t, tr.WaitForReady(10*time.Millisecond))
}

const trayFile = `
icon: app.ico
tooltip: 演示
items:
  - title: 打开
    action: open
  - separator: true
  - title: 更多
    items:
      - title: 自动启动
        checkbox: true
        checked: true
      - title: 禁用项
        disable: true
`

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tray.yaml")
	writeFile(t, path, trayFile)

	tr, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app.ico"), tr.IconPath)
	assert.Equal(t, "演示", tr.Tooltip)
	require.Len(t, tr.Items, 3)
	assert.Equal(t, "open", tr.Items[0].Action)
	assert.True(t, tr.Items[1].Separator)
	sub := tr.Items[2].Items
	require.Len(t, sub, 2)
	assert.True(t, sub[0].Checkbox)
	assert.True(t, sub[0].Checked)
	assert.True(t, sub[1].Disable)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	writeFile(t, path, "items: [")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tray.yaml")
	for _, body := range []string{
		"items:\n  - separator: true\n    title: x\n",
		"items:\n  - title: sub\n    checkbox: true\n    items:\n      - title: a\n",
		"items:\n  - title: sub\n    items:\n      - separator: true\n        items:\n          - title: a\n",
		"items:\n  - \n",
	} {
		writeFile(t, path, body)
		_, err := Load(path)
		assert.ErrorIs(t, err, wintray.ErrArgumentValue, body)
	}
}

func TestApplyBeforeRun(t *testing.T) {
	tr := &Tray{IconPath: "a.ico", Tooltip: "a"}
	next := &Tray{IconPath: "b.ico", Tooltip: "b", Items: []*TrayItem{{Title: "x"}}}
	require.NoError(t, tr.apply(next))
	assert.Equal(t, "b.ico", tr.IconPath)
	assert.Equal(t, "b", tr.Tooltip)
	assert.Len(t, tr.Items, 1)
}

func TestWatchReloadsMenu(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tray.yaml")
	writeFile(t, path, trayFile)

	tr, err := Load(path)
	require.NoError(t, err)
	b := nativetest.New()
	b.AddIconFile(filepath.Join(dir, "app.ico"), 1)
	tr.Options = testOptions(b)
	runTray(t, tr)
	require.Equal(t, 3, currentMenu(tr).Len())

	ctx, cancel := context.WithCancel(context.Background())
	watched := make(chan error, 1)
	go func() { watched <- tr.Watch(ctx, path) }()

	// An invalid file keeps the running configuration.
	writeFile(t, path, "items: [")
	time.Sleep(3 * reloadDelay)
	assert.Equal(t, 3, currentMenu(tr).Len())

	updated := "icon: app.ico\ntooltip: 已更新\nitems:\n  - title: 唯一\n"
	assert.Eventually(t, func() bool {
		writeFile(t, path, updated)
		time.Sleep(2 * reloadDelay)
		return currentMenu(tr).Len() == 1
	}, waitTimeout, 10*time.Millisecond)

	data, ok := b.Notified(uint32(tr.icon.ID()))
	require.True(t, ok)
	assert.Equal(t, "已更新", data.Tip)
	assert.Equal(t, "唯一", tr.Items[0].Title)

	cancel()
	select {
	case err := <-watched:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Watch did not stop")
	}
}

// iconBytesPath is where LoadIconBytes stores data.
func iconBytesPath(t *testing.T, data []byte) string {
	t.Helper()
	sum := md5.Sum(data)
	path := filepath.Join(os.TempDir(), "wintray_icon_"+hex.EncodeToString(sum[:])+".ico")
	t.Cleanup(func() { _ = os.Remove(path) })
	return path
}

func TestIconBytes(t *testing.T) {
	first := []byte("first icon bytes")
	second := []byte("second icon bytes")
	b := nativetest.New()
	b.AddIconFile(iconBytesPath(t, first), 1)
	b.AddIconFile(iconBytesPath(t, second), 1)

	tr := &Tray{IconBytes: first, Tooltip: "tip", Options: testOptions(b)}
	runTray(t, tr)
	id := uint32(tr.icon.ID())
	data, ok := b.Notified(id)
	require.True(t, ok)
	before := data.Icon

	require.NoError(t, tr.SetIconBytes(second))
	data, _ = b.Notified(id)
	assert.NotEqual(t, before, data.Icon)
	assert.Equal(t, second, tr.IconBytes)
	assert.Empty(t, tr.IconPath)

	// A path set later takes precedence over the bytes.
	b.AddIconFile("app.ico", 1)
	require.NoError(t, tr.SetIconPath("app.ico"))
	assert.Equal(t, "app.ico", tr.IconPath)
	assert.Nil(t, tr.IconBytes)

	assert.ErrorIs(t, tr.SetIconBytes(nil), wintray.ErrArgumentValue)
	assert.Equal(t, "app.ico", tr.IconPath)
}

func TestSetIconBytesBeforeRun(t *testing.T) {
	tr := &Tray{IconPath: "app.ico"}
	require.NoError(t, tr.SetIconBytes([]byte("icon")))
	assert.Empty(t, tr.IconPath)
	assert.Equal(t, []byte("icon"), tr.IconBytes)
}

func TestRunWithoutDesktop(t *testing.T) {
	t.Setenv("SSH_CONNECTION", "10.0.0.2 50022 10.0.0.1 22")
	err := Run(&Tray{IconPath: "app.ico"})
	assert.ErrorIs(t, err, wintray.ErrUnsupported)
}
