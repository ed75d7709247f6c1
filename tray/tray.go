// Package tray 提供声明式的托盘图标与菜单，可以直接写结构体字面量，也可以从 YAML 文件加载。
package tray

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getlantern/golog"

	"github.com/eyasliu/wintray"
)

var log = golog.LoggerFor("wintray.tray")

// 当前正在运行的托盘，供 Quit 使用
var current atomic.Pointer[Tray]

// TrayItem 托盘菜单项
type TrayItem struct {
	// 菜单标题，显示在菜单列表
	Title string `yaml:"title"`
	// 是否是分隔线，分隔线忽略其他字段
	Separator bool `yaml:"separator"`
	// 是否有复选框
	Checkbox bool `yaml:"checkbox"`
	// 是否是单选项，同一级菜单里的单选项互斥
	Radio bool `yaml:"radio"`
	// 复选框是否已选中
	Checked bool `yaml:"checked"`
	// 是否被禁用，禁用后不可点击
	Disable bool `yaml:"disable"`
	// 点击后执行的动作名，在 Tray.Actions 中查找，OnClick 不为空时忽略
	Action string `yaml:"action"`
	// 点击菜单触发的回调函数
	OnClick func(*TrayItem) `yaml:"-"`
	// 子菜单项
	Items []*TrayItem `yaml:"items"`

	tray  *Tray
	item  *wintray.MenuItem
	level []*TrayItem
}

// Tray 系统托盘配置
type Tray struct {
	// 托盘图标路径，ico、exe、dll 文件都可以
	IconPath string `yaml:"icon"`
	// 图标在文件中的序号
	IconIndex int `yaml:"icon_index"`
	// 托盘图标内容，ico 文件的字节，IconPath 为空时使用
	IconBytes []byte `yaml:"-"`
	// 托盘提示文字，鼠标移到托盘图标时显示
	Tooltip string `yaml:"tooltip"`
	// 右键托盘图标显示的菜单项
	Items []*TrayItem `yaml:"items"`
	// 左键单击托盘图标时触发的回调函数
	OnClick func() `yaml:"-"`
	// 菜单项 Action 对应的处理函数
	Actions map[string]func(*TrayItem) `yaml:"-"`
	// 底层托盘的选项，为空时使用默认值
	Options *wintray.Options `yaml:"-"`

	mu      sync.Mutex
	started bool
	ready   chan struct{}
	app     *wintray.Tray
	icon    *wintray.TrayIcon
	menu    *wintray.Menu
}

// Run 开始运行托盘，该方法是阻塞的，直到调用 Quit。每个 Tray 只能运行一次。
func Run(t *Tray) error {
	if err := t.setup(); err != nil {
		return err
	}
	current.Store(t)
	defer current.CompareAndSwap(t, nil)

	err := t.app.Start()
	if derr := t.icon.Destroy(); derr != nil && !errors.Is(derr, wintray.ErrDestroyed) {
		_ = log.Errorf("destroy tray icon: %v", derr)
	}
	return err
}

func (t *Tray) setup() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("%w: tray already started", wintray.ErrStateConflict)
	}
	t.started = true
	if t.ready == nil {
		t.ready = make(chan struct{})
	}

	app, err := wintray.New(t.Options)
	if err != nil {
		return err
	}
	h, err := loadIcon(app, t.IconPath, t.IconBytes, t.IconIndex)
	if err != nil {
		return err
	}
	defer h.Close()

	icon, err := app.NewIcon(h, &wintray.IconOptions{Tip: t.Tooltip})
	if err != nil {
		return err
	}
	t.app = app
	t.icon = icon
	menu, err := t.buildMenu(t.Items)
	if err != nil {
		_ = icon.Destroy()
		return err
	}
	t.menu = menu

	if err := icon.OnEvent(wintray.EventLeftUp, func(*wintray.TrayIcon) {
		if t.OnClick != nil {
			t.OnClick()
		}
	}); err != nil {
		return err
	}
	if err := icon.OnEvent(wintray.EventRightUp, func(*wintray.TrayIcon) {
		go t.popup()
	}); err != nil {
		return err
	}
	close(t.ready)
	return nil
}

// popup 在单独的 goroutine 中弹出菜单，不阻塞消息循环
func (t *Tray) popup() {
	t.mu.Lock()
	menu := t.menu
	t.mu.Unlock()
	if err := menu.Popup(nil); err != nil && !errors.Is(err, wintray.ErrBusy) {
		_ = log.Errorf("popup tray menu: %v", err)
	}
}

// WaitForReady 等待托盘开始运行，timeout 为负数时一直等待
func (t *Tray) WaitForReady(timeout time.Duration) bool {
	t.mu.Lock()
	if t.ready == nil {
		t.ready = make(chan struct{})
	}
	ready := t.ready
	t.mu.Unlock()

	start := time.Now()
	if timeout < 0 {
		<-ready
		return t.app.WaitForReady(-1)
	}
	select {
	case <-ready:
	case <-time.After(timeout):
		return false
	}
	left := timeout - time.Since(start)
	if left < 0 {
		left = 0
	}
	return t.app.WaitForReady(left)
}

// buildMenu 按 items 创建菜单，子菜单递归创建。必须持有 t.mu。
func (t *Tray) buildMenu(items []*TrayItem) (*wintray.Menu, error) {
	menu, err := t.app.NewMenu()
	if err != nil {
		return nil, err
	}
	for i, ti := range items {
		if ti == nil {
			return nil, fmt.Errorf("%w: item %d is nil", wintray.ErrArgumentValue, i)
		}
		ti.tray = t
		ti.level = items
		it, err := t.newItem(ti)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", ti.Title, err)
		}
		ti.item = it
		if err := menu.AppendItem(it); err != nil {
			return nil, fmt.Errorf("item %q: %w", ti.Title, err)
		}
	}
	return menu, nil
}

func (t *Tray) newItem(ti *TrayItem) (*wintray.MenuItem, error) {
	app := t.app
	var it *wintray.MenuItem
	switch {
	case ti.Separator:
		return app.SeparatorItem(), nil
	case len(ti.Items) > 0:
		sub, err := t.buildMenu(ti.Items)
		if err != nil {
			return nil, err
		}
		if it, err = app.SubmenuItem(ti.Title).Attach(sub); err != nil {
			return nil, err
		}
	case ti.Checkbox || ti.Radio:
		it = app.CheckItem(ti.Title, ti.Checked, ti.Radio, ti.clicked)
	default:
		it = app.StringItem(ti.Title, ti.clicked)
	}
	if ti.Disable {
		if err := it.SetEnabled(false); err != nil {
			return nil, err
		}
	}
	return it, nil
}

// clicked 同步选中状态后执行回调
func (ti *TrayItem) clicked(it *wintray.MenuItem) {
	if ti.Checkbox || ti.Radio {
		ti.Checked = it.Checked()
	}
	if ti.Radio {
		for _, sib := range ti.level {
			if sib != ti && sib.Radio && sib.item != nil {
				sib.Checked = sib.item.Checked()
			}
		}
	}
	switch {
	case ti.OnClick != nil:
		ti.OnClick(ti)
	case ti.Action != "":
		fn, ok := ti.tray.Actions[ti.Action]
		if !ok {
			_ = log.Errorf("menu item %q: unknown action %q", ti.Title, ti.Action)
			return
		}
		fn(ti)
	}
}

// Update 更新托盘菜单状态，调用前自行修改 TrayItem 实例的属性值。托盘未运行时什么都不做。
func (ti *TrayItem) Update() error {
	it := ti.item
	if it == nil || ti.Separator {
		return nil
	}
	if err := it.SetLabel(ti.Title); err != nil {
		return err
	}
	if err := it.SetEnabled(!ti.Disable); err != nil {
		return err
	}
	if it.Kind() == wintray.ItemCheck {
		if err := it.SetRadio(ti.Radio); err != nil {
			return err
		}
		return it.SetChecked(ti.Checked)
	}
	return nil
}

// loadIcon 优先使用路径，路径为空时使用图标内容
func loadIcon(app *wintray.Tray, path string, data []byte, index int) (*wintray.IconHandle, error) {
	switch {
	case path != "":
		return app.LoadIcon(path, index, false)
	case len(data) > 0:
		return app.LoadIconBytes(data, index, false)
	}
	return nil, fmt.Errorf("%w: neither icon path nor icon bytes set", wintray.ErrArgumentValue)
}

// SetIconPath 设置图标路径
func (t *Tray) SetIconPath(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setIcon(path, nil, t.IconIndex)
}

// SetIconBytes 设置图标内容，请注意要使用 ico 格式的图片。会清空 IconPath。
func (t *Tray) SetIconBytes(img []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setIcon("", img, t.IconIndex)
}

func (t *Tray) setIcon(path string, data []byte, index int) error {
	if t.icon != nil {
		h, err := loadIcon(t.app, path, data, index)
		if err != nil {
			return err
		}
		defer h.Close()
		if err := t.icon.UpdateIcon(h); err != nil {
			return err
		}
	}
	t.IconPath, t.IconBytes, t.IconIndex = path, data, index
	return nil
}

// SetTooltip 更新托盘提示文字
func (t *Tray) SetTooltip(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setTooltip(text)
}

func (t *Tray) setTooltip(text string) error {
	if t.icon != nil {
		if err := t.icon.SetTip(text); err != nil {
			return err
		}
	}
	t.Tooltip = text
	return nil
}

// Quit 退出托盘，Run 随之返回
func (t *Tray) Quit() {
	t.mu.Lock()
	app := t.app
	t.mu.Unlock()
	if app != nil {
		app.Stop()
	}
}

// Quit 退出当前正在运行的托盘
func Quit() {
	if t := current.Load(); t != nil {
		t.Quit()
	}
}
