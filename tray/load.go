package tray

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/eyasliu/wintray"
)

// 文件变化后等待这么久再重新加载，合并编辑器的连续写入
const reloadDelay = 100 * time.Millisecond

// Load 从 YAML 文件读取托盘配置。回调函数不能写在文件里，请通过 Action 和 Tray.Actions 关联。
//
//	icon: app.ico
//	tooltip: 我的程序
//	items:
//	  - title: 打开
//	    action: open
//	  - separator: true
//	  - title: 更多
//	    items:
//	      - title: 自动启动
//	        checkbox: true
func Load(path string) (*Tray, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tray file: %w", err)
	}
	var t Tray
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse tray file %s: %w", path, err)
	}
	if err := validate(t.Items); err != nil {
		return nil, fmt.Errorf("tray file %s: %w", path, err)
	}
	if t.IconPath != "" && !filepath.IsAbs(t.IconPath) {
		t.IconPath = filepath.Join(filepath.Dir(path), t.IconPath)
	}
	return &t, nil
}

func validate(items []*TrayItem) error {
	for i, ti := range items {
		switch {
		case ti == nil:
			return fmt.Errorf("%w: item %d is empty", wintray.ErrArgumentValue, i)
		case ti.Separator && (ti.Title != "" || len(ti.Items) > 0):
			return fmt.Errorf("%w: separator %d has a title or items", wintray.ErrArgumentValue, i)
		case len(ti.Items) > 0 && (ti.Checkbox || ti.Radio || ti.Action != ""):
			return fmt.Errorf("%w: submenu %q cannot be checked or have an action", wintray.ErrArgumentValue, ti.Title)
		}
		if err := validate(ti.Items); err != nil {
			return err
		}
	}
	return nil
}

// Watch 监听 path，文件变化后重新加载提示文字、图标和菜单，阻塞到 ctx 结束。
// 加载失败时保留原来的配置。
func (t *Tray) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	// 监听目录而不是文件，编辑器保存时常常是替换文件
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	timer := time.NewTimer(reloadDelay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(reloadDelay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			_ = log.Errorf("watch %s: %v", path, err)
		case <-timer.C:
			next, err := Load(path)
			if err != nil {
				_ = log.Errorf("reload %s: %v", path, err)
				continue
			}
			if err := t.apply(next); err != nil {
				_ = log.Errorf("apply %s: %v", path, err)
				continue
			}
			log.Debugf("reloaded %s", path)
		}
	}
}

// apply 用 next 的提示文字、图标和菜单替换当前配置
func (t *Tray) apply(next *Tray) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.app == nil {
		t.IconPath, t.IconIndex = next.IconPath, next.IconIndex
		t.Tooltip = next.Tooltip
		t.Items = next.Items
		return nil
	}

	menu, err := t.buildMenu(next.Items)
	if err != nil {
		return err
	}
	if next.IconPath != "" && (next.IconPath != t.IconPath || next.IconIndex != t.IconIndex) {
		if err := t.setIcon(next.IconPath, nil, next.IconIndex); err != nil {
			return err
		}
	}
	if next.Tooltip != t.Tooltip {
		if err := t.setTooltip(next.Tooltip); err != nil {
			return err
		}
	}
	old := t.menu
	t.menu = menu
	t.Items = next.Items
	if err := old.Close(); err != nil {
		_ = log.Errorf("close replaced menu: %v", err)
	}
	return nil
}
