package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eyasliu/wintray/tray"
)

func main() {
	config := flag.String("config", "", "YAML 托盘配置文件，修改后自动重新加载")
	flag.Parse()

	var appTray *tray.Tray
	if *config != "" {
		t, err := tray.Load(*config)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		appTray = t
	} else {
		appTray = demoTray()
	}
	appTray.Actions = map[string]func(*tray.TrayItem){
		"hello": func(ti *tray.TrayItem) { fmt.Println("hello from", ti.Title) },
		"quit":  func(*tray.TrayItem) { tray.Quit() },
	}

	if *config != "" {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := appTray.Watch(ctx, *config); err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
		}()
	}

	if err := tray.Run(appTray); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func demoTray() *tray.Tray {
	var appTray *tray.Tray
	checkedMenu := &tray.TrayItem{
		Title:    "有勾选状态菜单项",
		Checkbox: true,
		Checked:  true,
	}
	checkedMenu.OnClick = func(ti *tray.TrayItem) {
		ti.Title = "未勾选"
		if ti.Checked {
			ti.Title = "已勾选"
		}
		_ = ti.Update()
	}
	appTray = &tray.Tray{
		IconPath:  filepath.Join(os.Getenv("SystemRoot"), "System32", "shell32.dll"),
		IconIndex: 13,
		Tooltip:   "提示文字，左键单击打印一行日志",
		OnClick:   func() { fmt.Println("托盘图标被点击") },
		Items: []*tray.TrayItem{
			checkedMenu,
			{
				Title: "修改托盘图标和文字",
				OnClick: func(*tray.TrayItem) {
					_ = appTray.SetIconPath(filepath.Join(os.Getenv("SystemRoot"), "System32", "imageres.dll"))
					_ = appTray.SetTooltip("这是设置过后的托盘提示文字")
				},
			},
			{Separator: true},
			{
				Title: "大小",
				Items: []*tray.TrayItem{
					{Title: "小", Radio: true, Checked: true},
					{Title: "中", Radio: true},
					{Title: "大", Radio: true},
				},
			},
			{Title: "打个招呼", Action: "hello"},
			{Title: "禁用的菜单", Disable: true},
			{Separator: true},
			{Title: "退出程序", Action: "quit"},
		},
	}
	return appTray
}
