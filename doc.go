// Package wintray puts icons in the Windows notification area and pops up
// context menus for them.
//
// A Tray owns everything: icons created with NewIcon, menu items created
// with StringItem, CheckItem, SeparatorItem and SubmenuItem, and menus
// created with NewMenu. Icons and menus may be used from any goroutine.
// Icon events are delivered by the message loop, which one goroutine runs
// with Start:
//
//	t, _ := wintray.Default()
//	icon, _ := t.LoadIcon(`C:\Windows\System32\shell32.dll`, 3, false)
//	ti, _ := t.NewIcon(icon, &wintray.IconOptions{Tip: "hello"})
//	ti.OnEvent(wintray.EventRightUp, func(*wintray.TrayIcon) {
//		go menu.Popup(nil)
//	})
//	go t.Start()
//
// Popup blocks the calling goroutine while the menu is shown. Callbacks of
// icons run on the loop goroutine, those of menu items on the goroutine
// that called Popup.
package wintray
