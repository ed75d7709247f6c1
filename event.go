package wintray

import (
	"fmt"

	"github.com/eyasliu/wintray/internal/native"
)

// EventKind is a mouse event reported for a tray icon.
type EventKind int

const (
	EventMove EventKind = iota
	EventLeftDown
	EventLeftUp
	EventLeftDoubleClick
	EventRightDown
	EventRightUp
	EventRightDoubleClick
	EventMidDown
	EventMidUp
	EventMidDoubleClick

	eventKinds
)

var eventNames = [eventKinds]string{
	EventMove:             "mouse_move",
	EventLeftDown:         "mouse_left_button_down",
	EventLeftUp:           "mouse_left_button_up",
	EventLeftDoubleClick:  "mouse_left_double_click",
	EventRightDown:        "mouse_right_button_down",
	EventRightUp:          "mouse_right_button_up",
	EventRightDoubleClick: "mouse_right_double_click",
	EventMidDown:          "mouse_mid_button_down",
	EventMidUp:            "mouse_mid_button_up",
	EventMidDoubleClick:   "mouse_mid_double_click",
}

var eventMessages = map[uint32]EventKind{
	native.WMMouseMove:     EventMove,
	native.WMLButtonDown:   EventLeftDown,
	native.WMLButtonUp:     EventLeftUp,
	native.WMLButtonDblClk: EventLeftDoubleClick,
	native.WMRButtonDown:   EventRightDown,
	native.WMRButtonUp:     EventRightUp,
	native.WMRButtonDblClk: EventRightDoubleClick,
	native.WMMButtonDown:   EventMidDown,
	native.WMMButtonUp:     EventMidUp,
	native.WMMButtonDblClk: EventMidDoubleClick,
}

func (k EventKind) valid() bool {
	return k >= 0 && k < eventKinds
}

func (k EventKind) String() string {
	if !k.valid() {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventNames[k]
}

// ParseEventKind returns the kind named s, e.g. "mouse_left_button_up".
func ParseEventKind(s string) (EventKind, error) {
	for k, name := range eventNames {
		if name == s {
			return EventKind(k), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown event %q", ErrArgumentValue, s)
}

// eventFromMessage maps the mouse message carried in a tray notification.
func eventFromMessage(msg uint32) (EventKind, bool) {
	k, ok := eventMessages[msg]
	return k, ok
}
