package wintray

import (
	"errors"
	"math"
	"runtime"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyasliu/wintray/internal/native"
	"github.com/eyasliu/wintray/internal/native/nativetest"
	"github.com/eyasliu/wintray/internal/registry"
)

func TestNewIconValidation(t *testing.T) {
	tr, b := newTestTray(t)

	_, err := tr.NewIcon(nil, nil)
	assert.ErrorIs(t, err, ErrArgumentValue)

	raw := b.NewIcon()
	h, err := tr.NewIconHandle(uint64(raw), true)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	_, err = tr.NewIcon(h, nil)
	assert.ErrorIs(t, err, ErrArgumentValue)

	assert.Zero(t, tr.icons.Len(), "failed construction leaves no registry slot")
}

func TestNewIconRollsBackWhenShellFails(t *testing.T) {
	tr, b := newTestTray(t)
	startTray(t, tr)

	raw := b.NewIcon()
	h, err := tr.NewIconHandle(uint64(raw), true)
	require.NoError(t, err)
	b.FailNotify(errors.New("shell unavailable"))
	_, err = tr.NewIcon(h, nil)
	b.FailNotify(nil)
	assert.ErrorIs(t, err, ErrResource)
	assert.Zero(t, tr.icons.Len())

	assert.True(t, b.IconValid(raw), "the caller still holds the handle")
	require.NoError(t, h.Close())
	assert.Equal(t, 1, b.IconDestroyCount(raw))
}

func TestIconIDsAreUnique(t *testing.T) {
	tr, b := newTestTray(t)
	a := newTestIcon(t, tr, b, nil)
	c := newTestIcon(t, tr, b, nil)
	assert.Equal(t, uint64(1), a.ID())
	assert.Equal(t, uint64(2), c.ID())
}

func TestIconIDsStopAt32Bits(t *testing.T) {
	tr, b := newTestTray(t)
	tr.icons = registry.NewFrom[TrayIcon](math.MaxUint32)
	startTray(t, tr)

	last := newTestIcon(t, tr, b, nil)
	assert.Equal(t, uint64(math.MaxUint32), last.ID())
	assert.Equal(t, 1, b.NotifiedCount())

	raw := b.NewIcon()
	h, err := tr.NewIconHandle(uint64(raw), true)
	require.NoError(t, err)
	_, err = tr.NewIcon(h, nil)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, 1, tr.icons.Len())
	assert.Equal(t, 1, b.NotifiedCount(), "no icon with a truncated id reaches the shell")

	require.NoError(t, h.Close())
	assert.Equal(t, 1, b.IconDestroyCount(raw))
	runtime.KeepAlive(last)
}

func TestShowHideWithoutLoop(t *testing.T) {
	tr, b := newTestTray(t)
	icon := newTestIcon(t, tr, b, &IconOptions{Hidden: true})
	assert.True(t, icon.Hidden())

	require.NoError(t, icon.Show())
	assert.False(t, icon.Hidden())
	require.NoError(t, icon.Hide())
	assert.True(t, icon.Hidden())
	require.NoError(t, icon.SetTip("tip"))
	assert.Equal(t, "tip", icon.Tip())
	assert.Zero(t, b.NotifyCalls(native.NIMAdd))
}

func TestShowHideWhileRunning(t *testing.T) {
	tr, b := newTestTray(t)
	startTray(t, tr)
	icon := newTestIcon(t, tr, b, &IconOptions{Tip: "first"})
	id := uint32(icon.ID())

	data, ok := b.Notified(id)
	require.True(t, ok)
	assert.Equal(t, "first", data.Tip)

	require.NoError(t, icon.Hide())
	_, ok = b.Notified(id)
	assert.False(t, ok)
	require.NoError(t, icon.Hide())

	require.NoError(t, icon.Show())
	require.NoError(t, icon.Show())
	assert.Equal(t, 2, b.NotifyCalls(native.NIMAdd))

	require.NoError(t, icon.SetTip("second"))
	data, _ = b.Notified(id)
	assert.Equal(t, "second", data.Tip)

	raw := b.NewIcon()
	h, err := tr.IconHandleFromInt(uint64(raw))
	require.NoError(t, err)
	require.NoError(t, icon.UpdateIcon(h))
	data, _ = b.Notified(id)
	assert.Equal(t, raw, data.Icon)
	assert.True(t, icon.Icon().Equal(h))
}

func TestUpdateIconRestoresOnFailure(t *testing.T) {
	tr, b := newTestTray(t)
	startTray(t, tr)
	icon := newTestIcon(t, tr, b, nil)
	before := icon.Icon()

	raw := b.NewIcon()
	h, err := tr.NewIconHandle(uint64(raw), true)
	require.NoError(t, err)
	b.FailNotify(errors.New("shell unavailable"))
	err = icon.UpdateIcon(h)
	b.FailNotify(nil)
	assert.ErrorIs(t, err, ErrResource)
	assert.Same(t, before, icon.Icon())

	require.NoError(t, h.Close())
	assert.False(t, b.IconValid(raw), "the rejected handle is not kept")
	assert.True(t, b.IconValid(before.st.value))
}

func TestSetTipFailureKeepsOldTip(t *testing.T) {
	tr, b := newTestTray(t)
	startTray(t, tr)
	icon := newTestIcon(t, tr, b, &IconOptions{Tip: "old"})

	b.FailNotify(errors.New("shell unavailable"))
	assert.ErrorIs(t, icon.SetTip("new"), ErrResource)
	b.FailNotify(nil)
	assert.Equal(t, "old", icon.Tip())
}

func TestDefaultTip(t *testing.T) {
	b := nativetest.New()
	tr, err := New(&Options{Backend: b, DefaultTip: "fallback"})
	require.NoError(t, err)
	icon := newTestIcon(t, tr, b, nil)
	assert.Equal(t, "fallback", icon.Tip())
	other := newTestIcon(t, tr, b, &IconOptions{Tip: "own"})
	assert.Equal(t, "own", other.Tip())
}

func TestDestroy(t *testing.T) {
	tr, b := newTestTray(t)
	startTray(t, tr)
	icon := newTestIcon(t, tr, b, nil)
	require.NoError(t, icon.OnEvent(EventMove, func(*TrayIcon) {}))

	require.NoError(t, icon.Destroy())
	assert.ErrorIs(t, icon.Destroy(), ErrDestroyed)
	assert.ErrorIs(t, icon.Show(), ErrDestroyed)
	assert.ErrorIs(t, icon.SetTip("x"), ErrDestroyed)
	assert.ErrorIs(t, icon.OnEvent(EventMove, nil), ErrDestroyed)
	assert.Zero(t, tr.icons.Len())
	assert.Zero(t, b.NotifiedCount())
}

func TestUnreachableIconIsCollected(t *testing.T) {
	tr, b := newTestTray(t)
	raw := b.NewIcon()
	func() {
		h, err := tr.NewIconHandle(uint64(raw), true)
		require.NoError(t, err)
		_, err = tr.NewIcon(h, nil)
		require.NoError(t, err)
		require.NoError(t, h.Close())
	}()

	assert.Eventually(t, func() bool {
		runtime.GC()
		return tr.icons.Len() == 0 && !b.IconValid(raw)
	}, waitTimeout, 10*time.Millisecond)
}

func TestOnEventRejectsUnknownKind(t *testing.T) {
	tr, b := newTestTray(t)
	icon := newTestIcon(t, tr, b, nil)
	assert.ErrorIs(t, icon.OnEvent(EventKind(42), nil), ErrArgumentValue)
	assert.ErrorIs(t, icon.OnEvent(EventKind(-1), nil), ErrArgumentValue)
}

func TestParseEventKind(t *testing.T) {
	for k := EventKind(0); k < eventKinds; k++ {
		got, err := ParseEventKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseEventKind("mouse_wheel")
	assert.ErrorIs(t, err, ErrArgumentValue)
	assert.Equal(t, "EventKind(99)", EventKind(99).String())
}

func TestNormalizeTip(t *testing.T) {
	assert.Equal(t, "\u00e9", normalizeTip("e\u0301"))
	assert.Equal(t, "abc", normalizeTip("abc\x00def"))

	long := normalizeTip(strings.Repeat("a", 300))
	assert.Len(t, long, native.TipLen-1)

	emoji := normalizeTip(strings.Repeat("😀", 100))
	units := utf16.Encode([]rune(emoji))
	assert.Len(t, units, native.TipLen-2, "a surrogate pair is never split")
	assert.True(t, strings.HasSuffix(emoji, "😀"))
}
