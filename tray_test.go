package wintray

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eyasliu/wintray/internal/native"
	"github.com/eyasliu/wintray/internal/native/nativetest"
)

const waitTimeout = 5 * time.Second

func newTestTray(t *testing.T) (*Tray, *nativetest.Backend) {
	t.Helper()
	b := nativetest.New()
	tr, err := New(&Options{Backend: b, Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	return tr, b
}

// startTray runs the loop in the background and stops it when the test ends.
func startTray(t *testing.T, tr *Tray) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- tr.Start() }()
	require.True(t, tr.WaitForReady(waitTimeout), "loop not ready")
	t.Cleanup(func() {
		tr.Stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Error("loop did not stop")
		}
	})
}

func newTestIcon(t *testing.T, tr *Tray, b *nativetest.Backend, opt *IconOptions) *TrayIcon {
	t.Helper()
	h, err := tr.NewIconHandle(uint64(b.NewIcon()), true)
	require.NoError(t, err)
	icon, err := tr.NewIcon(h, opt)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	return icon
}

func TestNewDefaults(t *testing.T) {
	b := nativetest.New()
	tr, err := New(&Options{Backend: b})
	require.NoError(t, err)
	assert.NotNil(t, tr.log)
	assert.NotNil(t, tr.metrics)
	assert.False(t, tr.Running())
	assert.Zero(t, tr.MessageWindow())
}

func TestSharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := New(&Options{Backend: nativetest.New(), Registerer: reg})
	require.NoError(t, err)
	b, err := New(&Options{Backend: nativetest.New(), Registerer: reg})
	require.NoError(t, err)
	assert.Same(t, a.metrics.unhandled, b.metrics.unhandled)
}

func TestNewRequiresInteractiveSession(t *testing.T) {
	t.Setenv("SSH_CONNECTION", "10.0.0.2 50022 10.0.0.1 22")
	assert.True(t, IsHeadless())
	assert.False(t, IsSupported())

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.ErrorIs(t, err, native.ErrUnsupported)

	// An explicit backend does not need a desktop.
	tr, err := New(&Options{Backend: nativetest.New()})
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestIsHeadless(t *testing.T) {
	for _, key := range []string{"SSH_CONNECTION", "SSH_CLIENT", "SSH_TTY"} {
		t.Setenv(key, "")
	}
	assert.False(t, IsHeadless())
	t.Setenv("SSH_TTY", "/dev/pts/0")
	assert.True(t, IsHeadless())
}
