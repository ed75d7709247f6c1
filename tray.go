package wintray

import (
	"sync"

	"github.com/getlantern/golog"

	"github.com/eyasliu/wintray/internal/native"
	"github.com/eyasliu/wintray/internal/registry"
)

// Tray owns the icon and menu item registries and the message loop that
// delivers icon notifications. Use one Tray per process unless tests need
// isolated instances.
type Tray struct {
	opt     Options
	backend native.Backend
	log     Logger
	metrics *metrics

	icons  *registry.Registry[TrayIcon]
	items  *registry.Registry[MenuItem]
	popups *registry.Registry[popupSession]

	// structureMu serializes submenu attachment so that the cycle check
	// sees a stable menu graph.
	structureMu sync.Mutex

	loop dispatcher
}

// New creates a Tray. A nil opt is the same as a zero Options. Without
// Options.Backend it fails with ErrUnsupported unless IsSupported.
func New(opt *Options) (*Tray, error) {
	if opt == nil {
		opt = &Options{}
	}
	t := &Tray{
		opt:     *opt,
		backend: opt.Backend,
		log:     opt.Logger,
		icons:   registry.New[TrayIcon](),
		items:   registry.New[MenuItem](),
		popups:  registry.New[popupSession](),
	}
	if t.backend == nil {
		if !IsSupported() {
			return nil, ErrUnsupported
		}
		b, err := native.Default()
		if err != nil {
			return nil, err
		}
		t.backend = b
	}
	if t.log == nil {
		t.log = golog.LoggerFor("wintray")
	}
	t.metrics = newMetrics(opt.Registerer)
	t.loop.init()
	return t, nil
}

var (
	defaultTray     *Tray
	defaultTrayErr  error
	defaultTrayOnce sync.Once
)

// Default returns the process-wide Tray, creating it with zero Options on
// first use.
func Default() (*Tray, error) {
	defaultTrayOnce.Do(func() {
		defaultTray, defaultTrayErr = New(nil)
	})
	return defaultTray, defaultTrayErr
}

// invoke runs a user callback, recovering and logging a panic so that it
// cannot take down the loop it runs on.
func (t *Tray) invoke(source string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.metrics.callbackPanics.WithLabelValues(source).Inc()
			_ = t.log.Errorf("%s callback panicked: %v", source, r)
		}
	}()
	fn()
}
