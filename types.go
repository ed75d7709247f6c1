package wintray

import (
	"github.com/getlantern/golog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eyasliu/wintray/internal/native"
)

// Logger 打印日志的接口，golog.Logger 满足该接口
type Logger interface {
	Debugf(message string, args ...interface{})
	Errorf(message string, args ...interface{}) error
}

var _ Logger = golog.LoggerFor("wintray")

// Options 托盘实例配置，零值可用
type Options struct {
	// 系统托盘的原生接口实现，为空时使用当前平台的实现
	Backend native.Backend
	// 打印日志的实例，为空时使用 golog
	Logger Logger
	// prometheus 指标注册器，为空时指标不会被注册
	Registerer prometheus.Registerer
	// 新建托盘图标时没有设置提示文字则使用该文字
	DefaultTip string
}
