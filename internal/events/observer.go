package events

import (
	"context"
	"log/slog"
	"time"

	"PenPal/pkg/logger"
	"PenPal/pkg/plugin"
)

const publishTimeout = 5 * time.Second

// Observer 将管理器事件转发给 Publisher，并写入审计日志。
type Observer struct {
	pub   Publisher
	log   *slog.Logger
	audit *slog.Logger
}

// NewObserver 创建发布观察者。发布失败只记录日志，不会中断插件加载。
func NewObserver(pub Publisher) *Observer {
	return &Observer{
		pub:   pub,
		log:   logger.Named("events"),
		audit: logger.Audit(),
	}
}

// WithLogger 替换观察者使用的日志器。
func (o *Observer) WithLogger(log *slog.Logger) *Observer {
	if log != nil {
		o.log = log
		o.audit = log
	}
	return o
}

// Observe 实现 plugin.Observer。
func (o *Observer) Observe(ev plugin.Event) {
	msg := FromPlugin(ev)
	o.audit.Info("plugin lifecycle",
		"event_id", msg.ID,
		"kind", string(msg.Kind),
		"plugin", msg.Key,
		"code", msg.Code,
	)
	if o.pub == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.pub.Publish(ctx, msg); err != nil {
		o.log.Warn("publish plugin event failed", "plugin", msg.Key, "kind", string(msg.Kind), "error", err)
	}
}
