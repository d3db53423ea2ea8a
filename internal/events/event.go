// Package events turns plugin lifecycle transitions into durable messages:
// every registration, load, rejection and startup becomes an Event that is
// handed to a Publisher.
package events

import (
	"time"

	"github.com/google/uuid"

	"PenPal/pkg/plugin"
)

// Event 是对外发布的插件生命周期消息。
type Event struct {
	ID         string           `json:"id"`
	Kind       plugin.EventKind `json:"kind"`
	Key        string           `json:"key"`
	Name       string           `json:"name"`
	Version    string           `json:"version"`
	Code       string           `json:"code,omitempty"`
	Error      string           `json:"error,omitempty"`
	Duration   time.Duration    `json:"duration,omitempty"`
	OccurredAt time.Time        `json:"occurredAt"`
}

// FromPlugin 将管理器事件转换为可序列化的消息。
func FromPlugin(ev plugin.Event) Event {
	out := Event{
		ID:         uuid.NewString(),
		Kind:       ev.Kind,
		Key:        ev.Key,
		Name:       ev.Name,
		Version:    ev.Version,
		Duration:   ev.Duration,
		OccurredAt: ev.At.UTC(),
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now().UTC()
	}
	if ev.Err != nil {
		out.Code = string(plugin.CodeOf(ev.Err))
		out.Error = ev.Err.Error()
	}
	return out
}
