package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"PenPal/pkg/plugin"
)

var (
	pluginEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "penpal",
		Name:      "plugin_events_total",
		Help:      "Plugin lifecycle events by kind and error code.",
	}, []string{"kind", "code"})

	pluginLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "penpal",
		Name:      "plugin_load_duration_seconds",
		Help:      "Time spent in a plugin's load or startup step.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
	}, []string{"kind"})

	pluginsLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "penpal",
		Name:      "plugins_loaded",
		Help:      "Number of plugins loaded by the last load pass.",
	})
)

// PluginObserver counts lifecycle events. It satisfies plugin.Observer.
type PluginObserver struct{}

// Observe implements plugin.Observer.
func (PluginObserver) Observe(ev plugin.Event) {
	pluginEvents.WithLabelValues(string(ev.Kind), string(plugin.CodeOf(ev.Err))).Inc()
	switch ev.Kind {
	case plugin.EventLoaded, plugin.EventStarted:
		pluginLoadDuration.WithLabelValues(string(ev.Kind)).Observe(ev.Duration.Seconds())
	}
}

// SetPluginsLoaded records the size of the final loaded set.
func SetPluginsLoaded(n int) {
	pluginsLoaded.Set(float64(n))
}
