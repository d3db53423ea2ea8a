package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "PenPal/internal/errors"
	"PenPal/pkg/plugin"
)

func TestObserveHTTPRequestCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/plugins", http.MethodGet))

	ObserveHTTPRequest("/api/v1/plugins", http.MethodGet, http.StatusOK, 10*time.Millisecond)
	ObserveHTTPRequest("/api/v1/plugins", http.MethodGet, http.StatusInternalServerError, time.Second)

	assert.Equal(t, before+1, testutil.ToFloat64(httpErrors.WithLabelValues("/api/v1/plugins", http.MethodGet)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(httpRequests.WithLabelValues("/api/v1/plugins", http.MethodGet, "200")), 1.0)
}

func TestPluginObserverLabelsByCode(t *testing.T) {
	obs := PluginObserver{}
	rejected := pluginEvents.WithLabelValues("rejected", "MISSING_DEPENDENCY")
	loaded := pluginEvents.WithLabelValues("loaded", "")
	beforeRejected := testutil.ToFloat64(rejected)
	beforeLoaded := testutil.ToFloat64(loaded)

	obs.Observe(plugin.Event{Kind: plugin.EventRejected, Key: "C@1", Err: xerrors.New(xerrors.CodeMissingDependency, "")})
	obs.Observe(plugin.Event{Kind: plugin.EventLoaded, Key: "A@1", Duration: 3 * time.Millisecond})
	obs.Observe(plugin.Event{Kind: plugin.EventRejected, Key: "D@1", Err: errors.New("plain")})

	assert.Equal(t, beforeRejected+1, testutil.ToFloat64(rejected))
	assert.Equal(t, beforeLoaded+1, testutil.ToFloat64(loaded))
	assert.Equal(t, 1.0, testutil.ToFloat64(pluginEvents.WithLabelValues("rejected", "UNKNOWN")))
}

func TestHandlerExposesPluginMetrics(t *testing.T) {
	SetPluginsLoaded(4)
	PluginObserver{}.Observe(plugin.Event{Kind: plugin.EventLoaded, Key: "A@1"})

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "penpal_plugins_loaded 4")
	assert.Contains(t, body, "penpal_plugin_events_total")
	assert.Contains(t, body, "penpal_plugin_load_duration_seconds_bucket")
}
