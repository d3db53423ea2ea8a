package penpal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestListPluginsFiltersLoaded(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/plugins" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.URL.Query().Get("loaded") != "true" {
			t.Errorf("expected loaded filter, got %q", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"plugins": []Plugin{{Key: "DataStore@0.1.0", Name: "DataStore", Version: "0.1.0", Loaded: true}},
		})
	})

	plugins, err := client.ListPlugins(context.Background(), true)
	if err != nil {
		t.Fatalf("list plugins: %v", err)
	}
	if len(plugins) != 1 || plugins[0].Key != "DataStore@0.1.0" || !plugins[0].Loaded {
		t.Fatalf("unexpected plugins: %+v", plugins)
	}
}

func TestGetPluginEscapesKeyAndSendsToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/plugins/Core API@0.1.0" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(Plugin{Key: "Core API@0.1.0", RequiresImplementation: true})
	})
	client.SetAccessToken("token")

	p, err := client.GetPlugin(context.Background(), "Core API@0.1.0")
	if err != nil {
		t.Fatalf("get plugin: %v", err)
	}
	if !p.RequiresImplementation {
		t.Fatalf("unexpected plugin: %+v", p)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "NOT_FOUND", "message": "尚无快照"})
	})

	_, err := client.LatestSnapshot(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !apiErr.NotFound() || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestSchemaAndSnapshot(t *testing.T) {
	takenAt := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/schema":
			_ = json.NewEncoder(w).Encode(Schema{Types: "type Query { ping: Boolean }", Resolvers: map[string][]string{"Query": {"ping"}}})
		case "/api/v1/snapshots/latest":
			_ = json.NewEncoder(w).Encode(Snapshot{ID: "snap-1", TakenAt: takenAt})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	schema, err := client.Schema(context.Background())
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if schema.Resolvers["Query"][0] != "ping" {
		t.Fatalf("unexpected schema: %+v", schema)
	}

	snap, err := client.LatestSnapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ID != "snap-1" || !snap.TakenAt.Equal(takenAt) {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
