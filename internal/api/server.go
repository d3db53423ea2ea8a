package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "PenPal/internal/errors"
	"PenPal/internal/observability/metrics"
	"PenPal/internal/registry"
	"PenPal/pkg/plugin"
)

// PluginSource 是插件管理器的只读视图。
type PluginSource interface {
	Registered() []plugin.RegisteredPlugin
	Loaded() []plugin.LoadedPlugin
	LoadedPlugin(key string) (plugin.LoadedPlugin, bool)
	Schema() plugin.Schema
}

// Server 负责暴露 REST 接口，供外部查询插件注册表。
type Server struct {
	addr            string
	plugins         PluginSource
	snapshots       registry.Store
	shutdownTimeout time.Duration
}

// NewServer 构造 API 服务实例。snapshots 可以为空。
func NewServer(addr string, plugins PluginSource, snapshots registry.Store) *Server {
	return &Server{addr: addr, plugins: plugins, snapshots: snapshots, shutdownTimeout: 5 * time.Second}
}

// WithShutdownTimeout 设置优雅退出的等待时间。
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	if d > 0 {
		s.shutdownTimeout = d
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/plugins", instrument("/api/v1/plugins", s.handleListPlugins))
	mux.Handle("/api/v1/plugins/", instrument("/api/v1/plugins/{key}", s.handlePluginDetail))
	mux.Handle("/api/v1/schema", instrument("/api/v1/schema", s.handleSchema))
	mux.Handle("/api/v1/snapshots/latest", instrument("/api/v1/snapshots/latest", s.handleLatestSnapshot))
	mux.Handle("/healthz", instrument("/healthz", handleHealth))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// PluginView 合并了注册信息与加载结果。
type PluginView struct {
	Key                    string          `json:"key"`
	Name                   string          `json:"name"`
	Version                string          `json:"version"`
	DependsOn              []string        `json:"dependsOn,omitempty"`
	RequiresImplementation bool            `json:"requiresImplementation,omitempty"`
	Implements             string          `json:"implements,omitempty"`
	Loaded                 bool            `json:"loaded"`
	HasStartupHook         bool            `json:"hasStartupHook,omitempty"`
	Settings               plugin.Settings `json:"settings,omitempty"`
}

// SchemaView 是合并后 GraphQL 状态的可序列化形式，解析器只列出字段名。
type SchemaView struct {
	Types     string              `json:"types"`
	Resolvers map[string][]string `json:"resolvers"`
	Loaders   []string            `json:"loaders"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	registered := s.plugins.Registered()
	views := make([]PluginView, 0, len(registered))
	for _, rec := range registered {
		views = append(views, s.view(rec))
	}
	if r.URL.Query().Get("loaded") == "true" {
		filtered := views[:0]
		for _, v := range views {
			if v.Loaded {
				filtered = append(filtered, v)
			}
		}
		views = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"plugins": views})
}

func (s *Server) handlePluginDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/api/v1/plugins/")
	if strings.TrimSpace(key) == "" {
		writeError(w, http.StatusBadRequest, xerrors.New(xerrors.CodeInvalidArgument, "缺少插件 key"))
		return
	}
	for _, rec := range s.plugins.Registered() {
		if rec.Key == key {
			writeJSON(w, http.StatusOK, s.view(rec))
			return
		}
	}
	writeError(w, http.StatusNotFound, xerrors.New(xerrors.CodeNotFound, "插件不存在: "+key))
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	schema := s.plugins.Schema()
	view := SchemaView{
		Types:     schema.Types,
		Resolvers: make(map[string][]string, len(schema.Resolvers)),
		Loaders:   make([]string, 0, len(schema.Loaders)),
	}
	for typeName, fields := range schema.Resolvers {
		names := make([]string, 0, len(fields))
		for name := range fields {
			names = append(names, name)
		}
		sort.Strings(names)
		view.Resolvers[typeName] = names
	}
	for name := range schema.Loaders {
		view.Loaders = append(view.Loaders, name)
	}
	sort.Strings(view.Loaders)
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, xerrors.New(xerrors.CodeInvalidArgument, "仅支持 GET"))
		return
	}
	if s.snapshots == nil {
		writeError(w, http.StatusServiceUnavailable, xerrors.New(xerrors.CodeStorageFailure, "快照存储未配置"))
		return
	}
	snap, err := s.snapshots.Latest(r.Context())
	if errors.Is(err, registry.ErrNoSnapshot) {
		writeError(w, http.StatusNotFound, xerrors.New(xerrors.CodeNotFound, "尚无快照"))
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) view(rec plugin.RegisteredPlugin) PluginView {
	v := PluginView{
		Key:                    rec.Key,
		Name:                   rec.Name,
		Version:                rec.Version,
		DependsOn:              rec.DependsOn,
		RequiresImplementation: rec.RequiresImplementation,
		Implements:             rec.Implements,
	}
	if lp, ok := s.plugins.LoadedPlugin(rec.Key); ok {
		v.Loaded = lp.Loaded
		v.HasStartupHook = lp.HasStartupHook()
		v.Settings = lp.Settings
	}
	return v
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Code: string(xerrors.CodeOf(err)), Message: err.Error()}
	if coded, ok := xerrors.From(err); ok {
		body.Message = coded.Message()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusRecorder 记录响应码供指标使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func instrument(route string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
