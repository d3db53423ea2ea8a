package penpal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the PenPal registry API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Plugin is a registered plugin together with its load outcome.
type Plugin struct {
	Key                    string         `json:"key"`
	Name                   string         `json:"name"`
	Version                string         `json:"version"`
	DependsOn              []string       `json:"dependsOn,omitempty"`
	RequiresImplementation bool           `json:"requiresImplementation,omitempty"`
	Implements             string         `json:"implements,omitempty"`
	Loaded                 bool           `json:"loaded"`
	HasStartupHook         bool           `json:"hasStartupHook,omitempty"`
	Settings               map[string]any `json:"settings,omitempty"`
}

// Schema is the merged GraphQL state. Resolvers list field names per type.
type Schema struct {
	Types     string              `json:"types"`
	Resolvers map[string][]string `json:"resolvers"`
	Loaders   []string            `json:"loaders"`
}

// PluginState is one plugin inside a snapshot.
type PluginState struct {
	Key      string         `json:"key"`
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Snapshot is a persisted load pass result.
type Snapshot struct {
	ID      string        `json:"id"`
	TakenAt time.Time     `json:"takenAt"`
	Plugins []PluginState `json:"plugins"`
	Types   string        `json:"types"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("penpal api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("penpal api error (%d): %s", e.StatusCode, e.Message)
}

// NotFound reports whether the server answered 404.
func (e *APIError) NotFound() bool {
	return e != nil && e.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the PenPal API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// ListPlugins returns the registered plugins. With loadedOnly set, plugins
// that did not load are filtered out server side.
func (c *Client) ListPlugins(ctx context.Context, loadedOnly bool) ([]Plugin, error) {
	endpoint := "/api/v1/plugins"
	query := url.Values{}
	if loadedOnly {
		query.Set("loaded", "true")
	}
	var body struct {
		Plugins []Plugin `json:"plugins"`
	}
	if err := c.get(ctx, endpoint, query, &body); err != nil {
		return nil, err
	}
	return body.Plugins, nil
}

// GetPlugin fetches one plugin by its name@version key.
func (c *Client) GetPlugin(ctx context.Context, key string) (Plugin, error) {
	var p Plugin
	if err := c.get(ctx, "/api/v1/plugins/"+key, nil, &p); err != nil {
		return Plugin{}, err
	}
	return p, nil
}

// Schema fetches the merged GraphQL schema.
func (c *Client) Schema(ctx context.Context) (Schema, error) {
	var s Schema
	if err := c.get(ctx, "/api/v1/schema", nil, &s); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// LatestSnapshot fetches the most recent registry snapshot.
func (c *Client) LatestSnapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	if err := c.get(ctx, "/api/v1/snapshots/latest", nil, &s); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken sets a bearer token sent with every request, for
// deployments that put the API behind an authenticating proxy.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
