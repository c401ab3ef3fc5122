// Package store is a thin transport over the memory store's HTTP API: a
// request/response envelope, deterministic URL construction, header merging,
// and error normalization. It exposes one typed method per store operation;
// none of them retain state across calls.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joestump/memctl/internal/bridgeerr"
)

// Client talks to one store endpoint.
type Client struct {
	baseURL    string
	timeout    time.Duration
	apiKey     string
	headers    map[string]string
	httpClient *http.Client
}

// Options configures a Client.
type Options struct {
	Endpoint  string
	TimeoutMs int
	APIKey    string
	Headers   map[string]string
	// HTTPClient overrides the default client; tests supply one pointed at
	// an httptest.Server.
	HTTPClient *http.Client
}

// New builds a Client. The endpoint's trailing slashes are stripped so URL
// construction is deterministic regardless of how callers configured it.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	timeout := time.Duration(opts.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.Endpoint, "/"),
		timeout:    timeout,
		apiKey:     opts.APIKey,
		headers:    opts.Headers,
		httpClient: hc,
	}
}

// callOptions carries per-call overrides.
type callOptions struct {
	query   url.Values
	headers map[string]string
}

// do issues one request and decodes the envelope. opHeaders are
// operation-specific headers (e.g. Content-Type); they override the
// client's static config headers, but the caller-supplied headers passed
// through ctx-free callOptions.headers override everything.
func (c *Client) do(ctx context.Context, method, path string, opts callOptions, body any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + path
	if len(opts.query) > 0 {
		u += "?" + opts.query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, bridgeerr.Wrap(bridgeerr.KindValidation, "encode request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindTransport, "build request", err)
	}

	headers := map[string]string{}
	if body != nil {
		headers["Content-Type"] = "application/json"
	}
	if c.apiKey != "" {
		headers["X-API-Key"] = c.apiKey
	}
	for k, v := range c.headers {
		headers[k] = v
	}
	for k, v := range opts.headers {
		headers[k] = v
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindTransport, "store request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindTransport, "read store response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, bridgeerr.New(bridgeerr.KindTransport, describeFailure(data, resp.Status))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, bridgeerr.Wrap(bridgeerr.KindProtocol, "malformed store response", err)
	}
	if env.Status != "ok" {
		return nil, bridgeerr.New(bridgeerr.KindProtocol, describeFailure(data, resp.Status))
	}
	return env.Result, nil
}

// describeFailure prefers error.message from the envelope, then the raw
// body, then the HTTP status text.
func describeFailure(body []byte, status string) string {
	var env Envelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
		return trimmed
	}
	return status
}

func decode[T any](raw json.RawMessage, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if jerr := json.Unmarshal(raw, &out); jerr != nil {
		return out, bridgeerr.Wrap(bridgeerr.KindProtocol, "decode store result", jerr)
	}
	return out, nil
}

// Health checks store liveness.
func (c *Client) Health(ctx context.Context) (Health, error) {
	return decode[Health](c.do(ctx, http.MethodGet, "/health", callOptions{}, nil))
}

// CreateSession creates a new store session.
func (c *Client) CreateSession(ctx context.Context) (Session, error) {
	return decode[Session](c.do(ctx, http.MethodPost, "/api/v1/sessions", callOptions{}, map[string]any{}))
}

// ListSessions lists store sessions.
func (c *Client) ListSessions(ctx context.Context) ([]Session, error) {
	return decode[[]Session](c.do(ctx, http.MethodGet, "/api/v1/sessions", callOptions{}, nil))
}

// GetSession fetches one session.
func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	return decode[Session](c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(id), callOptions{}, nil))
}

// DeleteSession removes a session.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/sessions/"+url.PathEscape(id), callOptions{}, nil)
	return err
}

// ExtractSession triggers memory extraction for a session.
func (c *Client) ExtractSession(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(id)+"/extract", callOptions{}, map[string]any{})
	return err
}

// AddSessionMessage appends one role/content message.
func (c *Client) AddSessionMessage(ctx context.Context, id, role, content string) error {
	body := map[string]any{"role": role, "content": content}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(id)+"/messages", callOptions{}, body)
	return err
}

// AddEventsBatch appends a batch of events to a session.
func (c *Client) AddEventsBatch(ctx context.Context, id string, events []EventWire) error {
	body := map[string]any{"events": events}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(id)+"/events/batch", callOptions{}, body)
	return err
}

// CommitSession commits a session with the given cause.
func (c *Client) CommitSession(ctx context.Context, id, cause string) error {
	body := map[string]any{"cause": cause}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/sessions/"+url.PathEscape(id)+"/commit", callOptions{}, body)
	return err
}

// Search runs a planner-aware search.
func (c *Client) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	return decode[SearchResult](c.do(ctx, http.MethodPost, "/api/v1/search/search", callOptions{}, req))
}

// Find runs a keyword find.
func (c *Client) Find(ctx context.Context, req SearchRequest) (SearchResult, error) {
	return decode[SearchResult](c.do(ctx, http.MethodPost, "/api/v1/search/find", callOptions{}, req))
}

// Grep runs a pattern grep against one uri.
func (c *Client) Grep(ctx context.Context, req GrepRequest) ([]string, error) {
	return decode[[]string](c.do(ctx, http.MethodPost, "/api/v1/search/grep", callOptions{}, req))
}

// Glob runs a glob match.
func (c *Client) Glob(ctx context.Context, req GlobRequest) ([]string, error) {
	return decode[[]string](c.do(ctx, http.MethodPost, "/api/v1/search/glob", callOptions{}, req))
}

func (c *Client) contentLayer(ctx context.Context, layer, uri string) (Content, error) {
	q := url.Values{"uri": []string{uri}}
	return decode[Content](c.do(ctx, http.MethodGet, "/api/v1/content/"+layer, callOptions{query: q}, nil))
}

// Read fetches the full content layer (l2) for uri.
func (c *Client) Read(ctx context.Context, uri string) (Content, error) { return c.contentLayer(ctx, "read", uri) }

// Abstract fetches the abstract content layer (l0) for uri.
func (c *Client) Abstract(ctx context.Context, uri string) (Content, error) {
	return c.contentLayer(ctx, "abstract", uri)
}

// Overview fetches the overview content layer (l1) for uri.
func (c *Client) Overview(ctx context.Context, uri string) (Content, error) {
	return c.contentLayer(ctx, "overview", uri)
}

// AddResourceRequest is the body for POST /api/v1/resources.
type AddResourceRequest struct {
	Path        string `json:"path"`
	Target      string `json:"target,omitempty"`
	Reason      string `json:"reason"`
	Instruction string `json:"instruction"`
	Wait        bool   `json:"wait"`
	TimeoutMs   int    `json:"timeout,omitempty"`
}

// AddResource ingests a resource.
func (c *Client) AddResource(ctx context.Context, req AddResourceRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/resources", callOptions{}, req)
	return err
}

// AddSkillRequest is the body for POST /api/v1/skills.
type AddSkillRequest struct {
	Data      any  `json:"data"`
	Wait      bool `json:"wait"`
	TimeoutMs int  `json:"timeout,omitempty"`
}

// AddSkill ingests a skill.
func (c *Client) AddSkill(ctx context.Context, req AddSkillRequest) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/skills", callOptions{}, req)
	return err
}

// WaitProcessed blocks (from the store's perspective) until pending
// ingestion work drains, up to timeoutMs.
func (c *Client) WaitProcessed(ctx context.Context, timeoutMs int) error {
	body := map[string]any{}
	if timeoutMs > 0 {
		body["timeout"] = timeoutMs
	}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/system/wait", callOptions{}, body)
	return err
}

// FsLs lists one directory.
func (c *Client) FsLs(ctx context.Context, uri string) ([]FsEntry, error) {
	q := url.Values{"uri": []string{uri}}
	return decode[[]FsEntry](c.do(ctx, http.MethodGet, "/api/v1/fs/ls", callOptions{query: q}, nil))
}

// FsTree lists a subtree recursively.
func (c *Client) FsTree(ctx context.Context, uri string) ([]FsEntry, error) {
	q := url.Values{"uri": []string{uri}}
	return decode[[]FsEntry](c.do(ctx, http.MethodGet, "/api/v1/fs/tree", callOptions{query: q}, nil))
}

// FsStat stats one uri.
func (c *Client) FsStat(ctx context.Context, uri string) (FsStat, error) {
	q := url.Values{"uri": []string{uri}}
	return decode[FsStat](c.do(ctx, http.MethodGet, "/api/v1/fs/stat", callOptions{query: q}, nil))
}

// FsMkdir creates a directory. Callers must route through the fs write
// policy gate before calling this.
func (c *Client) FsMkdir(ctx context.Context, uri string) error {
	body := map[string]any{"uri": uri}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/fs/mkdir", callOptions{}, body)
	return err
}

// FsRm removes a uri, optionally recursively. Callers must route through
// the fs write policy gate before calling this.
func (c *Client) FsRm(ctx context.Context, uri string, recursive bool) error {
	q := url.Values{"uri": []string{uri}, "recursive": []string{strconv.FormatBool(recursive)}}
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/fs", callOptions{query: q}, nil)
	return err
}

// FsMv moves from -> to. Callers must route through the fs write policy
// gate before calling this.
func (c *Client) FsMv(ctx context.Context, from, to string) error {
	body := map[string]any{"from_uri": from, "to_uri": to}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/fs/mv", callOptions{}, body)
	return err
}

// Relations lists neighbors of uri.
func (c *Client) Relations(ctx context.Context, uri string) ([]Relation, error) {
	q := url.Values{"uri": []string{uri}}
	return decode[[]Relation](c.do(ctx, http.MethodGet, "/api/v1/relations", callOptions{query: q}, nil))
}

// LinkRelation links from -> to.
func (c *Client) LinkRelation(ctx context.Context, from, to string) error {
	body := map[string]any{"from_uri": from, "to_uri": to}
	_, err := c.do(ctx, http.MethodPost, "/api/v1/relations/link", callOptions{}, body)
	return err
}

// UnlinkRelation removes a link from -> to.
func (c *Client) UnlinkRelation(ctx context.Context, from, to string) error {
	body := map[string]any{"from_uri": from, "to_uri": to}
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/relations/link", callOptions{}, body)
	return err
}

func (c *Client) observer(ctx context.Context, name string) (ObserverStatus, error) {
	return decode[ObserverStatus](c.do(ctx, http.MethodGet, "/api/v1/observer/"+name, callOptions{}, nil))
}

// ObserverQueue reports queue health.
func (c *Client) ObserverQueue(ctx context.Context) (ObserverStatus, error) { return c.observer(ctx, "queue") }

// ObserverVikingDB reports the vector store's health.
func (c *Client) ObserverVikingDB(ctx context.Context) (ObserverStatus, error) {
	return c.observer(ctx, "vikingdb")
}

// ObserverVLM reports the vision-language model's health.
func (c *Client) ObserverVLM(ctx context.Context) (ObserverStatus, error) { return c.observer(ctx, "vlm") }

// ObserverTransaction reports transaction-log health.
func (c *Client) ObserverTransaction(ctx context.Context) (ObserverStatus, error) {
	return c.observer(ctx, "transaction")
}

// ObserverSystem reports overall system health.
func (c *Client) ObserverSystem(ctx context.Context) (ObserverStatus, error) {
	return c.observer(ctx, "system")
}
