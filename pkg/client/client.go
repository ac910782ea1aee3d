package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cuemby/actyx/pkg/crypto"
	"github.com/cuemby/actyx/pkg/types"
)

// Config configures a Client.
type Config struct {
	// Addr is the node's API address, e.g. "localhost:4080". No
	// scheme: the client always talks plain HTTP/WS, the same trust
	// boundary pkg/api assumes (loopback or a local reverse proxy).
	Addr    string
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Client is a thin Go wrapper over a node's HTTP/WS facade
// (pkg/api): login, publish, query, subscribe, offsets, node info.
// It holds no connection state beyond a bearer token obtained from
// Login — every call is a plain HTTP request, safe for concurrent
// use.
type Client struct {
	cfg   Config
	http  *http.Client
	token string
}

// New returns a Client bound to cfg.Addr. Call Login before any
// authenticated call (everything but the health probe).
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Error is a structured error returned by a failed API call, mirroring
// the ErrorEnvelope pkg/api writes on every non-2xx response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("actyx: %s (%s, status %d)", e.Message, e.Code, e.Status)
}

func (c *Client) baseURL(path string) string {
	return "http://" + c.cfg.Addr + path
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL(path), reader)
	if err != nil {
		return fmt.Errorf("client: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return &Error{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Message}
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Login exchanges a signed app manifest for a bearer token, attaching
// it to every subsequent call this Client makes.
func (c *Client) Login(ctx context.Context, manifest crypto.AppManifest) error {
	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	req := struct {
		Manifest crypto.AppManifest `json:"manifest"`
	}{Manifest: manifest}
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &resp); err != nil {
		return err
	}
	c.token = resp.Token
	return nil
}

// PublishResult is the key assigned to a successfully published event.
type PublishResult struct {
	Lamport uint64
	Stream  types.StreamId
	Offset  uint64
}

// Publish appends one event to the given local stream number with the
// given tags. payload is marshaled to JSON client-side; the facade
// re-encodes it to CBOR before it ever reaches the core.
func (c *Client) Publish(ctx context.Context, stream uint64, tags []string, payload interface{}) (PublishResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return PublishResult{}, fmt.Errorf("client: failed to encode payload: %w", err)
	}
	req := struct {
		Stream  uint64          `json:"stream"`
		Tags    []string        `json:"tags"`
		Payload json.RawMessage `json:"payload"`
	}{Stream: stream, Tags: tags, Payload: raw}

	var resp struct {
		Lamport uint64         `json:"lamport"`
		Stream  types.StreamId `json:"stream"`
		Offset  uint64         `json:"offset"`
	}
	if err := c.do(ctx, http.MethodPost, "/events/publish", req, &resp); err != nil {
		return PublishResult{}, err
	}
	return PublishResult{Lamport: resp.Lamport, Stream: resp.Stream, Offset: resp.Offset}, nil
}

// Record mirrors one row of a query result or subscription outcome.
type Record struct {
	Stream  types.StreamId         `json:"stream,omitempty"`
	Offset  uint64                 `json:"offset,omitempty"`
	Lamport uint64                 `json:"lamport,omitempty"`
	Tags    []string               `json:"tags,omitempty"`
	Payload interface{}            `json:"payload,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
	Agg     map[string]interface{} `json:"agg,omitempty"`
}

// Query runs a bounded AQL query and returns every matching record.
func (c *Client) Query(ctx context.Context, query string) ([]Record, error) {
	req := struct {
		Query string `json:"query"`
	}{Query: query}
	var records []Record
	if err := c.do(ctx, http.MethodPost, "/events/query", req, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Offsets returns the current offset map across every stream the node
// knows about — the watermark to persist and feed back into
// SubscribeOptions.From to resume a subscription later.
func (c *Client) Offsets(ctx context.Context) (types.OffsetMap, error) {
	offsets := make(types.OffsetMap)
	if err := c.do(ctx, http.MethodGet, "/events/offsets", nil, &offsets); err != nil {
		return nil, err
	}
	return offsets, nil
}

// NodeInfo is this node's identity and build version.
type NodeInfo struct {
	NodeId  types.NodeId `json:"nodeId"`
	Version string       `json:"version"`
}

// NodeInfo fetches the node's identity.
func (c *Client) NodeInfo(ctx context.Context) (NodeInfo, error) {
	var info NodeInfo
	if err := c.do(ctx, http.MethodGet, "/node/info", nil, &info); err != nil {
		return NodeInfo{}, err
	}
	return info, nil
}

// SubscribeOptions configures a live subscription.
type SubscribeOptions struct {
	Ordered      bool
	WindowMillis int64
	From         types.OffsetMap
}

// Outcome is one message delivered over a subscription: either a
// matching record, or a TimeTravel marker when the ordered reorder
// window couldn't hold a late-arriving event.
type Outcome struct {
	Record     *Record
	TimeTravel bool
}

// Subscription is an open live query; call Next to read outcomes and
// Close to release the underlying websocket connection.
type Subscription struct {
	conn *websocket.Conn
}

// Next blocks for the next outcome. It returns an error once the node
// closes the stream.
func (s *Subscription) Next() (Outcome, error) {
	var wire struct {
		Record     *Record `json:"record,omitempty"`
		TimeTravel bool    `json:"timeTravel,omitempty"`
	}
	if err := s.conn.ReadJSON(&wire); err != nil {
		return Outcome{}, err
	}
	return Outcome{Record: wire.Record, TimeTravel: wire.TimeTravel}, nil
}

// Close releases the subscription's websocket connection.
func (s *Subscription) Close() error {
	return s.conn.Close()
}

// Subscribe opens a live subscription over an AQL query. The
// websocket handshake is a GET by protocol (RFC 6455); the query and
// its options travel in the query string, matching pkg/api's
// subscribeHandler.
func (c *Client) Subscribe(ctx context.Context, query string, opts SubscribeOptions) (*Subscription, error) {
	q := url.Values{}
	q.Set("q", query)
	if opts.Ordered {
		q.Set("ordered", "true")
	}
	if opts.WindowMillis > 0 {
		q.Set("windowMillis", strconv.FormatInt(opts.WindowMillis, 10))
	}
	if len(opts.From) > 0 {
		raw, err := json.Marshal(opts.From)
		if err != nil {
			return nil, fmt.Errorf("client: failed to encode resume offsets: %w", err)
		}
		q.Set("from", string(raw))
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.Timeout}
	wsURL := "ws://" + c.cfg.Addr + "/events/subscribe?" + q.Encode()
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			var envelope struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&envelope)
			return nil, &Error{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Message}
		}
		return nil, fmt.Errorf("client: failed to open subscription: %w", err)
	}
	return &Subscription{conn: conn}, nil
}

// Healthy reports whether the node's /health endpoint responds OK.
// It does not require a prior Login: health is an unauthenticated
// probe.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL("/health"), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// IsUnauthenticated reports whether err was returned because the
// client's bearer token is missing or expired, the signal a CLI uses
// to prompt for a fresh Login.
func IsUnauthenticated(err error) bool {
	apiErr, ok := err.(*Error)
	if !ok {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || strings.HasPrefix(apiErr.Code, "ERR_USER_UNAUTHENTICATED")
}
