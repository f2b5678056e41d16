// Package bridge implements the transport against an external browser
// automation bridge reached over HTTP. The bridge owns the chat web client;
// this package only drives its session API and relays lifecycle events.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/relaydesk/relaydesk/config"
	apperrors "github.com/relaydesk/relaydesk/internal/errors"
	"github.com/relaydesk/relaydesk/internal/transport"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultEventWait      = 25 * time.Second

	// eventRetryDelay spaces out event polls after a transport error so a
	// dead bridge does not turn the loop into a busy spin.
	eventRetryDelay = 2 * time.Second
)

// Event types pushed by the bridge on the session event feed.
const (
	eventPairingChallenge = "pairing_challenge"
	eventAuthenticated    = "authenticated"
	eventConnectivity     = "connectivity"
	eventReady            = "ready"
	eventDisconnected     = "disconnected"
)

// FactoryOptions configures a bridge-backed transport factory.
type FactoryOptions struct {
	Config config.BridgeConfig // Required: bridge endpoint configuration
	Logger *slog.Logger        // Optional: structured logger
	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// Factory builds bridge-backed transport clients.
type Factory struct {
	baseURL string
	client  *http.Client
	// eventClient allows the long-poll hold time on top of the normal
	// request timeout.
	eventClient *http.Client
	logger      *slog.Logger
	eventWait   time.Duration
}

// NewFactory creates a bridge transport factory.
func NewFactory(opts FactoryOptions) (*Factory, error) {
	base, err := url.Parse(opts.Config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("bridge url must be absolute")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := opts.Config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	eventWait := opts.Config.EventWait
	if eventWait <= 0 {
		eventWait = defaultEventWait
	}

	httpClient := opts.HTTPClient
	eventClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
		eventClient = &http.Client{Timeout: timeout + eventWait}
	}

	return &Factory{
		baseURL:     base.String(),
		client:      httpClient,
		eventClient: eventClient,
		logger:      logger.With("component", "bridge"),
		eventWait:   eventWait,
	}, nil
}

// New implements transport.Factory.
func (f *Factory) New(_ context.Context, cfg transport.ClientConfig) (transport.Client, error) {
	if cfg.WorkspaceID == "" {
		return nil, apperrors.Validation("workspace id is required")
	}
	return &Client{
		factory: f,
		cfg:     cfg,
		logger:  f.logger.With("workspace_id", cfg.WorkspaceID),
	}, nil
}

// Client is one workspace-scoped session on the automation bridge.
type Client struct {
	factory *Factory
	cfg     transport.ClientConfig
	logger  *slog.Logger

	mu        sync.Mutex
	stopLoop  context.CancelFunc
	destroyed bool
}

type createSessionRequest struct {
	WorkspaceID    string `json:"workspace_id"`
	ProfileDir     string `json:"profile_dir"`
	ExecutablePath string `json:"executable_path,omitempty"`
}

type sessionStateResponse struct {
	State string `json:"state"`
}

type sendMessageRequest struct {
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
	MediaRef  string `json:"media_ref,omitempty"`
}

type sendMessageResponse struct {
	MessageID string `json:"message_id"`
}

type bridgeEvent struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

type eventsResponse struct {
	Events []bridgeEvent `json:"events"`
	Cursor int64         `json:"cursor"`
}

// Connect creates the bridge session and starts relaying its event feed.
func (c *Client) Connect(ctx context.Context) error {
	body := createSessionRequest{
		WorkspaceID:    c.cfg.WorkspaceID,
		ProfileDir:     c.cfg.ProfileDir,
		ExecutablePath: c.cfg.ExecutablePath,
	}
	if err := c.do(ctx, c.factory.client, http.MethodPost, c.sessionPath(""), body, nil); err != nil {
		return fmt.Errorf("create bridge session: %w", err)
	}

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return apperrors.Unavailable("client already destroyed")
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.stopLoop = cancel
	c.mu.Unlock()

	go c.eventLoop(loopCtx)
	return nil
}

// ConnectivityState polls the bridge for the session's connection state.
func (c *Client) ConnectivityState(ctx context.Context) (transport.ConnectivityState, error) {
	var resp sessionStateResponse
	if err := c.do(ctx, c.factory.client, http.MethodGet, c.sessionPath("/state"), nil, &resp); err != nil {
		return transport.StateDisconnected, err
	}
	switch transport.ConnectivityState(resp.State) {
	case transport.StateConnected, transport.StateConnecting, transport.StateDisconnected:
		return transport.ConnectivityState(resp.State), nil
	default:
		return transport.StateDisconnected, fmt.Errorf("bridge reported unknown state %q", resp.State)
	}
}

// Send delivers one message and waits for the bridge-level ack.
func (c *Client) Send(ctx context.Context, msg transport.Message) error {
	body := sendMessageRequest{
		Recipient: msg.Recipient,
		Body:      msg.Body,
		MediaRef:  msg.MediaRef,
	}
	var resp sendMessageResponse
	if err := c.do(ctx, c.factory.client, http.MethodPost, c.sessionPath("/messages"), body, &resp); err != nil {
		return err
	}
	if resp.MessageID == "" {
		return errors.New("bridge ack missing message id")
	}
	return nil
}

// Destroy stops the event loop and tears the bridge session down.
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	stop := c.stopLoop
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if err := c.do(ctx, c.factory.client, http.MethodDelete, c.sessionPath(""), nil, nil); err != nil {
		return fmt.Errorf("delete bridge session: %w", err)
	}
	return nil
}

// eventLoop long-polls the session event feed and dispatches lifecycle
// callbacks until the loop context is cancelled.
func (c *Client) eventLoop(ctx context.Context) {
	cursor := int64(0)
	for {
		if ctx.Err() != nil {
			return
		}

		resp, err := c.pollEvents(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.DebugContext(ctx, "bridge event poll failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(eventRetryDelay):
			}
			continue
		}

		for _, ev := range resp.Events {
			c.dispatch(ev)
		}
		cursor = resp.Cursor
	}
}

func (c *Client) pollEvents(ctx context.Context, cursor int64) (*eventsResponse, error) {
	q := url.Values{}
	q.Set("cursor", strconv.FormatInt(cursor, 10))
	q.Set("wait", c.factory.eventWait.String())

	var resp eventsResponse
	if err := c.do(ctx, c.factory.eventClient, http.MethodGet, c.sessionPath("/events?"+q.Encode()), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) dispatch(ev bridgeEvent) {
	h := c.cfg.Handlers
	switch ev.Type {
	case eventPairingChallenge:
		if h.OnPairingChallenge != nil {
			h.OnPairingChallenge(ev.Payload)
		}
	case eventAuthenticated:
		if h.OnAuthenticated != nil {
			h.OnAuthenticated()
		}
	case eventConnectivity:
		if h.OnConnectivityChange != nil {
			h.OnConnectivityChange(transport.ConnectivityState(ev.Payload))
		}
	case eventReady:
		if h.OnReady != nil {
			h.OnReady()
		}
	case eventDisconnected:
		if h.OnDisconnected != nil {
			h.OnDisconnected(ev.Payload)
		}
	default:
		c.logger.Warn("unknown bridge event", "type", ev.Type)
	}
}

func (c *Client) sessionPath(suffix string) string {
	return c.factory.baseURL + "/sessions/" + url.PathEscape(c.cfg.WorkspaceID) + suffix
}

// do issues one JSON request against the bridge and decodes the response
// into out when out is non-nil. Non-2xx responses become errors carrying the
// response body.
func (c *Client) do(ctx context.Context, client *http.Client, method, rawURL string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("bridge returned status %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w body=%q", err, string(raw))
	}
	return nil
}
