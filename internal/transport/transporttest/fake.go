// Package transporttest provides a deterministic transport fake for unit
// tests of the session manager and delivery pipeline.
package transporttest

import (
	"context"
	"sync"

	"github.com/relaydesk/relaydesk/internal/transport"
)

// Client is a scriptable transport.Client. Lifecycle events are fired by the
// test through the Fire* methods; calls are recorded for assertions.
type Client struct {
	mu sync.Mutex

	handlers transport.Handlers

	ConnectErr error
	SendErr    error
	// SendErrFor fails sends for specific recipients only.
	SendErrFor map[string]error
	DestroyErr error
	State      transport.ConnectivityState
	StateErr   error

	connectCalls int
	destroyCalls int
	sent         []transport.Message
}

var _ transport.Client = (*Client)(nil)

// NewClient builds a fake starting in the connecting state.
func NewClient() *Client {
	return &Client{State: transport.StateConnecting}
}

// Bind registers the handlers the session manager wired in. The factory
// returned by NewFactory does this automatically.
func (c *Client) Bind(h transport.Handlers) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = h
}

func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
	return c.ConnectErr
}

func (c *Client) ConnectivityState(_ context.Context) (transport.ConnectivityState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.State, c.StateErr
}

func (c *Client) Send(_ context.Context, msg transport.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.SendErrFor[msg.Recipient]; ok {
		return err
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *Client) Destroy(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyCalls++
	return c.DestroyErr
}

// SetState updates the polled connectivity state.
func (c *Client) SetState(s transport.ConnectivityState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.State = s
}

// ConnectCalls returns how many times Connect was invoked.
func (c *Client) ConnectCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectCalls
}

// DestroyCalls returns how many times Destroy was invoked.
func (c *Client) DestroyCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyCalls
}

// Sent returns a copy of all successfully sent messages, in order.
func (c *Client) Sent() []transport.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transport.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *Client) currentHandlers() transport.Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlers
}

// FirePairingChallenge invokes the pairing callback synchronously.
func (c *Client) FirePairingChallenge(payload string) {
	if h := c.currentHandlers().OnPairingChallenge; h != nil {
		h(payload)
	}
}

// FireAuthenticated invokes the authenticated callback synchronously.
func (c *Client) FireAuthenticated() {
	if h := c.currentHandlers().OnAuthenticated; h != nil {
		h()
	}
}

// FireConnectivityChange invokes the connectivity callback synchronously.
func (c *Client) FireConnectivityChange(state transport.ConnectivityState) {
	if h := c.currentHandlers().OnConnectivityChange; h != nil {
		h(state)
	}
}

// FireReady invokes the ready callback synchronously.
func (c *Client) FireReady() {
	if h := c.currentHandlers().OnReady; h != nil {
		h()
	}
}

// FireDisconnected invokes the disconnected callback synchronously.
func (c *Client) FireDisconnected(reason string) {
	if h := c.currentHandlers().OnDisconnected; h != nil {
		h(reason)
	}
}

// Factory hands out fakes and records the configs it saw.
type Factory struct {
	mu      sync.Mutex
	clients []*Client
	configs []transport.ClientConfig

	// NewErr, when set, makes New fail.
	NewErr error
	// Next, when set, is returned by the next New call instead of a fresh
	// client. Consumed once.
	Next *Client
}

var _ transport.Factory = (*Factory)(nil)

// NewFactory builds an empty fake factory.
func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) New(_ context.Context, cfg transport.ClientConfig) (transport.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	c := f.Next
	f.Next = nil
	if c == nil {
		c = NewClient()
	}
	c.Bind(cfg.Handlers)
	f.clients = append(f.clients, c)
	f.configs = append(f.configs, cfg)
	return c, nil
}

// Last returns the most recently constructed client, or nil.
func (f *Factory) Last() *Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.clients) == 0 {
		return nil
	}
	return f.clients[len(f.clients)-1]
}

// Configs returns the client configs passed to New, in order.
func (f *Factory) Configs() []transport.ClientConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.ClientConfig, len(f.configs))
	copy(out, f.configs)
	return out
}

// Count returns how many clients were constructed.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}
