// Package transport abstracts the browser-automated chat client behind a
// small capability interface. The session manager depends only on this
// package, which keeps the state machine testable with a deterministic fake.
package transport

import "context"

// ConnectivityState is the transport's own view of the connection.
type ConnectivityState string

const (
	// StateConnected means the transport is fully connected and can send.
	StateConnected ConnectivityState = "connected"
	// StateConnecting means a connection attempt is in progress.
	StateConnecting ConnectivityState = "connecting"
	// StateDisconnected means the transport has no usable connection.
	StateDisconnected ConnectivityState = "disconnected"
)

// Message is one outbound message handed to the transport.
type Message struct {
	Recipient string
	Body      string
	// MediaRef optionally points at a media asset previously uploaded to
	// the transport-side store. Empty for plain text.
	MediaRef string
}

// Handlers receives lifecycle events from the transport client. Callbacks
// are invoked from the client's own goroutines; implementations must be safe
// for concurrent use.
type Handlers struct {
	// OnPairingChallenge delivers the pairing payload (QR contents) the
	// operator must scan to authenticate the workspace identity.
	OnPairingChallenge func(payload string)
	// OnAuthenticated fires once the transport accepted the identity.
	OnAuthenticated func()
	// OnConnectivityChange reports transport connectivity transitions.
	OnConnectivityChange func(state ConnectivityState)
	// OnReady fires when the transport is fully usable for sending.
	OnReady func()
	// OnDisconnected fires when the session is torn down remotely.
	OnDisconnected func(reason string)
}

// Client is one workspace-scoped connection to the messaging transport.
type Client interface {
	// Connect starts the session asynchronously; lifecycle progress arrives
	// through the registered Handlers. A returned error means the connect
	// call itself failed to launch.
	Connect(ctx context.Context) error
	// ConnectivityState polls the transport's current connection state.
	ConnectivityState(ctx context.Context) (ConnectivityState, error)
	// Send delivers one message and waits for the transport-level ack.
	Send(ctx context.Context, msg Message) error
	// Destroy tears the client down, releasing the underlying automation
	// process. Safe to call on a partially constructed client.
	Destroy(ctx context.Context) error
}

// ClientConfig carries everything a factory needs to construct a client
// bound to a workspace-scoped persistent identity.
type ClientConfig struct {
	WorkspaceID    string
	ExecutablePath string
	// ProfileDir is the on-disk identity store for this workspace. Reusing
	// it across restarts is what makes forced recovery lose no identity.
	ProfileDir string
	Handlers   Handlers
}

// Factory constructs transport clients. The production factory wraps the
// external automation bridge; tests inject a fake.
type Factory interface {
	New(ctx context.Context, cfg ClientConfig) (Client, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, cfg ClientConfig) (Client, error)

// New implements Factory.
func (f FactoryFunc) New(ctx context.Context, cfg ClientConfig) (Client, error) {
	return f(ctx, cfg)
}
