package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the operator-facing HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeSweeper runs the one-off scheduled message sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. It returns an error when any name is invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: http, sweeper)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SessionConfig contains session lifecycle configuration.
type SessionConfig struct {
	// ProfileRoot is the directory under which each workspace keeps its
	// persistent transport identity.
	ProfileRoot string `env:"SESSION_PROFILE_ROOT" envDefault:"./profiles"`

	// ProbeInterval is the ready-probe tick interval.
	ProbeInterval time.Duration `env:"SESSION_PROBE_INTERVAL" envDefault:"3s"`

	// StuckThreshold is how long a session may sit authenticated-but-not-ready
	// before the probe forces a recovery.
	StuckThreshold time.Duration `env:"SESSION_STUCK_THRESHOLD" envDefault:"90s"`
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionConfig) Sanitize() {
	if strings.TrimSpace(s.ProfileRoot) == "" {
		s.ProfileRoot = "./profiles"
	}
	if s.ProbeInterval < 500*time.Millisecond {
		s.ProbeInterval = 500 * time.Millisecond
	}
	if s.StuckThreshold < 10*time.Second {
		s.StuckThreshold = 10 * time.Second
	}
}

// ResolverConfig contains automation-runtime resolution configuration.
type ResolverConfig struct {
	// ExecutablePath is an explicit operator-provided runtime path. When it
	// exists on disk it wins over every other search location.
	ExecutablePath string `env:"RUNTIME_EXECUTABLE_PATH" envDefault:""`

	// CacheRoots is a prioritized list of install-cache directories searched
	// recursively. Empty entries fall back to the defaults for the host.
	CacheRoots []string `env:"RUNTIME_CACHE_ROOTS" envSeparator:":"`

	// SearchDepth bounds the recursive cache search.
	SearchDepth int `env:"RUNTIME_SEARCH_DEPTH" envDefault:"6"`

	// InstallOnDemand allows a managed install when nothing is found.
	InstallOnDemand bool `env:"RUNTIME_INSTALL_ON_DEMAND" envDefault:"true"`
}

// Sanitize applies guardrails to resolver configuration values.
func (r *ResolverConfig) Sanitize() {
	if r.SearchDepth < 1 {
		r.SearchDepth = 1
	}
	if r.SearchDepth > 12 {
		r.SearchDepth = 12
	}
}

// BridgeConfig contains browser automation bridge endpoint configuration.
type BridgeConfig struct {
	// URL is the base URL of the automation bridge session API.
	URL string `env:"BRIDGE_URL" envDefault:"http://127.0.0.1:9400"`

	// RequestTimeout bounds individual bridge API calls.
	RequestTimeout time.Duration `env:"BRIDGE_REQUEST_TIMEOUT" envDefault:"15s"`

	// EventWait is the long-poll hold time requested on the event feed.
	EventWait time.Duration `env:"BRIDGE_EVENT_WAIT" envDefault:"25s"`
}

// Sanitize applies guardrails to bridge configuration values.
func (b *BridgeConfig) Sanitize() {
	if strings.TrimSpace(b.URL) == "" {
		b.URL = "http://127.0.0.1:9400"
	}
	if b.RequestTimeout <= 0 {
		b.RequestTimeout = 15 * time.Second
	}
	if b.EventWait <= 0 {
		b.EventWait = 25 * time.Second
	}
}

// DeliveryConfig contains outbound delivery pipeline configuration.
type DeliveryConfig struct {
	// ConnectWaitBudget bounds how long a send waits for the session to
	// confirm connectivity before giving up.
	ConnectWaitBudget time.Duration `env:"DELIVERY_CONNECT_WAIT_BUDGET" envDefault:"45s"`

	// ConnectPollInterval is the cadence of connectivity polls during the wait.
	ConnectPollInterval time.Duration `env:"DELIVERY_CONNECT_POLL_INTERVAL" envDefault:"500ms"`

	// MaxRecoveriesPerWait bounds forced recoveries inside one wait cycle.
	MaxRecoveriesPerWait int `env:"DELIVERY_MAX_RECOVERIES_PER_WAIT" envDefault:"2"`

	// DefaultDelayMs is the staggered-mode delay when the workspace config
	// carries none.
	DefaultDelayMs int `env:"DELIVERY_DEFAULT_DELAY_MS" envDefault:"2000"`
}

// Sanitize applies guardrails to delivery configuration values.
func (d *DeliveryConfig) Sanitize() {
	if d.ConnectWaitBudget < time.Second {
		d.ConnectWaitBudget = time.Second
	}
	if d.ConnectPollInterval < 50*time.Millisecond {
		d.ConnectPollInterval = 50 * time.Millisecond
	}
	if d.MaxRecoveriesPerWait < 0 {
		d.MaxRecoveriesPerWait = 0
	}
	if d.DefaultDelayMs < 0 {
		d.DefaultDelayMs = 0
	}
}

// SweeperConfig contains one-off scheduled message sweep configuration.
type SweeperConfig struct {
	// Interval is the sweep tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"30s"`

	// BatchSize is the maximum number of due messages processed per tick.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"50"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.Interval < time.Second {
		s.Interval = time.Second
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 1000 {
		s.BatchSize = 1000
	}
}
