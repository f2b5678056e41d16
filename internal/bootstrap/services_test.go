package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/config"
	"github.com/relaydesk/relaydesk/internal/transport/transporttest"
)

func TestErrorChannelCapacity(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 0,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  1,
		},
		{
			name:  "sweeper only",
			modes: []config.ServiceMode{config.ServiceModeSweeper},
			want:  1,
		},
		{
			name:  "http and sweeper",
			modes: []config.ServiceMode{config.ServiceModeHTTP, config.ServiceModeSweeper},
			want:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelCapacity(enabled); got != tt.want {
				t.Fatalf("errorChannelCapacity(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestErrorChannelBufferSize(t *testing.T) {
	tests := []struct {
		name  string
		modes []config.ServiceMode
		want  int
	}{
		{
			name: "no services enabled",
			want: 1,
		},
		{
			name:  "http only",
			modes: []config.ServiceMode{config.ServiceModeHTTP},
			want:  2,
		},
		{
			name:  "http and sweeper",
			modes: []config.ServiceMode{config.ServiceModeHTTP, config.ServiceModeSweeper},
			want:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled := make(map[config.ServiceMode]bool, len(tt.modes))
			for _, mode := range tt.modes {
				enabled[mode] = true
			}

			if got := errorChannelBufferSize(enabled); got != tt.want {
				t.Fatalf("errorChannelBufferSize(%v) = %d, want %d", tt.modes, got, tt.want)
			}
		})
	}
}

func TestNewServicesWiring(t *testing.T) {
	t.Run("wires the full engine", func(t *testing.T) {
		cfg := &config.AppConfig{Services: "http,sweeper"}
		cfg.Sanitize()

		services, err := NewServices(&ServiceDeps{
			Config:  cfg,
			Factory: transporttest.NewFactory(),
		})
		require.NoError(t, err)

		require.NotNil(t, services.Workspaces)
		require.NotNil(t, services.Scheduled)
		require.NotNil(t, services.Reports)
		require.NotNil(t, services.Resolver)
		require.NotNil(t, services.Sessions)
		require.NotNil(t, services.Pipeline)
		require.NotNil(t, services.Sweeper)
		require.NotNil(t, services.Recur)
		require.NotNil(t, services.Status)
		require.Nil(t, services.Mirror)
		require.Nil(t, services.Observability.MetricsSink)

		<-services.Recur.Stop().Done()
	})

	t.Run("nil deps are rejected", func(t *testing.T) {
		_, err := NewServices(nil)
		require.Error(t, err)
	})
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))

	cfg := &config.AppConfig{Services: "warehouse"}
	require.Error(t, ValidateServiceConfig(cfg))

	cfg = &config.AppConfig{Services: "http,sweeper"}
	require.NoError(t, ValidateServiceConfig(cfg))
}
