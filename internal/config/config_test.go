package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ldp-project/ldpd/internal/config"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "ldpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValidOnceRouterIDSet(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Global.RouterID = "10.0.0.1"
	require.NoError(t, config.Validate(cfg))
}

func TestLoadMergesDefaultsFileAndEnv(t *testing.T) {
	path := writeTempConfig(t, `
global:
  router_id: 10.0.0.1
  keepalive_seconds: 60
interfaces:
  - name: eth0
targeted_neighbors:
  - remote_addr: 192.0.2.1
`)
	t.Setenv("LDPD_LOG_FORMAT", "text")
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "text", cfg.Log.Format) // env override
	require.Equal(t, "10.0.0.1", cfg.Global.RouterID)
	require.Equal(t, uint16(60), cfg.Global.KeepAlive)
	require.Equal(t, "/var/run/ldpd.sock", cfg.Control.SocketPath) // inherited default
	require.Len(t, cfg.Interfaces, 1)
	require.Equal(t, "eth0", cfg.Interfaces[0].Name)
	require.Len(t, cfg.Targeted, 1)
}

func TestValidateRejectsEmptySocketPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Global.RouterID = "10.0.0.1"
	cfg.Control.SocketPath = ""
	require.ErrorIs(t, config.Validate(cfg), config.ErrEmptySocketPath)
}

func TestValidateRejectsBadRouterID(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Global.RouterID = "not-an-ip"
	require.ErrorIs(t, config.Validate(cfg), config.ErrInvalidRouterID)
}

func TestValidateRejectsLowKeepAlive(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Global.RouterID = "10.0.0.1"
	cfg.Global.KeepAlive = 1
	require.ErrorIs(t, config.Validate(cfg), config.ErrInvalidKeepAlive)
}

func TestValidateRejectsDuplicateInterface(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Global.RouterID = "10.0.0.1"
	cfg.Interfaces = []config.InterfaceConfig{{Name: "eth0"}, {Name: "eth0"}}
	require.ErrorIs(t, config.Validate(cfg), config.ErrDuplicateIfaceName)
}

func TestValidateRejectsDuplicateTargetedNeighbor(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Global.RouterID = "10.0.0.1"
	cfg.Targeted = []config.TargetedConfig{{RemoteAddr: "192.0.2.1"}, {RemoteAddr: "192.0.2.1"}}
	require.ErrorIs(t, config.Validate(cfg), config.ErrDuplicateTnbrAddr)
}

func TestValidateRejectsBadPseudowirePeer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Global.RouterID = "10.0.0.1"
	cfg.Pseudowires = []config.PseudowireConfig{{Name: "pw1", PeerAddr: "garbage"}}
	require.ErrorIs(t, config.Validate(cfg), config.ErrInvalidPWPeer)
}

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, "DEBUG", config.ParseLogLevel("debug").String())
	require.Equal(t, "INFO", config.ParseLogLevel("unknown").String())
}

func TestRenderRoundTripsBasics(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Global.RouterID = "10.0.0.1"
	cfg.Interfaces = []config.InterfaceConfig{{Name: "eth0", HelloHoldTime: 15}}
	cfg.Targeted = []config.TargetedConfig{{RemoteAddr: "192.0.2.1"}}

	out := config.Render(cfg)
	require.Contains(t, out, "router-id 10.0.0.1")
	require.Contains(t, out, "interface eth0")
	require.Contains(t, out, "targeted-neighbor 192.0.2.1")
}
