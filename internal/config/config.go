// Package config manages ldpd daemon configuration using koanf/v2.
//
// Supports YAML files and environment variable overrides. The native
// /etc/ldpd.conf grammar's parser is out of scope (spec §1); YAML is the
// ambient substitute this daemon accepts natively (SPEC_FULL.md §10).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete ldpd configuration tree (spec §3, §4.7).
type Config struct {
	Control  ControlConfig      `koanf:"control"`
	Metrics  MetricsConfig      `koanf:"metrics"`
	Log      LogConfig          `koanf:"log"`
	Global   GlobalConfig       `koanf:"global"`
	Interfaces []InterfaceConfig `koanf:"interfaces"`
	Targeted []TargetedConfig   `koanf:"targeted_neighbors"`
	Pseudowires []PseudowireConfig `koanf:"pseudowires"`
}

// ControlConfig configures the operator Unix-domain control socket (spec §6).
type ControlConfig struct {
	SocketPath string `koanf:"socket_path"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// GlobalConfig holds the process-wide LDP parameters (spec §3 "Global").
type GlobalConfig struct {
	RouterID         string `koanf:"router_id"`
	LabelSpace       uint16 `koanf:"label_space"`
	KeepAlive        uint16 `koanf:"keepalive_seconds"`
	LinkHelloHoldTime uint16 `koanf:"link_hello_holdtime"`
	TargetedHelloHoldTime uint16 `koanf:"targeted_hello_holdtime"`
	ExplicitNull     bool   `koanf:"explicit_null"`
	TCPMD5Key        string `koanf:"tcp_md5_key"`
}

// InterfaceConfig declares an interface LDP should run discovery on (spec
// §3 Interface, §4.7 reconciliation).
type InterfaceConfig struct {
	Name       string `koanf:"name"`
	HelloHoldTime uint16 `koanf:"hello_holdtime"`
}

// TargetedConfig declares a configured targeted neighbor (spec §3 Tnbr).
type TargetedConfig struct {
	RemoteAddr string `koanf:"remote_addr"`
	HelloHoldTime uint16 `koanf:"hello_holdtime"`
}

// PseudowireConfig declares a locally provisioned pseudowire (spec §4.5).
type PseudowireConfig struct {
	Name        string `koanf:"name"`
	PeerAddr    string `koanf:"peer_addr"`
	PWType      uint16 `koanf:"pw_type"`
	PWID        uint32 `koanf:"pw_id"`
	Interface   string `koanf:"interface"`
	MTU         uint16 `koanf:"mtu"`
	ControlWord bool   `koanf:"control_word"`
}

// RouterIDAddr parses RouterID as a netip.Addr.
func (g GlobalConfig) RouterIDAddr() (netip.Addr, error) {
	addr, err := netip.ParseAddr(g.RouterID)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse global.router_id %q: %w", g.RouterID, err)
	}
	return addr, nil
}

// PeerAddrParsed parses a pseudowire's peer address.
func (p PseudowireConfig) PeerAddrParsed() (netip.Addr, error) {
	addr, err := netip.ParseAddr(p.PeerAddr)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("parse pseudowire %q peer_addr %q: %w", p.Name, p.PeerAddr, err)
	}
	return addr, nil
}

// DefaultConfig returns a Config populated with spec §4.1/§4.3 defaults.
func DefaultConfig() *Config {
	return &Config{
		Control: ControlConfig{SocketPath: "/var/run/ldpd.sock"},
		Metrics: MetricsConfig{Addr: ":9646", Path: "/metrics"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Global: GlobalConfig{
			LabelSpace:            0,
			KeepAlive:             180,
			LinkHelloHoldTime:     15,
			TargetedHelloHoldTime: 45,
		},
	}
}

// envPrefix is the environment variable prefix for ldpd configuration.
// Variables are named LDPD_<section>_<key>, e.g. LDPD_GLOBAL_ROUTER_ID.
const envPrefix = "LDPD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (LDPD_ prefix), and merges on top of DefaultConfig().
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	// Only the first underscore separates section from key: keys such as
	// router_id contain underscores of their own.
	return strings.Replace(s, "_", ".", 1)
}

func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"control.socket_path":          defaults.Control.SocketPath,
		"metrics.addr":                 defaults.Metrics.Addr,
		"metrics.path":                 defaults.Metrics.Path,
		"log.level":                    defaults.Log.Level,
		"log.format":                   defaults.Log.Format,
		"global.label_space":           defaults.Global.LabelSpace,
		"global.keepalive_seconds":     defaults.Global.KeepAlive,
		"global.link_hello_holdtime":   defaults.Global.LinkHelloHoldTime,
		"global.targeted_hello_holdtime": defaults.Global.TargetedHelloHoldTime,
	}
	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

var (
	ErrEmptySocketPath   = errors.New("control.socket_path must not be empty")
	ErrInvalidRouterID   = errors.New("global.router_id must be a valid IPv4 address")
	ErrInvalidKeepAlive  = errors.New("global.keepalive_seconds must be >= 3")
	ErrInvalidIfaceName  = errors.New("interface name must not be empty")
	ErrInvalidTnbrAddr   = errors.New("targeted neighbor remote_addr is invalid")
	ErrDuplicateIfaceName = errors.New("duplicate interface name")
	ErrDuplicateTnbrAddr  = errors.New("duplicate targeted neighbor remote_addr")
	ErrInvalidPWPeer      = errors.New("pseudowire peer_addr is invalid")
)

// Validate checks the configuration for logical errors (spec §4.7's
// precondition: configuration must be well-formed before reconciliation).
func Validate(cfg *Config) error {
	if cfg.Control.SocketPath == "" {
		return ErrEmptySocketPath
	}
	routerID, err := cfg.Global.RouterIDAddr()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRouterID, err)
	}
	if !routerID.Is4() {
		return fmt.Errorf("%w: %q", ErrInvalidRouterID, cfg.Global.RouterID)
	}
	if cfg.Global.KeepAlive != 0 && cfg.Global.KeepAlive < 3 {
		return ErrInvalidKeepAlive
	}

	seenIface := make(map[string]struct{})
	for i, ic := range cfg.Interfaces {
		if ic.Name == "" {
			return fmt.Errorf("interfaces[%d]: %w", i, ErrInvalidIfaceName)
		}
		if _, dup := seenIface[ic.Name]; dup {
			return fmt.Errorf("interfaces[%d] %q: %w", i, ic.Name, ErrDuplicateIfaceName)
		}
		seenIface[ic.Name] = struct{}{}
	}

	seenTnbr := make(map[string]struct{})
	for i, tc := range cfg.Targeted {
		if _, err := netip.ParseAddr(tc.RemoteAddr); err != nil {
			return fmt.Errorf("targeted_neighbors[%d]: %w: %w", i, ErrInvalidTnbrAddr, err)
		}
		if _, dup := seenTnbr[tc.RemoteAddr]; dup {
			return fmt.Errorf("targeted_neighbors[%d] %q: %w", i, tc.RemoteAddr, ErrDuplicateTnbrAddr)
		}
		seenTnbr[tc.RemoteAddr] = struct{}{}
	}

	for i, pc := range cfg.Pseudowires {
		if _, err := pc.PeerAddrParsed(); err != nil {
			return fmt.Errorf("pseudowires[%d]: %w: %w", i, ErrInvalidPWPeer, err)
		}
	}

	return nil
}

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Render writes cfg back out in the printconf style of original_source's
// printconf.c, used by "ldpctl show running-config" (SPEC_FULL.md §12
// supplement). It renders router-id, label-space, keepalive, interface
// names and hello hold times, targeted neighbor addresses, and pseudowire
// name/peer/pw-id/interface; other fields are not included.
func Render(cfg *Config) string {
	var b strings.Builder
	fmt.Fprintf(&b, "router-id %s\n", cfg.Global.RouterID)
	if cfg.Global.LabelSpace != 0 {
		fmt.Fprintf(&b, "label-space %d\n", cfg.Global.LabelSpace)
	}
	fmt.Fprintf(&b, "keepalive %d\n", cfg.Global.KeepAlive)
	for _, ic := range cfg.Interfaces {
		fmt.Fprintf(&b, "interface %s {\n", ic.Name)
		if ic.HelloHoldTime != 0 {
			fmt.Fprintf(&b, "\thello-holdtime %d\n", ic.HelloHoldTime)
		}
		b.WriteString("}\n")
	}
	for _, tc := range cfg.Targeted {
		fmt.Fprintf(&b, "targeted-neighbor %s\n", tc.RemoteAddr)
	}
	for _, pc := range cfg.Pseudowires {
		fmt.Fprintf(&b, "pseudowire %s {\n\tpeer %s\n\tpw-id %d\n\tinterface %s\n}\n",
			pc.Name, pc.PeerAddr, pc.PWID, pc.Interface)
	}
	return b.String()
}
