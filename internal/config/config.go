// Package config loads the node's process-level configuration: state
// directory, bind address, external tool paths and the XDP object path.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"vmark.io/vmark-node/internal/logging"
)

// Config is the top-level node configuration, loaded from YAML with
// environment overrides applied on top.
type Config struct {
	// StateDir holds register.json and forwarding_table.json.
	// @default: "$HOME/.vmark"
	StateDir string `yaml:"state_dir,omitempty"`

	// ListenIP is a bind address loaded from config. The registration
	// server binds to its -register-listen-ip flag and the API server to
	// the listen_ip stored in register.json; neither reads this field.
	// @default: "0.0.0.0"
	ListenIP string `yaml:"listen_ip,omitempty"`

	// BPFToolPath is a configured path to the bpftool binary. The datapath
	// driver does not read it; it runs "bpftool" from PATH.
	// @default: "bpftool"
	BPFToolPath string `yaml:"bpftool_path,omitempty"`

	// IPToolPath is a configured path to the ip(8) binary. The datapath
	// driver does not read it; it runs "ip" from PATH.
	// @default: "ip"
	IPToolPath string `yaml:"ip_path,omitempty"`

	// XDPObjectPath is the precompiled XDP object attached to parent
	// interfaces. Non-goal: this core does not build or ship that object.
	// @default: "/usr/lib/vmark/xdp_mef_switch.o"
	XDPObjectPath string `yaml:"xdp_object_path,omitempty"`

	// XDPProgramName is the program section name inside XDPObjectPath.
	// @default: "xdp_mef_switch"
	XDPProgramName string `yaml:"xdp_program_name,omitempty"`

	// MetricsListenAddr is the bind address for the Prometheus handler.
	// @default: "127.0.0.1:9469"
	MetricsListenAddr string `yaml:"metrics_listen_addr,omitempty"`

	// LogLevel is one of debug|info|warn|error.
	// @default: "info"
	LogLevel string `yaml:"log_level,omitempty"`

	// Syslog optionally forwards log output to a remote syslog daemon.
	Syslog SyslogSettings `yaml:"syslog,omitempty"`
}

// SyslogSettings mirrors logging.SyslogConfig in YAML-friendly form.
type SyslogSettings struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Protocol string `yaml:"protocol,omitempty"`
	Tag      string `yaml:"tag,omitempty"`
	Facility int    `yaml:"facility,omitempty"`
}

// ToLoggingConfig converts s into the logging package's own SyslogConfig
// shape. An unconfigured (zero-value) s falls back to the package's
// disabled default rather than dialing with empty host/protocol fields.
func (s SyslogSettings) ToLoggingConfig() logging.SyslogConfig {
	if !s.Enabled {
		return logging.DefaultSyslogConfig()
	}
	return logging.SyslogConfig{
		Enabled:  s.Enabled,
		Host:     s.Host,
		Port:     s.Port,
		Protocol: s.Protocol,
		Tag:      s.Tag,
		Facility: s.Facility,
	}
}

// Default returns the baseline configuration before any file or
// environment overrides are applied.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/root"
	}
	return &Config{
		StateDir:          filepath.Join(home, ".vmark"),
		ListenIP:          "0.0.0.0",
		BPFToolPath:       "bpftool",
		IPToolPath:        "ip",
		XDPObjectPath:     "/usr/lib/vmark/xdp_mef_switch.o",
		XDPProgramName:    "xdp_mef_switch",
		MetricsListenAddr: "127.0.0.1:9469",
		LogLevel:          "info",
	}
}

// Load reads path (if it exists) over the defaults, then applies the
// VMARK_-prefixed environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]*string{
		"VMARK_STATE_DIR":           &cfg.StateDir,
		"VMARK_LISTEN_IP":           &cfg.ListenIP,
		"VMARK_BPFTOOL_PATH":        &cfg.BPFToolPath,
		"VMARK_IP_PATH":             &cfg.IPToolPath,
		"VMARK_XDP_OBJECT_PATH":     &cfg.XDPObjectPath,
		"VMARK_XDP_PROGRAM_NAME":    &cfg.XDPProgramName,
		"VMARK_METRICS_LISTEN_ADDR": &cfg.MetricsListenAddr,
		"VMARK_LOG_LEVEL":           &cfg.LogLevel,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

// RegisterPath returns the path to the registration state file.
func (c *Config) RegisterPath() string {
	return filepath.Join(c.StateDir, "register.json")
}

// ForwardingTablePath returns the path to the rule store file.
func (c *Config) ForwardingTablePath() string {
	return filepath.Join(c.StateDir, "forwarding_table.json")
}
