//go:build !windows

package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig configures an optional remote syslog sink. It is off by
// default; vmark-node's own api.log/shell.log rotation is the collaborator
// responsible for local log files (out of scope for the core, per spec).
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns a disabled syslog sink with UDP defaults.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "vmark-node",
		Facility: 1,
	}
}

// NewSyslogWriter dials a remote syslog daemon and returns a WriteCloser
// whose Write sends each call as one syslog message.
func NewSyslogWriter(cfg SyslogConfig) (*syslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "vmark-node"
	}

	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	w, err := syslog.Dial(cfg.Protocol, fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), priority, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("logging: dial syslog: %w", err)
	}
	return &syslogWriter{w: w}, nil
}

type syslogWriter struct {
	w *syslog.Writer
}

func (s *syslogWriter) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *syslogWriter) Close() error                { return s.w.Close() }
