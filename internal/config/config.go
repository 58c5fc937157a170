package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	StorageDir        string        `mapstructure:"storage_dir" yaml:"storage_dir"`
	StaticDir         string        `mapstructure:"static_dir" yaml:"static_dir"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	HistoryLimit      int           `mapstructure:"history_limit" yaml:"history_limit"`
	PortalURL         string        `mapstructure:"portal_url" yaml:"portal_url"`
	PortalHosts       []string      `mapstructure:"portal_hosts" yaml:"portal_hosts"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		DatabasePath:      "freebox.db",
		StorageDir:        "storage",
		StaticDir:         "web",
		LogLevel:          "info",
		HistoryLimit:      50,
		PortalURL:         "/",
		PortalHosts:       []string{"192.168.1.1", "freebox.local"},
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// IsPortalHost reports whether the given host is one of ours rather than a
// hijacked captive-portal probe domain.
func (c *Config) IsPortalHost(host string) bool {
	for _, h := range c.PortalHosts {
		if h == host {
			return true
		}
	}
	return false
}
