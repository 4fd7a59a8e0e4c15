package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"msgrelay/internal/codec"
	"msgrelay/internal/netutil"
)

type Config struct {
	Logging     Logging     `yaml:"logging"`
	Metrics     Metrics     `yaml:"metrics"`
	Preferences Preferences `yaml:"preferences"`
	Links       []Link      `yaml:"links"`
}

type Logging struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type Metrics struct {
	Listen    string `yaml:"listen"`     // empty disables the metrics and API listener
	AuthToken string `yaml:"auth_token"` // bearer token required by /readyz
	Pprof     bool   `yaml:"pprof"`      // expose /debug/pprof/* on the metrics listener
}

// Preferences points at the flat key/value store used when no links are
// configured.
type Preferences struct {
	Path string `yaml:"path"`
}

type Link struct {
	Name             string     `yaml:"name"`
	Enabled          *bool      `yaml:"enabled"`
	TestEncoding     string     `yaml:"test_encoding"`
	TestString       string     `yaml:"test_string"`
	MaxSubstitutions int        `yaml:"max_substitutions"`
	Sources          []Endpoint `yaml:"sources"`
	Destinations     []Endpoint `yaml:"destinations"`
	Filters          []Filter   `yaml:"filters"`
}

type Endpoint struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`     // server | client
	Protocol      string `yaml:"protocol"` // tcp | udp
	Encoding      string `yaml:"encoding"`
	LocalAddress  string `yaml:"local_address"`
	LocalPort     int    `yaml:"local_port"`
	RemoteAddress string `yaml:"remote_address"`
	RemotePort    int    `yaml:"remote_port"`
	Enabled       *bool  `yaml:"enabled"`
	Collapsed     bool   `yaml:"collapsed"`
	TestString    string `yaml:"test_string"`
	RestartDelay  string `yaml:"restart_delay"` // e.g. "500ms"
	TCP           TCP    `yaml:"tcp"`
}

// TCP holds per-connection socket options for TCP endpoints.
type TCP struct {
	NoDelay     *bool  `yaml:"no_delay"`
	KeepAlive   string `yaml:"keep_alive"` // e.g. "30s"; empty leaves the OS default
	ReadBuffer  int    `yaml:"read_buffer"`
	WriteBuffer int    `yaml:"write_buffer"`
}

type Filter struct {
	Kind    string `yaml:"kind"`
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"`
	Param1  Param  `yaml:"param1"`
	Param2  Param  `yaml:"param2"`
	All     *bool  `yaml:"all"` // Replace only; false replaces the first occurrence
}

// Param is a filter parameter. YAML scalars of any type are kept in their
// textual form, so `param1: 1000` and `param1: "1000"` are equivalent.
type Param string

func (p *Param) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v interface{}
	if err := unmarshal(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*p = ""
	case string:
		*p = Param(t)
	case bool, int, int64, uint64, float64:
		*p = Param(fmt.Sprint(t))
	default:
		return fmt.Errorf("filter parameter must be a scalar, got %T", v)
	}
	return nil
}

func (p Param) String() string { return string(p) }

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	for i := range c.Links {
		l := &c.Links[i]
		if l.Name == "" {
			l.Name = fmt.Sprintf("CommLink_%d", i+1)
		}
		if l.TestEncoding == "" {
			l.TestEncoding = codec.DefaultName
		}
		for j := range l.Sources {
			l.Sources[j].applyDefaults("server")
		}
		for j := range l.Destinations {
			l.Destinations[j].applyDefaults("client")
		}
	}
}

func (e *Endpoint) applyDefaults(typ string) {
	if e.Type == "" {
		e.Type = typ
	}
	if e.Protocol == "" {
		e.Protocol = "tcp"
	}
	if e.Encoding == "" {
		e.Encoding = codec.DefaultName
	}
}

func (c *Config) validate() error {
	var errs []error
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	if c.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Listen); err != nil {
			errs = append(errs, fmt.Errorf("metrics.listen: %w", err))
		}
	}

	names := make(map[string]bool, len(c.Links))
	for i, l := range c.Links {
		prefix := fmt.Sprintf("links[%d]", i)
		if names[l.Name] {
			errs = append(errs, fmt.Errorf("%s.name %q is not unique", prefix, l.Name))
		}
		names[l.Name] = true
		if l.MaxSubstitutions < 0 {
			errs = append(errs, fmt.Errorf("%s.max_substitutions must not be negative", prefix))
		}
	}
	return writeErr(errs)
}

// Check reports problems confined to one endpoint entry. They do not fail
// the configuration: the runner skips the endpoint with a warning, as it
// does for unknown types, protocols and encodings.
func (e Endpoint) Check() error {
	var errs []error
	for _, p := range []struct {
		field string
		port  int
	}{{"local_port", e.LocalPort}, {"remote_port", e.RemotePort}} {
		if p.port < 0 || p.port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", p.field, p.port))
		}
	}
	if e.RestartDelay != "" {
		if d, err := time.ParseDuration(e.RestartDelay); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("restart_delay %q must be a positive duration", e.RestartDelay))
		}
	}
	if e.TCP.KeepAlive != "" {
		if d, err := time.ParseDuration(e.TCP.KeepAlive); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("tcp.keep_alive %q must be a duration", e.TCP.KeepAlive))
		}
	}
	if e.TCP.ReadBuffer < 0 || e.TCP.WriteBuffer < 0 {
		errs = append(errs, errors.New("tcp buffer sizes must not be negative"))
	}
	return errors.Join(errs...)
}

func writeErr(allErrors []error) error {
	if len(allErrors) == 0 {
		return nil
	}
	messages := make([]string, 0, len(allErrors))
	for _, err := range allErrors {
		messages = append(messages, err.Error())
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(messages, "\n  - "))
}

// IsEnabled defaults to true when the key is absent.
func (l Link) IsEnabled() bool { return l.Enabled == nil || *l.Enabled }

func (e Endpoint) IsEnabled() bool { return e.Enabled == nil || *e.Enabled }

func (f Filter) IsEnabled() bool { return f.Enabled == nil || *f.Enabled }

// Params returns the parameter pair in its textual form.
func (f Filter) Params() (string, string) {
	return f.Param1.String(), f.Param2.String()
}

// ReplaceAll reports the all flag, defaulting to true.
func (f Filter) ReplaceAll() bool { return f.All == nil || *f.All }

// TCPOptions converts the tcp block. TCP_NODELAY defaults to on.
func (e Endpoint) TCPOptions() netutil.TCPOptions {
	opts := netutil.TCPOptions{
		NoDelay:         e.TCP.NoDelay == nil || *e.TCP.NoDelay,
		ReadBufferSize:  e.TCP.ReadBuffer,
		WriteBufferSize: e.TCP.WriteBuffer,
	}
	if d, err := time.ParseDuration(e.TCP.KeepAlive); err == nil {
		opts.KeepAlive = d
	}
	return opts
}

// RestartDelayDuration returns the configured restart delay, or zero when
// unset.
func (e Endpoint) RestartDelayDuration() time.Duration {
	d, _ := time.ParseDuration(e.RestartDelay)
	return d
}
