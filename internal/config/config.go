package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Addr                string   `yaml:"addr"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
		AdminAllowCIDRs     []string `yaml:"admin_allow_cidrs"`
	} `yaml:"server"`
	Network Network `yaml:"network"`
	Probe   Probe   `yaml:"probe"`
}

// Network describes the graph backend.
type Network struct {
	GraphPath string `yaml:"graph_path"`
	Chain     string `yaml:"chain"`
	Watch     bool   `yaml:"watch"`
	// AttemptLatencyMs delays each simulated hop.
	AttemptLatencyMs int `yaml:"attempt_latency_ms"`
}

type Probe struct {
	TimeoutMs      int    `yaml:"timeout_ms"`
	FinalCLTVDelta int    `yaml:"final_cltv_delta"`
	MaxRoutes      int    `yaml:"max_routes"`
	NodeExclusion  string `yaml:"node_exclusion"`
	MaxHops        int    `yaml:"max_hops"`
	Parallelism    int    `yaml:"parallelism"`

	// AttemptsPerSecond caps attempts across all sessions; zero is unlimited.
	AttemptsPerSecond float64 `yaml:"attempts_per_second"`
	AttemptBurst      int     `yaml:"attempt_burst"`
}

func (p Probe) Timeout() time.Duration { return time.Duration(p.TimeoutMs) * time.Millisecond }

func defaultConfig() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Pretty = false
	c.Server.Addr = ":9090"
	c.Server.ReadTimeoutSeconds = 5
	c.Server.WriteTimeoutSeconds = 0 // probe streams are long lived
	c.Server.IdleTimeoutSeconds = 60
	c.Server.AdminAllowCIDRs = []string{"127.0.0.0/8", "::1/128"}
	c.Network.GraphPath = "graph.json"
	c.Network.Chain = "regtest"
	c.Network.Watch = true
	c.Probe.TimeoutMs = 60_000
	c.Probe.FinalCLTVDelta = 40
	c.Probe.MaxRoutes = 1
	c.Probe.NodeExclusion = "node_failures"
	c.Probe.MaxHops = 20
	c.Probe.Parallelism = 4
	c.Probe.AttemptBurst = 1
	return c
}

// Load reads defaults, then the YAML file named by LNPROBE_CONFIG, then
// environment overrides, and validates the result.
func Load() (Config, error) {
	return LoadFrom(os.Getenv("LNPROBE_CONFIG"))
}

// LoadFrom is Load with an explicit file; an empty path skips the file.
func LoadFrom(path string) (Config, error) {
	c := defaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if v := os.Getenv("LNPROBE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LNPROBE_LOG_PRETTY"); v == "1" || v == "true" {
		c.Logging.Pretty = true
	}
	if v := os.Getenv("LNPROBE_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LNPROBE_ADMIN_ALLOW_CIDRS"); v != "" {
		c.Server.AdminAllowCIDRs = splitCSV(v)
	}
	if v := os.Getenv("LNPROBE_GRAPH_PATH"); v != "" {
		c.Network.GraphPath = v
	}
	if v := os.Getenv("LNPROBE_CHAIN"); v != "" {
		c.Network.Chain = v
	}
	if v := os.Getenv("LNPROBE_PROBE_TIMEOUT_MS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("LNPROBE_PROBE_TIMEOUT_MS: %w", err)
		}
		c.Probe.TimeoutMs = n
	}
	if v := os.Getenv("LNPROBE_NODE_EXCLUSION"); v != "" {
		c.Probe.NodeExclusion = v
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	return validation.Errors{
		"logging.level":              validation.Validate(strings.ToLower(c.Logging.Level), validation.In("trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled")),
		"server.addr":                validation.Validate(c.Server.Addr, validation.Required),
		"network.graph_path":         validation.Validate(c.Network.GraphPath, validation.Required),
		"network.chain":              validation.Validate(c.Network.Chain, validation.In("mainnet", "testnet", "signet", "regtest", "simnet")),
		"network.attempt_latency_ms": validation.Validate(c.Network.AttemptLatencyMs, validation.Min(0)),
		"probe.timeout_ms":           validation.Validate(c.Probe.TimeoutMs, validation.Min(0)),
		"probe.final_cltv_delta":     validation.Validate(c.Probe.FinalCLTVDelta, validation.Min(0), validation.Max(65535)),
		"probe.max_routes":           validation.Validate(c.Probe.MaxRoutes, validation.Required, validation.Min(1)),
		"probe.node_exclusion":       validation.Validate(c.Probe.NodeExclusion, validation.In("node_failures", "always", "never")),
		"probe.max_hops":             validation.Validate(c.Probe.MaxHops, validation.Required, validation.Min(1)),
		"probe.parallelism":          validation.Validate(c.Probe.Parallelism, validation.Required, validation.Min(1)),
		"probe.attempts_per_second":  validation.Validate(c.Probe.AttemptsPerSecond, validation.Min(0.0)),
		"probe.attempt_burst":        validation.Validate(c.Probe.AttemptBurst, validation.Required, validation.Min(1)),
	}.Filter()
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
