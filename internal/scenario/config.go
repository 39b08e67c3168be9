// Package scenario loads a declarative YAML description of a network
// and drives internal/driver to build and run it, the config-driven
// equivalent of the Python source's ad hoc launch scripts
// (routertest.py, rsvpfulltest.py).
package scenario

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config is the top-level scenario description.
type Config struct {
	Name       string   `yaml:"name"`
	AreaID     string   `yaml:"area_id"`
	Seed       int64    `yaml:"seed"`
	RunUntilMs int64    `yaml:"run_until_ms"`
	Routers    []Router `yaml:"routers"`
	Links      []Link   `yaml:"links"`
	Isis       Isis     `yaml:"isis"`
	Rsvp       Rsvp     `yaml:"rsvp"`
	Static     []Static `yaml:"static_routes"`
	Pings      []Ping   `yaml:"pings"`
	Trace      *Trace   `yaml:"trace"`
}

// Router declares one device and the cluster it belongs to (for
// pattern-matched bulk operations like Isis.EnablePattern).
type Router struct {
	Hostname   string   `yaml:"hostname"`
	Cluster    string   `yaml:"cluster"`
	Interfaces []string `yaml:"interfaces"`
}

// Link connects two routers' first free physical interfaces. DownAtMs,
// if non-zero, schedules the link going Down at that simulation tick,
// modeling a mid-run failure for scenarios exercising IS-IS/RSVP
// reconvergence and FRR bypass activation.
type Link struct {
	A         string `yaml:"a"`
	B         string `yaml:"b"`
	LatencyMs int64  `yaml:"latency_ms"`
	TEMetric  int    `yaml:"te_metric"`
	DownAtMs  int64  `yaml:"down_at_ms"`
}

// Isis controls bulk IS-IS enablement/startup across clusters.
type Isis struct {
	EnablePattern string `yaml:"enable_pattern"`
	StartPattern  string `yaml:"start_pattern"`
}

// Rsvp controls bulk RSVP startup and the LSPs to signal once started.
type Rsvp struct {
	StartPattern string    `yaml:"start_pattern"`
	Sessions     []Session `yaml:"sessions"`
}

// Session is one explicit create_lsp call.
type Session struct {
	Router         string     `yaml:"router"`
	Name           string     `yaml:"name"`
	Dest           netip.Addr `yaml:"dest"`
	LinkProtection bool       `yaml:"link_protection"`
}

// Static is one static route to install.
type Static struct {
	Router    string       `yaml:"router"`
	Prefix    netip.Prefix `yaml:"prefix"`
	Interface string       `yaml:"interface"`
}

// Ping is one end-to-end reachability check to run.
type Ping struct {
	Router    string     `yaml:"router"`
	Dest      netip.Addr `yaml:"dest"`
	Count     int        `yaml:"count"`
	TimeoutMs int64      `yaml:"timeout_ms"`
}

// Trace enables per-device event tracing to disk. MaxSize bounds how
// large one device's trace file is allowed to grow (e.g. "50MB") before
// further events are dropped rather than risk filling the disk during a
// long or looping scenario.
type Trace struct {
	Dir      string            `yaml:"dir"`
	Compress bool              `yaml:"compress"`
	MaxSize  datasize.ByteSize `yaml:"max_size"`
}

// DefaultConfig returns a scenario with reasonable run-length and
// area-ID defaults, overridden by whatever the YAML file sets.
func DefaultConfig() *Config {
	return &Config{
		AreaID:     "49.0001",
		Seed:       1,
		RunUntilMs: 60_000,
	}
}

// LoadConfig reads and parses a scenario file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	return cfg, nil
}
